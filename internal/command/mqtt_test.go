package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/graysql/internal/infrastructure/mqtt"
)

// fakeTransport records subscriptions and published responses in memory.
type fakeTransport struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	published    map[string][]byte
	subscribeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers:  make(map[string]mqtt.MessageHandler),
		published: make(map[string][]byte),
	}
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.mu.Lock()
	f.handlers[topic] = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	delete(f.handlers, topic)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.published[topic] = data
	f.mu.Unlock()
	return nil
}

// deliver simulates the broker routing a request to the server.
func (f *fakeTransport) deliver(t *testing.T, command, requestID, payload string) error {
	t.Helper()
	f.mu.Lock()
	handler := f.handlers[mqtt.Topics{}.AllRequests()]
	f.mu.Unlock()
	if handler == nil {
		t.Fatal("no request subscription")
	}
	return handler(mqtt.Topics{}.Request(command, requestID), []byte(payload))
}

func (f *fakeTransport) response(t *testing.T, requestID string) map[string]any {
	t.Helper()
	f.mu.Lock()
	data, ok := f.published[mqtt.Topics{}.Response(requestID)]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no response published for %s", requestID)
	}
	var resp map[string]any
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return resp
}

func TestMQTTServer_RequestResponse(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	transport := newFakeTransport()
	server := NewMQTTServer(d, transport)

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(server.Stop)

	if err := transport.deliver(t, Load, "r1", `{"db_url":"sqlite:bus.db"}`); err != nil {
		t.Fatalf("load handler error = %v", err)
	}
	resp := transport.response(t, "r1")
	if resp["ok"] != true || resp["result"] != "sqlite:bus.db" || resp["request_id"] != "r1" {
		t.Errorf("load response = %v", resp)
	}

	if err := transport.deliver(t, Select, "r2", `{"db":"sqlite:bus.db","query":"SELECT 1 AS x"}`); err != nil {
		t.Fatalf("select handler error = %v", err)
	}
	resp = transport.response(t, "r2")
	rows, ok := resp["result"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("select result = %v", resp["result"])
	}
	if row := rows[0].(map[string]any); row["x"] != float64(1) {
		t.Errorf("row = %v, want x=1", row)
	}

	if err := transport.deliver(t, Execute, "r3", `{"db":"sqlite:nope.db","query":"SELECT 1"}`); err != nil {
		t.Fatalf("execute handler error = %v", err)
	}
	resp = transport.response(t, "r3")
	errBody, _ := resp["error"].(map[string]any)
	if resp["ok"] != false || errBody["kind"] != "DatabaseNotLoaded" {
		t.Errorf("execute response = %v, want DatabaseNotLoaded", resp)
	}
}

func TestMQTTServer_MalformedTopic(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	server := NewMQTTServer(d, newFakeTransport())

	err := server.handle("graysql/request/only-command", nil)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("handle() error = %v, want ErrInvalidRequest", err)
	}
}

func TestMQTTServer_StartSubscribeFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	transport := newFakeTransport()
	transport.subscribeErr = mqtt.ErrNotConnected

	err := NewMQTTServer(d, transport).Start(context.Background())
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Start() error = %v, want ErrNotConnected", err)
	}
}

func TestMQTTServer_Stop(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	transport := newFakeTransport()
	server := NewMQTTServer(d, transport)

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	server.Stop()
	server.Stop()

	if len(transport.handlers) != 0 {
		t.Errorf("handlers = %d after Stop, want 0", len(transport.handlers))
	}
}
