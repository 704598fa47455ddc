package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/graysql/internal/infrastructure/config"
)

// testConfig targets a local dev Mosquitto at 127.0.0.1:1883.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the dev broker, skipping the test when none is
// running unless RUN_INTEGRATION is set.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := Connect(ctx, testConfig(clientID))
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") == "" {
			t.Skip("MQTT broker not available, skipping integration test")
		}
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// disconnected returns a client that never dialled a broker.
func disconnected() *Client {
	return &Client{cfg: testConfig("graysql-test"), subscriptions: make(map[string]subscription)}
}

// =============================================================================
// Topics
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Request", topics.Request("select", "req-1"), "graysql/request/select/req-1"},
		{"Response", topics.Response("req-1"), "graysql/response/req-1"},
		{"SystemStatus", topics.SystemStatus(), "graysql/system/status"},
		{"AllRequests", topics.AllRequests(), "graysql/request/+/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		topic       string
		wantCommand string
		wantID      string
		wantOK      bool
	}{
		{"graysql/request/execute/abc", "execute", "abc", true},
		{Topics{}.Request("load", "r-9"), "load", "r-9", true},
		{"graysql/response/abc", "", "", false},
		{"graysql/request/execute", "", "", false},
		{"graysql/request/execute/abc/extra", "", "", false},
		{"other/request/execute/abc", "", "", false},
		{"graysql/request//abc", "", "", false},
		{"graysql/request/execute/", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			command, id, ok := Topics{}.ParseRequest(tt.topic)
			if command != tt.wantCommand || id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ParseRequest(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, command, id, ok, tt.wantCommand, tt.wantID, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Options
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("graysql-opts")
	cfg.Auth = config.MQTTAuthConfig{Username: "user", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "graysql-opts" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "user" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("AutoReconnect = %v, CleanSession = %v, want both true", opts.AutoReconnect, opts.CleanSession)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v, want MinVersion TLS1.2", opts.TLSConfig)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, "graysql-lwt")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatalf("WillEnabled = %v, WillRetained = %v", opts.WillEnabled, opts.WillRetained)
	}
	if opts.WillTopic != "graysql/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var status statusPayload
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if status.Status != statusOffline || status.Reason != reasonUnexpected || status.ClientID != "graysql-lwt" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var status statusPayload
	if err := json.Unmarshal(buildStatusPayload(statusOnline, `id"with"quotes`, ""), &status); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if status.Status != statusOnline || status.ClientID != `id"with"quotes` {
		t.Errorf("payload = %+v", status)
	}
	if _, err := time.Parse(time.RFC3339, status.Timestamp); err != nil {
		t.Errorf("Timestamp %q not RFC3339: %v", status.Timestamp, err)
	}
}

// =============================================================================
// Validation without a broker
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	c := disconnected()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "graysql/x", nil, 3, ErrInvalidQoS},
		{"oversized", "graysql/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "graysql/x", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishJSON_Unencodable(t *testing.T) {
	err := disconnected().PublishJSON("graysql/x", make(chan int))
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnected()
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, handler, ErrInvalidTopic},
		{"invalid qos", "graysql/x", 3, handler, ErrInvalidQoS},
		{"nil handler", "graysql/x", 1, nil, ErrSubscribeFailed},
		{"not connected", "graysql/x", 1, handler, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes, want 0", c.SubscriptionCount())
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := disconnected()
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("graysql/x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestDisconnectedClient(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if nilClient.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}

	c := disconnected()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
	if c.HasSubscription("graysql/x") {
		t.Error("HasSubscription() = true on fresh client")
	}
}

// =============================================================================
// Handler wrapping
// =============================================================================

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestWrapHandler(t *testing.T) {
	c := disconnected()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	msg := fakeMessage{topic: "graysql/request/status/1", payload: []byte("{}")}

	var gotTopic string
	c.wrapHandler(func(topic string, _ []byte) error {
		gotTopic = topic
		return nil
	})(nil, msg)
	if gotTopic != msg.topic {
		t.Errorf("handler topic = %q, want %q", gotTopic, msg.topic)
	}

	c.wrapHandler(func(string, []byte) error {
		return errors.New("boom")
	})(nil, msg)

	c.wrapHandler(func(string, []byte) error {
		panic("handler exploded")
	})(nil, msg)

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one handler error", logger.warns)
	}
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want one recovered panic", logger.errors)
	}
}

// =============================================================================
// Broker integration
// =============================================================================

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig("graysql-refused")
	cfg.Broker.Port = 19999

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Connect(ctx, cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t, "graysql-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestRequestResponseRoundtrip(t *testing.T) {
	server := connectOrSkip(t, "graysql-test-server")
	caller := connectOrSkip(t, "graysql-test-caller")

	requestID := fmt.Sprintf("rt-%d", time.Now().UnixNano())

	err := server.Subscribe(Topics{}.AllRequests(), 1, func(topic string, payload []byte) error {
		_, id, ok := Topics{}.ParseRequest(topic)
		if !ok {
			return fmt.Errorf("unexpected topic %q", topic)
		}
		return server.PublishJSON(Topics{}.Response(id), map[string]string{"echo": string(payload)})
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	received := make(chan []byte, 1)
	if err := caller.Subscribe(Topics{}.Response(requestID), 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe(response) error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := caller.Publish(Topics{}.Request("status", requestID), []byte("ping"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"echo":"ping"}` {
			t.Errorf("response = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for response")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	client := connectOrSkip(t, "graysql-test-subs")
	handler := func(string, []byte) error { return nil }

	topics := []string{"graysql/test/a", "graysql/test/b", Topics{}.AllRequests()}
	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(topics))
	}

	if err := client.Unsubscribe("graysql/test/a"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription("graysql/test/a") {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
	if !client.HasSubscription("graysql/test/b") {
		t.Error("HasSubscription(b) = false, want true")
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t, "graysql-test-close")

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.Publish("graysql/test/closed", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}
