package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/graysql/internal/infrastructure/mqtt"
)

// requestTimeout bounds a single request received over MQTT.
const requestTimeout = 30 * time.Second

// requestQoS is the QoS used for the request subscription.
const requestQoS = 1

// Transport is the broker surface the MQTT server needs.
// *mqtt.Client implements it.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any) error
}

// Logger is the logging surface used by the MQTT server.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MQTTServer answers requests published on graysql/request/{command}/{id}
// with a Response on graysql/response/{id}.
type MQTTServer struct {
	dispatcher *Dispatcher
	transport  Transport
	logger     Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMQTTServer creates a server; call Start to subscribe.
func NewMQTTServer(dispatcher *Dispatcher, transport Transport) *MQTTServer {
	return &MQTTServer{
		dispatcher: dispatcher,
		transport:  transport,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for request tracing and publish failures.
func (s *MQTTServer) SetLogger(logger Logger) {
	s.logger = logger
}

// Start subscribes to the request topics. Requests in flight are cancelled
// when ctx is done or Stop is called.
func (s *MQTTServer) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.transport.Subscribe(mqtt.Topics{}.AllRequests(), requestQoS, s.handle); err != nil {
		s.Stop()
		return fmt.Errorf("subscribing to requests: %w", err)
	}
	return nil
}

// Stop unsubscribes and cancels in-flight requests.
func (s *MQTTServer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if err := s.transport.Unsubscribe(mqtt.Topics{}.AllRequests()); err != nil {
		s.logger.Warn("unsubscribing from requests", "error", err)
	}
}

func (s *MQTTServer) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *MQTTServer) handle(topic string, payload []byte) error {
	command, requestID, ok := mqtt.Topics{}.ParseRequest(topic)
	if !ok {
		return fmt.Errorf("%w: malformed request topic %q", ErrInvalidRequest, topic)
	}

	ctx, cancel := context.WithTimeout(s.baseContext(), requestTimeout)
	defer cancel()

	start := time.Now()
	resp := s.dispatcher.Handle(ctx, command, payload)
	resp.RequestID = requestID

	s.logger.Debug("mqtt request handled",
		"command", command,
		"request_id", requestID,
		"ok", resp.OK,
		"duration", time.Since(start),
	)

	if err := s.transport.PublishJSON(mqtt.Topics{}.Response(requestID), resp); err != nil {
		return fmt.Errorf("publishing response %s: %w", requestID, err)
	}
	return nil
}
