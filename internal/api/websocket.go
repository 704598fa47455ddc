package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/graysql/internal/command"
	"github.com/nerrad567/graysql/internal/infrastructure/config"
)

// WebSocket frame types.
const (
	wsTypeCommand  = "command"
	wsTypeResponse = "response"
	wsTypePing     = "ping"
	wsTypePong     = "pong"

	// wsSendBufferSize is the per-client outbound frame buffer.
	wsSendBufferSize = 64

	// wsCommandTimeout bounds one command, matching the MQTT transport.
	wsCommandTimeout = 30 * time.Second

	wsCloseGrace = time.Second
)

// wsDefaults fills unset limits so a zero config still yields a working
// channel.
func wsDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = maxRequestBodySize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return cfg
}

// wsMessage is one frame on the command channel.
//
//	-> {"type":"command","id":"1","command":"select","payload":{...}}
//	<- {"type":"response","id":"1","response":{"request_id":"1","ok":true,...}}
type wsMessage struct {
	Type     string            `json:"type"`
	ID       string            `json:"id,omitempty"`
	Command  string            `json:"command,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Response *command.Response `json:"response,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers are authenticated by bearer token before the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// hub tracks open command channels. Hijacked connections are invisible to
// http.Server.Shutdown, so Close uses the hub to end them.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*wsClient]struct{})}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		done: make(chan struct{}),
	}
}

// close sends a going-away frame and drops the connection. The read loop
// then fails and the write loop observes done.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		//nolint:errcheck // Best-effort close frame
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(wsCloseGrace))
		c.conn.Close()
	})
}

// enqueue blocks until the frame is queued or the client is gone.
func (c *wsClient) enqueue(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			//nolint:errcheck // Write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// handleWebSocket upgrades to a command channel. The read loop runs on the
// request goroutine so commands inherit the server's base context.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	s.hub.register(client)
	s.logger.Debug("websocket client connected",
		"clients", s.hub.count(),
		"subject", subjectFrom(r.Context()),
	)

	go client.writePump(s.wsCfg)
	s.readPump(r.Context(), client)

	s.hub.unregister(client)
	client.inflight.Wait()
	s.logger.Debug("websocket client disconnected", "clients", s.hub.count())
}

func (s *Server) readPump(ctx context.Context, c *wsClient) {
	cfg := s.wsCfg
	readWait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on setup
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(readWait))

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(wsErrorFrame("", "invalid JSON frame"))
			continue
		}

		switch msg.Type {
		case wsTypePing:
			c.enqueue(wsMessage{Type: wsTypePong, ID: msg.ID})
		case wsTypeCommand:
			// Commands run concurrently; replies are matched by id.
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				cmdCtx, cancel := context.WithTimeout(ctx, wsCommandTimeout)
				defer cancel()

				resp := s.dispatcher.Handle(cmdCtx, msg.Command, msg.Payload)
				resp.RequestID = msg.ID
				c.enqueue(wsMessage{Type: wsTypeResponse, ID: msg.ID, Response: &resp})
			}()
		default:
			c.enqueue(wsErrorFrame(msg.ID, "unknown frame type: "+msg.Type))
		}
	}
}

func wsErrorFrame(id, message string) wsMessage {
	return wsMessage{
		Type: wsTypeResponse,
		ID:   id,
		Response: &command.Response{
			RequestID: id,
			Error: &command.ErrorBody{
				Kind:    command.KindInvalidRequest,
				Message: message,
			},
		},
	}
}
