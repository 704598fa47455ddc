package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/graysql/internal/command"
	"github.com/nerrad567/graysql/internal/infrastructure/config"
	"github.com/nerrad567/graysql/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by dependencies reported on /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config     config.APIConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Dispatcher *command.Dispatcher

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Checks are reported by name on the health endpoint.
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP front end of the command dispatcher.
type Server struct {
	cfg        config.APIConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	dispatcher *command.Dispatcher
	gatherer   prometheus.Gatherer
	checks     map[string]HealthChecker
	version    string

	wsCfg config.WebSocketConfig
	hub   *hub

	handler http.Handler
	server  *http.Server
	addr    net.Addr
}

// New validates deps and builds the router. Call Start to listen.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	s := &Server{
		cfg:        deps.Config,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		gatherer:   deps.Gatherer,
		checks:     deps.Checks,
		version:    deps.Version,
		wsCfg:      wsDefaults(deps.Config.WebSocket),
		hub:        newHub(),
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background. Binding errors
// such as a port already in use are returned directly.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.addr = ln.Addr()

	s.server = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.addr.String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.addr.String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close waits up to gracefulShutdownTimeout for in-flight requests, then
// closes the listener.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	s.hub.closeAll()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is listening.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
