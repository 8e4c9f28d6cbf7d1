package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-session/internal/audit"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-session/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the part of *session.Session the API drives.
type Session interface {
	ClientID() string
	State() session.State
	Publish(topic string, payload []byte, qos byte, retain bool) (uint16, error)
	SubscribeMultiple(filters ...session.Filter) (uint16, error)
	Unsubscribe(topic string) (uint16, error)
}

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Session Session

	// Hub, if set, is used instead of a server-owned one. Share it when the
	// hub must be installed as a session observer before the server starts.
	Hub *Hub

	// Checks are reported by /health under their map key.
	Checks map[string]HealthCheck

	// Audit, if set, records control requests and serves /audit.
	Audit audit.Repository

	Version string

	// EngineVersion names the MQTT library serving the session.
	EngineVersion string
}

// Server is the HTTP control API server.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	sess    Session
	hub     *Hub
	checks  map[string]HealthCheck
	audit   audit.Repository
	version string
	engine  string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if deps.Config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		sess:    deps.Session,
		hub:     hub,
		checks:  deps.Checks,
		audit:   deps.Audit,
		version: deps.Version,
		engine:  deps.EngineVersion,
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine. Binding
// errors (port in use, permission) are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
