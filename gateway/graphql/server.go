package graphql

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gorilla/websocket"

	"github.com/patseev/caliban/engine"
	"github.com/patseev/caliban/errors"
	"github.com/patseev/caliban/metric"
)

// Server serves the GraphQL endpoint: stateless single-shot execution over
// plain HTTP and the graphql-ws subscription protocol over WebSocket, both
// on the same path.
type Server struct {
	config     Config
	engine     engine.Engine
	opts       engine.Options
	logger     *slog.Logger
	metrics    *metrics
	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux

	// sessionCtx is the parent of every socket session; canceling it
	// tears down all live connections.
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	sessions      sync.WaitGroup

	running  bool
	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewServer creates a GraphQL gateway server. The metrics registry may be
// nil, in which case no metrics are recorded.
func NewServer(config Config, eng engine.Engine, logger *slog.Logger, registry *metric.MetricsRegistry) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Server", "NewServer", "config validation")
	}

	if eng == nil {
		return nil, errors.WrapFatal(fmt.Errorf("engine is nil"), "Server", "NewServer",
			"execution engine is required")
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	sessionCtx, sessionCancel := context.WithCancel(context.Background())

	s := &Server{
		config: config,
		engine: eng,
		opts: engine.Options{
			SkipValidation:      config.SkipValidation,
			EnableIntrospection: config.EnableIntrospection,
		},
		logger:        logger,
		metrics:       newMetrics(registry),
		mux:           http.NewServeMux(),
		sessionCtx:    sessionCtx,
		sessionCancel: sessionCancel,
		stopChan:      make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{Subprotocol},
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Setup configures the HTTP routes. Must be called before Start.
func (s *Server) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc(s.config.Path, s.handleEndpoint)

	if s.config.EnablePlayground {
		s.mux.Handle("/playground", playground.Handler("GraphQL Playground", s.config.Path))
		s.logger.Info("playground enabled",
			"url", fmt.Sprintf("http://%s/playground", s.config.BindAddress))
	}

	var handler http.Handler = s.mux
	if s.config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	// No Read/WriteTimeout here: they would apply to the initial
	// WebSocket handshake bytes as well. The upgrader clears conn
	// deadlines after the hijack; single-shot execution is bounded by
	// the per-request timeout instead.
	s.httpServer = &http.Server{
		Addr:              s.config.BindAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("server configured",
		"address", s.config.BindAddress,
		"path", s.config.Path,
		"keep_alive", s.config.KeepAlive())

	return nil
}

// Start runs the HTTP server. The ready channel, if non-nil, is closed when
// the server is about to accept connections. Start blocks until the context
// is canceled, Stop is called, or the server fails.
func (s *Server) Start(ctx context.Context, ready chan<- struct{}) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "server already running")
	}
	if s.httpServer == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("setup not called"), "Server", "Start",
			"Setup must run before Start")
	}
	s.running = true
	server := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		s.logger.Info("server starting", "address", s.config.BindAddress)

		if ready != nil {
			close(ready)
		}

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
			select {
			case errChan <- err:
			case <-ctx.Done():
			case <-s.stopChan:
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server context canceled, shutting down")
		return s.Stop(30 * time.Second)

	case <-s.stopChan:
		s.logger.Info("server stop requested")
		return nil

	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", "HTTP server failed")
	}
}

// Stop shuts the server down: live socket sessions are torn down first,
// then the HTTP listener drains within the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	server := s.httpServer
	s.mu.Unlock()

	s.logger.Info("server stopping")

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	// Shutdown does not touch hijacked connections; sessions close
	// their own sockets when their parent context goes.
	s.sessionCancel()
	s.sessions.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		s.logger.Error("graceful shutdown failed", "error", err)
		return errors.WrapTransient(err, "Server", "Stop", "graceful shutdown failed")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("server stopped")
	return nil
}

// handleEndpoint routes the shared path: upgrade requests become socket
// sessions, everything else goes down the single-shot path.
func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleSocket(w, r)
		return
	}
	s.serveHTTP(w, r)
}

// handleSocket upgrades the connection and services it until it closes. The
// handler blocks for the connection's lifetime, which keeps the http.Server
// connection accounting accurate.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		s.metrics.errored("upgrade")
		return
	}

	sess := newSession(conn, s.engine, s.opts, s.config.KeepAlive(), s.logger, s.metrics)

	s.sessions.Add(1)
	defer s.sessions.Done()
	sess.run(s.sessionCtx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// checkOrigin applies the CORS origin list to WebSocket upgrades. With CORS
// disabled every origin is accepted; the gateway is expected to sit behind
// an ingress that enforces origin policy.
func (s *Server) checkOrigin(r *http.Request) bool {
	if !s.config.EnableCORS || len(s.config.CORSOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := len(s.config.CORSOrigins) == 0
		for _, allowedOrigin := range s.config.CORSOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
