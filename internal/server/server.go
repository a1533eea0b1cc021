package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/executor/internal/event"
	"github.com/opencode-ai/executor/internal/executor"
	"github.com/opencode-ai/executor/internal/logging"
	"github.com/opencode-ai/executor/internal/session"
	"github.com/opencode-ai/executor/pkg/transport"
	"github.com/opencode-ai/executor/pkg/types"
)

const shutdownTimeout = 5 * time.Second

// Server binds the listen address, upgrades incoming connections to
// WebSocket and starts one session per connection.
type Server struct {
	config     types.ServerConfig
	exec       executor.Executor
	dispatcher session.Dispatcher
	bus        *event.Bus
	pool       *session.Pool
	router     *chi.Mux
	upgrader   websocket.Upgrader
	log        zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	baseCtx  context.Context
	started  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithBus publishes lifecycle events on bus.
func WithBus(bus *event.Bus) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithPool runs sessions in pool instead of a private one. Serve closes
// the pool when it shuts down.
func WithPool(pool *session.Pool) Option {
	return func(s *Server) {
		s.pool = pool
	}
}

// WithListener serves on an already bound listener. Listen then does not
// bind again.
func WithListener(l net.Listener) Option {
	return func(s *Server) {
		s.listener = l
	}
}

// New creates a server. exec must be a built execution context; every
// session gets a handle on it.
func New(cfg types.ServerConfig, exec executor.Executor, d session.Dispatcher, opts ...Option) *Server {
	s := &Server{
		config:     cfg,
		exec:       exec,
		dispatcher: d,
		router:     chi.NewRouter(),
		log:        logging.Component("server"),
		baseCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = session.NewPool(s.bus)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.HandshakeTimeoutDuration(),
		CheckOrigin:      s.checkOrigin,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Listen binds the configured address. It must succeed before Serve.
func (s *Server) Listen() error {
	s.mu.Lock()
	if s.listener == nil {
		addr := s.config.Addr()
		l, err := net.Listen("tcp", addr)
		if err != nil {
			s.mu.Unlock()
			return &BindError{Addr: addr, Err: err}
		}
		s.listener = l
	}
	addr := s.listener.Addr().String()
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Msg("listening")
	s.publish(event.ListenerBound, event.ListenerBoundData{Addr: addr})
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done or the listener fails. A
// listener failure is returned as an *AcceptError. On cancellation the HTTP
// server is shut down and Serve waits for live sessions to end. Sessions
// run with ctx and are never awaited by the accept loop.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	if l == nil {
		s.mu.Unlock()
		return errors.New("server: Serve called before Listen")
	}
	s.baseCtx = ctx
	s.started = time.Now()
	watch := &connWatch{reject: s.reject}
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.HandshakeTimeoutDuration(),
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ConnContext:       watch.connContext,
		ConnState:         watch.connState,
		ErrorLog:          newHTTPErrorLog(s.log),
	}
	srv := s.httpSrv
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Serve(fatalAcceptListener{l})
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		var af *acceptFailure
		if errors.As(err, &af) {
			err = af.err
		}
		return &AcceptError{Addr: l.Addr().String(), Err: err}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("shutdown")
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		s.log.Error().Err(err).Msg("accept loop stopped")
		return err
	}

	s.log.Info().Int("sessions", s.pool.Active()).Msg("shutting down, waiting for sessions")
	s.pool.Close()
	s.pool.Wait()
	return nil
}

// Pool returns the session pool.
func (s *Server) Pool() *session.Pool {
	return s.pool
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// handleUpgrade turns the request into a session. It returns as soon as the
// session is started.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.reject(r.RemoteAddr, err)
		return
	}

	t := transport.NewSocket(conn, transport.SocketOptions{
		WriteTimeout: s.config.WriteTimeoutDuration(),
		ReadLimit:    s.config.MaxMessageSize,
	})

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	sess := session.New(t, s.exec.Handle(), s.dispatcher)
	select {
	case err := <-s.pool.Go(ctx, sess):
		if errors.Is(err, session.ErrPoolClosed) {
			s.log.Debug().Str("remote", r.RemoteAddr).Msg("connection arrived during shutdown")
		}
	default:
	}
}

// checkOrigin accepts requests without an Origin header and, when an allow
// list is configured, origins whose URL or host matches one of its globs.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}
	for _, pattern := range s.config.AllowedOrigins {
		if pattern == "*" {
			return true
		}
		if ok, _ := doublestar.Match(pattern, origin); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

// reject logs a failed handshake and reports it on the bus. Only the
// offending connection is affected.
func (s *Server) reject(remote string, err error) {
	herr := &HandshakeError{Remote: remote, Err: err}
	s.log.Warn().Err(herr).Str("remote", remote).Msg("handshake failed")
	s.publish(event.ConnectionRejected, event.ConnectionRejectedData{
		Remote: remote,
		Reason: err.Error(),
	})
}

func (s *Server) publish(t event.EventType, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(t, data); err != nil {
		s.log.Debug().Err(err).Str("event", string(t)).Msg("publish")
	}
}

// fatalAcceptListener reports every Accept failure as non-temporary, so
// http.Server.Serve returns it instead of sleeping and retrying.
type fatalAcceptListener struct {
	net.Listener
}

func (l fatalAcceptListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, &acceptFailure{err: err}
	}
	return conn, nil
}

type acceptFailure struct {
	err error
}

func (e *acceptFailure) Error() string { return e.err.Error() }
func (e *acceptFailure) Unwrap() error { return e.err }
