package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "medtrack/internal/runtime/supervisor"
	logx "medtrack/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

var errInsecureBind = errors.New("http: non-loopback addr requires a token or allow_insecure")

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// checkBind resolves the listen address. exposed reports an unauthenticated
// listener reachable from other hosts, which is refused unless AllowInsecure.
func (c ServerConfig) checkBind() (addr string, exposed bool, err error) {
	addr = strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	exposed = c.Token == "" && !isLoopbackAddr(addr)
	if exposed && !c.AllowInsecure {
		return addr, true, errInsecureBind
	}
	return addr, exposed, nil
}

// Server runs the API listener under its own supervisor, restarting it
// with backoff if it dies. Every (re)start rebuilds the handler from the
// current config.
type Server struct {
	build func(ServerConfig) http.Handler
	log   logx.Logger

	bound     chan struct{}
	boundOnce sync.Once

	mu  sync.Mutex
	cfg ServerConfig
	sup *rtsup.Supervisor
	srv *http.Server
	ln  net.Listener
	// stopping is non-nil while Stop drains the current run.
	stopping chan struct{}
}

func NewServer(cfg ServerConfig, build func(ServerConfig) http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{build: build, log: log, cfg: cfg, bound: make(chan struct{})}
}

// Supervisor is nil while the server is stopped.
func (s *Server) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Addr is the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Bound is closed once the first listener is up.
func (s *Server) Bound() <-chan struct{} { return s.bound }

// Reconfigure stores cfg, then stops a running listener if cfg disables or
// changes it and starts one if cfg enables it.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) {
	s.mu.Lock()
	changed := s.cfg != cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	if running && (changed || !cfg.Enabled) {
		s.Stop(ctx)
	}
	if cfg.Enabled {
		s.Start(ctx)
	}
}

// Start is a no-op when already running or disabled. An in-flight Stop is
// waited for first.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	pending := s.stopping
	s.mu.Unlock()
	if pending != nil {
		select {
		case <-pending:
		case <-ctx.Done():
			return
		}
	}

	s.mu.Lock()
	if s.sup != nil || s.stopping != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup = sup
	s.mu.Unlock()

	sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the listener down gracefully. If ctx ends first the
// supervisor is canceled and draining finishes in the background.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv, done := s.sup, s.srv, s.stopping
	if sup != nil && done == nil {
		done = make(chan struct{})
		s.stopping = done
		go s.drain(ctx, sup, srv, done)
	}
	s.mu.Unlock()
	if done == nil {
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Server) drain(ctx context.Context, sup *rtsup.Supervisor, srv *http.Server, done chan struct{}) {
	defer close(done)
	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	sup.Cancel()
	_ = sup.Wait(context.Background())

	s.mu.Lock()
	s.sup, s.srv, s.ln, s.stopping = nil, nil, nil, nil
	s.mu.Unlock()
	s.log.Info("http stopped")
}

// serveOnce is one supervised run of the listener.
func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return context.Canceled
	}

	addr, exposed, err := cfg.checkBind()
	if err != nil {
		s.log.Error("http refused to start", logx.String("addr", addr), logx.Err(err))
		return err
	}
	if exposed {
		s.log.Warn("http listening without a token on a non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.build(cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()
	s.boundOnce.Do(func() { close(s.bound) })

	defer context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})()

	s.log.Info("http started",
		logx.String("addr", ln.Addr().String()),
		logx.Redacted("token", cfg.Token),
		logx.Bool("pprof", cfg.Pprof),
	)
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.ln = nil, nil
	}
	stopping := s.stopping != nil
	s.mu.Unlock()

	switch {
	case stopping || ctx.Err() != nil:
		return context.Canceled
	case errors.Is(err, http.ErrServerClosed):
		return errors.New("http server closed unexpectedly")
	}
	return err
}

// isLoopbackAddr is false for an empty host, which binds every interface.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch host = strings.TrimSpace(host); {
	case host == "":
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
