// Package pprof exposes Go's profiling endpoints on a small optional
// HTTP server.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "hourkeep/internal/runtime/supervisor"
	logx "hourkeep/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

// Config controls the profiling server. A non-loopback Addr requires
// either a Token or AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration // keep 0 so /profile (30s+) is not cut off
	IdleTimeout  time.Duration
}

// Service starts and stops listen/serve instances. Each instance is
// immutable once started; Reconfigure replaces it rather than mutating
// a live server.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	run *instance
}

type instance struct {
	sup *rtsup.Supervisor

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start is idempotent; it does nothing while an instance is running or
// when the config disables the server.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil || !s.cfg.Enabled {
		return
	}

	cfg := s.cfg
	log := s.log
	inst := &instance{}
	inst.sup = rtsup.New(ctx,
		rtsup.WithLogger(log.With(logx.String("comp", "pprof"))),
		// Profiling must never take the app down.
		rtsup.WithCancelOnError(false),
	)
	inst.sup.GoRestart("http.serve", func(c context.Context) error {
		return inst.serve(c, cfg, log)
	})
	s.run = inst
}

// Stop shuts the current instance down, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	inst := s.run
	s.run = nil
	s.mu.Unlock()
	if inst == nil {
		return
	}
	inst.shutdown(ctx)
	s.log.Info("pprof stopped")
}

// Reconfigure applies cfg, restarting the server when any field
// changed. Safe to call during hot reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.run != nil
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (inst *instance) shutdown(ctx context.Context) {
	inst.sup.Cancel()

	inst.mu.Lock()
	srv, ln := inst.srv, inst.ln
	inst.srv, inst.ln = nil, nil
	inst.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	_ = inst.sup.Wait(ctx)
}

// serve runs one listen/serve cycle. The supervisor restarts it with
// backoff when it fails, so a lost listener self-heals.
func (inst *instance) serve(ctx context.Context, cfg Config, log logx.Logger) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}

	if !isLoopbackAddr(addr) && cfg.Token == "" {
		if !cfg.AllowInsecure {
			log.Error("pprof refused non-loopback bind without token", logx.String("addr", addr))
			return errors.New("pprof: non-loopback addr requires token or allow_insecure")
		}
		log.Warn("pprof bound to non-loopback addr without token", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		log.Error("pprof listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      buildHandler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	inst.mu.Lock()
	inst.srv = srv
	inst.ln = ln
	inst.mu.Unlock()

	go func() {
		<-ctx.Done()
		// Bounded; Stop(ctx) owns the real graceful shutdown.
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	prefix := normalizePrefix(cfg.Prefix)
	log.Info("pprof listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", prefix),
		logx.Bool("token_set", cfg.Token != ""),
		logx.String("url", fmt.Sprintf("http://%s%s", ln.Addr(), prefix)),
	)

	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return context.Canceled
	}
	if err == nil {
		return errors.New("pprof server exited unexpectedly")
	}
	return err
}

// buildHandler mounts the pprof endpoints under the configured prefix,
// wrapped with token auth when a token is set.
func buildHandler(cfg Config) http.Handler {
	prefix := normalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	mux := http.NewServeMux()

	wrap := func(h http.HandlerFunc) http.HandlerFunc { return requireToken(cfg.Token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	mux.HandleFunc(prefix, wrap(indexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=.
func requireToken(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("token"); q != "" {
			if q == tok {
				h(w, r)
				return
			}
		} else if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
			if strings.TrimSpace(strings.TrimPrefix(ah, "Bearer ")) == tok {
				h(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		return "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// hpprof.Index only understands paths rooted at /debug/pprof/; rewrite
// the request so custom prefixes work.
func indexAt(prefix string) http.HandlerFunc {
	canon := normalizePrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		// Empty host binds every interface.
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
