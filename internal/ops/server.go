// Package ops serves the operations endpoints: Prometheus metrics, a health
// report and net/http/pprof.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"igmonitor/internal/runtime/supervisor"
	logx "igmonitor/pkg/logx"
)

// Config controls the server. A non-loopback Addr requires Token or AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Pprof         bool
	Token         string
	AllowInsecure bool
}

// HealthFunc reports component health; ok=false turns /healthz into a 503.
type HealthFunc func(ctx context.Context) (ok bool, detail any)

type Server struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	gather prometheus.Gatherer
	health HealthFunc

	sup  *supervisor.Supervisor
	addr string
}

func New(cfg Config, gather prometheus.Gatherer, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gather == nil {
		gather = prometheus.NewRegistry()
	}
	return &Server{cfg: cfg, gather: gather, health: health, log: log.With(logx.String("comp", "ops"))}
}

// Addr is the bound listen address, empty when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg, restarting the listener when needed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev, running := s.cfg, s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent. The listener runs under a restart loop.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce,
		supervisor.WithPublishFirstError(true),
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("ops server stopped")
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = "127.0.0.1:9310"
	}
	if cur.Token == "" && !cur.AllowInsecure && !isLoopbackAddr(addr) {
		s.log.Error("ops server refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		return errors.New("ops: insecure bind")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(cur),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.addr = ""
		s.mu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("ops server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", cur.Pprof), logx.Bool("token_set", cur.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ops server exited unexpectedly")
	}
	return err
}

// Handler builds the mux for cfg.
func (s *Server) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.Handler) http.Handler { return withAuth(cfg.Token, h) }

	mux.Handle("/metrics", auth(promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{})))
	mux.Handle("/healthz", auth(http.HandlerFunc(s.serveHealth)))
	if cfg.Pprof {
		mux.Handle("/debug/pprof/", auth(http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", auth(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", auth(http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", auth(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", auth(http.HandlerFunc(hpprof.Trace)))
	}
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	ok, detail := true, any(nil)
	if s.health != nil {
		ok, detail = s.health(r.Context())
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": ok, "detail": detail})
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
