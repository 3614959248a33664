package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "postwatch/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9090"

var errNoHealth = errors.New("health source not configured")

// HealthFunc returns the sections of the /health body, keyed by name.
type HealthFunc func() map[string]any

type Server struct {
	addr   string
	log    logx.Logger
	col    *Collectors
	health HealthFunc
	pprof  bool
}

func NewServer(addr string, col *Collectors, health HealthFunc, log logx.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{addr: addr, log: log.With(logx.String("comp", "metrics")), col: col, health: health}
}

// EnableProfiling mounts net/http/pprof under /debug/pprof/. Call before Run.
func (s *Server) EnableProfiling() { s.pprof = true }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.col.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.healthHandler)
	if s.pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.health == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": errNoHealth.Error()})
		return
	}
	body := s.health()
	if body == nil {
		body = map[string]any{}
	}
	body["status"] = "ok"
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// Run serves until ctx is done, then shuts down within 5s.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	writeTimeout := 10 * time.Second
	if s.pprof {
		// CPU profiles stream for 30s by default.
		writeTimeout = 60 * time.Second
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("metrics server listening", logx.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("metrics server shutdown", logx.Err(err))
		return err
	}
	s.log.Info("metrics server stopped")
	return nil
}
