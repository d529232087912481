// Package monitor serves the operator-facing HTTP endpoints: health,
// Prometheus metrics, a live WebSocket pose feed, the tsweb debug pages
// and a gRPC health service.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/holotrack/internal/httputil"
	"github.com/banshee-data/holotrack/internal/monitoring"
)

// Options configure a Server. Nil fields disable the matching endpoint.
type Options struct {
	Gatherer prometheus.Gatherer
	Hub      *Hub
	History  *History
	// Status returns a JSON-encodable snapshot for /api/status.
	Status func() any
}

// Server is the debug HTTP server.
type Server struct {
	opts     Options
	router   chi.Router
	debugMux *http.ServeMux

	mu  sync.Mutex
	srv *http.Server
	lis net.Listener
}

func NewServer(opts Options) *Server {
	s := &Server{opts: opts, debugMux: http.NewServeMux()}

	debug := tsweb.Debugger(s.debugMux)
	if opts.History != nil {
		debug.Handle("charts/translation", "Delta pose translation chart", TranslationChart(opts.History))
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Hub != nil {
		r.Handle("/ws/poses", opts.Hub)
	}
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/poses/latest", s.handleLatest)
	r.Mount("/debug", s.debugMux)

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// DebugMux is the mux behind /debug/. Other packages attach their admin
// routes to it before Start.
func (s *Server) DebugMux() *http.ServeMux { return s.debugMux }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body any = map[string]string{"status": "ok"}
	if s.opts.Status != nil {
		body = s.opts.Status()
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		httputil.NotFound(w, "pose history disabled")
		return
	}
	sample, ok := s.opts.History.Latest()
	if !ok {
		httputil.NotFound(w, "no poses yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sample.Message(""))
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("debug listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv, s.lis = srv, lis
	s.mu.Unlock()

	go func() {
		monitoring.Tagf("monitor", "debug server listening on http://%s", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Tagf("monitor", "debug server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Shutdown stops the server, closing WebSocket viewers first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.opts.Hub != nil {
		s.opts.Hub.Close()
	}
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
