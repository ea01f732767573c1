package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"hlsrescue/internal/task"
)

// StatusServer exposes the daemon's counters and queue state over HTTP.
type StatusServer struct {
	daemon     *Daemon
	source     task.Source
	addr       string
	logger     hclog.Logger
	httpServer *http.Server
}

// NewStatusServer creates a status server bound to addr.
func NewStatusServer(d *Daemon, source task.Source, addr string, logger hclog.Logger) *StatusServer {
	return &StatusServer{
		daemon: d,
		source: source,
		addr:   addr,
		logger: logger,
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *StatusServer) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("starting status server", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server error", "error", err)
		}
	}()

	<-ctx.Done()

	s.logger.Info("shutting down status server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *StatusServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.source.Statistics(r.Context())
	if err != nil {
		s.logger.Error("queue statistics", "error", err)
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, struct {
		Daemon Summary    `json:"daemon"`
		Queue  task.Stats `json:"queue"`
	}{
		Daemon: s.daemon.Summary(),
		Queue:  stats,
	})
}

func (s *StatusServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", wrapped.Status(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
