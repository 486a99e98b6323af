package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// Server serves the latest scoring run as JSON next to the health, readiness
// and metrics endpoints.
type Server struct {
	srv    *http.Server
	scores ScoreSource
	logger *slog.Logger
}

// NewServer wires the ops endpoints and the score query API on addr. ready
// gates /readyz; scores backs /scores and /policy-impacts.
func NewServer(addr string, ready sharedobs.ReadinessChecker, scores ScoreSource, logger *slog.Logger) *Server {
	s := &Server{scores: scores, logger: logger}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.routes(ready),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

func (s *Server) routes(ready sharedobs.ReadinessChecker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /scores", s.logRequests(s.handleScores))
	mux.Handle("GET /scores/{region}", s.logRequests(s.handleRegionScores))
	mux.Handle("GET /policy-impacts", s.logRequests(s.handlePolicyImpacts))
	return mux
}

// logRequests logs each score API request at debug level with its status.
func (s *Server) logRequests(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.logger.Debug("score api request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Start listens on the configured address until Shutdown, which makes it
// return http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ServeHTTP lets tests drive the routes without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.srv.Handler.ServeHTTP(w, r)
}
