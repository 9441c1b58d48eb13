// Package api exposes the route queries as a small JSON HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gtfs-routeserver/internal/route"
)

// Server is the HTTP front end of a route.Service.
type Server struct {
	mux     *http.ServeMux
	svc     *route.Service
	stopper *route.Stopper
	logger  *slog.Logger
}

// New creates a Server with all routes registered.
func New(svc *route.Service, stopper *route.Stopper, logger *slog.Logger) *Server {
	s := &Server{mux: http.NewServeMux(), svc: svc, stopper: stopper, logger: logger}

	s.mux.HandleFunc("GET /api/health", s.health)
	s.mux.HandleFunc("GET /api/travel-time", s.travelTime)
	s.mux.HandleFunc("GET /api/itinerary", s.itinerary)
	s.mux.HandleFunc("GET /api/stops/nearby", s.nearby)
	s.mux.HandleFunc("POST /api/shutdown", s.shutdown)

	return s
}

// Handler returns the mux wrapped in middleware.
func (s *Server) Handler() http.Handler {
	traced := otelhttp.NewHandler(s.mux, "routeserver.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return securityHeaders(requestLogger(s.rejectWhenStopped(traced), s.logger))
}

// Serve starts listening on addr in the background.
func (s *Server) Serve(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("http listening", "addr", addr)
	return srv
}

// rejectWhenStopped turns away new requests once shutdown has been requested.
// Requests already inside the handler run to completion.
func (s *Server) rejectWhenStopped(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.stopper.Stopped() {
			w.Header().Set("Connection", "close")
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server is shutting down", Code: route.CodeShuttingDown})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
