// Package httpapi exposes the Broker and LiveStream over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/broker"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/stream"
)

// Config configures the HTTP server.
type Config struct {
	Addr    string
	Broker  *broker.Broker
	Stream  *stream.Hub
	Logger  ports.Logger
	DevMode bool
}

// Server wraps a chi router and the underlying http.Server.
type Server struct {
	router *chi.Mux
	server *http.Server
	logger ports.Logger
}

// New builds a Server with the full middleware stack and route table wired.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: cfg.Logger,
	}

	s.setupMiddleware(cfg.DevMode)
	h := &handlers{broker: cfg.Broker, stream: cfg.Stream, logger: cfg.Logger}
	h.register(s.router)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /stream holds the connection open indefinitely
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	// The request timeout applies to every route except /stream, whose SSE
	// session stays open until the client disconnects.
	timeout := middleware.Timeout(60 * time.Second)
	s.router.Use(func(next http.Handler) http.Handler {
		withTimeout := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/stream" {
				next.ServeHTTP(w, r)
				return
			}
			withTimeout.ServeHTTP(w, r)
		})
	})
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info(r.Context(), "http request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  middleware.GetReqID(r.Context()),
		})
	})
}

// Start runs the server until it returns an error (ErrServerClosed on clean
// shutdown).
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "http server listening", map[string]interface{}{"addr": s.server.Addr})
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops accepting new sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "http server shutting down")
	return s.server.Shutdown(ctx)
}
