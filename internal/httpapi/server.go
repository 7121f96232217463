// Package httpapi serves the REST surface of the orchestrator:
// generation submissions, task status, provider webhooks, stored media
// and a websocket event stream.
package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aviv90/tasker-server-sub010/internal/gateway"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
)

// Server represents the HTTP API server
type Server struct {
	server      *http.Server
	gw          *gateway.Gateway
	rateLimiter *RateLimiter
	hub         *eventHub
	wg          sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewServer creates the API server from gateway configuration.
func NewServer(gw *gateway.Gateway) *Server {
	cfg := gw.Config()
	listen := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	s := &Server{
		gw:          gw,
		rateLimiter: NewRateLimiter(10 * time.Second),
		hub:         newEventHub(gw.MediaStore()),
	}
	s.server = &http.Server{
		Addr:         listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Middleware chain: logging -> strip headers -> bearer auth
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(s.bearerAuth(h)))
	}

	// API routes
	mux.HandleFunc("/api/generate", wrap(s.handleGenerate))
	mux.HandleFunc("/api/tasks", wrap(s.handleTasks))
	mux.HandleFunc("/api/tasks/", wrap(s.handleTask))
	mux.HandleFunc("/api/providers", wrap(s.handleProviders))
	mux.HandleFunc("/api/media/", wrap(s.handleMedia))
	mux.HandleFunc("/api/events", wrap(s.handleEvents))

	// Provider webhooks authenticate with the callback token, not the
	// API key; the sender is a third-party service.
	mux.HandleFunc("/callbacks/", s.logRequest(s.stripHeaders(s.handleCallback)))

	mux.HandleFunc("/healthz", s.logRequest(s.stripHeaders(s.handleHealthz)))

	return mux
}

// Start begins listening. The error from a failed bind surfaces through
// the listener goroutine's log; callers treat Start as fire-and-forget.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.hub.start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("httpapi: server starting", "addr", s.server.Addr)
		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			L_error("httpapi: server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.hub.stop()
	s.wg.Wait()

	if err != nil {
		L_error("httpapi: shutdown error", "error", err)
		return err
	}
	L_info("httpapi: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_trace("httpapi: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes the websocket upgrade through the logging wrapper.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := lw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}
