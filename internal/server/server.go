// Package server exposes the bot over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"product-bot/internal/channel"
	"product-bot/internal/metrics"
	"product-bot/internal/repository"
)

const (
	maxBodyBytes    = 4 << 20
	shutdownTimeout = 10 * time.Second
)

// Processor runs one inbound activity through the channel adapter.
type Processor interface {
	Process(ctx context.Context, authHeader string, body []byte, bot channel.Bot) (channel.InvokeResponse, error)
}

type Server struct {
	adapter  Processor
	bot      channel.Bot
	requests repository.RequestLog
	log      *slog.Logger
	router   chi.Router
}

func New(adapter Processor, bot channel.Bot, requests repository.RequestLog, log *slog.Logger) (*Server, error) {
	if adapter == nil {
		return nil, errors.New("server: adapter must not be nil")
	}
	if bot == nil {
		return nil, errors.New("server: bot must not be nil")
	}
	if requests == nil {
		return nil, errors.New("server: request log must not be nil")
	}
	if log == nil {
		return nil, errors.New("server: logger must not be nil")
	}
	s := &Server{adapter: adapter, bot: bot, requests: requests, log: log}
	s.router = s.routes()
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/api/messages", s.handleMessages)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.messageError(w, fmt.Errorf("read body: %w", err))
		return
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		s.messageError(w, err)
		return
	}

	err = s.requests.Append(r.Context(), body)
	metrics.RequestLogAppendsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.messageError(w, err)
		return
	}

	resp, err := s.adapter.Process(r.Context(), r.Header.Get("Authorization"), body, s.bot)
	if err != nil {
		s.messageError(w, err)
		return
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.Body == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, resp.Body)
}

func (s *Server) messageError(w http.ResponseWriter, err error) {
	s.log.Error("error processing request", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

type healthResponse struct {
	Status string            `json:"status"`
	Logs   []json.RawMessage `json:"logs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	entries, err := s.requests.Entries(r.Context())
	if err != nil {
		s.log.Error("health check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	if entries == nil {
		entries = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Logs: entries})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
