// Package server exposes the token endpoint and, optionally, the transcript
// viewer over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	voiceroom "github.com/bt-bridge/voice-room"
	"github.com/bt-bridge/voice-room/grant"
	"github.com/bt-bridge/voice-room/shared"
)

type Option func(*Server)

// WithIssuer mounts GET /api/token.
func WithIssuer(issuer *grant.Issuer) Option {
	return func(s *Server) {
		s.issuer = issuer
	}
}

// WithViewer mounts h at GET /ws.
func WithViewer(h http.Handler) Option {
	return func(s *Server) {
		s.viewer = h
	}
}

func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

type Server struct {
	logger  shared.LoggerAdapter
	issuer  *grant.Issuer
	viewer  http.Handler
	origins []string
}

func New(logger shared.LoggerAdapter, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	s := &Server{
		logger:  logger,
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.issuer != nil {
		r.Get("/api/token", s.handleToken)
	}
	if s.viewer != nil {
		r.Handle("/ws", s.viewer)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": shared.Version})
}

// handleToken handles GET /api/token?room=&identity=. "username" is accepted
// in place of "identity".
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	identity := q.Get("identity")
	if identity == "" {
		identity = q.Get("username")
	}
	g, err := s.issuer.Issue(q.Get("room"), identity)
	if err != nil {
		status, body := errorResponse(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, voiceroom.TokenResponse{Token: g.Token})
}

func errorResponse(err error) (int, voiceroom.TokenResponse) {
	switch shared.KindOf(err) {
	case shared.KindInvalidRequest:
		return http.StatusBadRequest, voiceroom.TokenResponse{Error: shared.UserMessage(err)}
	case shared.KindMisconfigured:
		return http.StatusInternalServerError, voiceroom.TokenResponse{Error: voiceroom.TokenErrorMisconfigured}
	default:
		return http.StatusInternalServerError, voiceroom.TokenResponse{Error: voiceroom.TokenErrorSigning}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("requestId", chimw.GetReqID(r.Context())),
		)
	})
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, logger shared.LoggerAdapter, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errC := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errC <- srv.ListenAndServe()
	}()
	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
