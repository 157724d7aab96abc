// ABOUTME: HTTP endpoint receiving Redmine webhook deliveries
// ABOUTME: Routes with chi; the shared secret arrives in the token query parameter

package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/2389/redmine-bridge/internal/metrics"
)

// maxBodyBytes bounds a delivery body.
const maxBodyBytes = 4 << 20

type deliveryKey struct{}

// DeliveryID returns the id assigned to the delivery being dispatched.
func DeliveryID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deliveryKey{}).(string)
	return id, ok
}

// Config configures the HTTP server.
type Config struct {
	Addr        string
	Path        string
	SecretToken string
	MetricsPath string // empty disables /metrics
}

// Server serves webhook deliveries.
type Server struct {
	cfg        Config
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	router     chi.Router
	srv        *http.Server
}

// NewServer builds the router. m may be nil, in which case no metrics route exists.
func NewServer(cfg Config, dispatcher *Dispatcher, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With("component", "webhook"),
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Post(cfg.Path, s.handleDelivery)
	if m != nil && cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, m.Handler())
	}
	s.router = r

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server listening", "addr", s.cfg.Addr, "path", s.cfg.Path)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SecretToken)) == 1
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID := uuid.NewString()
	logger := s.logger.With("delivery_id", deliveryID, "remote", r.RemoteAddr)

	if !s.authorized(r) {
		logger.Warn("rejecting delivery with invalid secret token")
		s.metrics.Webhook("forbidden")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("failed to read delivery body", "error", err)
		s.metrics.Webhook("bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	payload, err := DecodePayload(body)
	if err != nil {
		logger.Warn("rejecting undecodable delivery", "error", err)
		s.metrics.Webhook("bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	ctx := context.WithValue(r.Context(), deliveryKey{}, deliveryID)
	s.dispatcher.Dispatch(ctx, payload)
	s.metrics.Webhook("accepted")

	w.Header().Set("X-Delivery-Id", deliveryID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Webhook received!")
}
