package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Xenocodek/crypto-webhook-server/internal/cryptopay"
	"github.com/Xenocodek/crypto-webhook-server/internal/log"
	"github.com/Xenocodek/crypto-webhook-server/internal/metrics"
	"github.com/Xenocodek/crypto-webhook-server/internal/queue"
)

// Server is the relay's HTTP server.
type Server struct {
	config    Config
	queue     DeliveryQueuer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	endpoints []Endpoint
}

// New creates a new webhook server instance.
func New(config Config, q DeliveryQueuer, logger *slog.Logger) *Server {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}

	// Display order on the status page.
	endpoints := []Endpoint{
		{Name: "Crypto Pay webhook", Path: config.Path},
		{Name: "Health", Path: "/healthz"},
		{Name: "Metrics", Path: "/metrics"},
		{Name: "Recent deliveries", Path: "/deliveries"},
	}

	return &Server{
		config:    config,
		queue:     q,
		logger:    logger,
		startedAt: time.Now(),
		endpoints: endpoints,
	}
}

// Start starts the HTTP server (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/deliveries", s.handleDeliveries)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.config.RateLimitRequests > 0 && s.config.RateLimitWindow > 0 {
			r.Use(httprate.LimitByIP(s.config.RateLimitRequests, s.config.RateLimitWindow))
		}
		r.Post(s.config.Path, s.handleWebhook)
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes payload bodies).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleIndex serves the operator status page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := StatusData{
		Version:   s.config.Version,
		Endpoints: s.endpoints,
	}
	if err := RenderStatusPage(w, data); err != nil {
		s.logger.Error("failed to render status page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleHealthz reports liveness and queue counters.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute delivery stats", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to compute delivery stats")
		return
	}

	s.respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
		Delivered:     stats.Delivered,
		Failed:        stats.Failed,
		Dead:          stats.Dead,
	})
}

// handleDeliveries returns recent delivery log entries, newest first.
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.queue.Recent(r.Context(), 50)
	if err != nil {
		s.logger.Error("failed to load recent deliveries", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load recent deliveries")
		return
	}
	if entries == nil {
		entries = []queue.LogEntry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

// handleWebhook handles incoming Crypto Pay updates.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Enforce body size limit
	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		metrics.UpdatesReceived.WithLabelValues(metrics.ResultTooLarge).Inc()
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := s.verifyRequest(r, body); err != nil {
		metrics.UpdatesReceived.WithLabelValues(metrics.ResultInvalidSignature).Inc()
		s.logger.Warn("webhook signature verification failed",
			"path", r.URL.Path,
			"error", err,
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	update, err := cryptopay.ParseUpdate(body)
	if err != nil {
		metrics.UpdatesReceived.WithLabelValues(metrics.ResultBadPayload).Inc()
		s.logger.Warn("webhook payload invalid", "error", err)
		s.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	logger := log.WithUpdate(update.UpdateID).With("invoice_id", update.Payload.InvoiceID)

	chatID, err := cryptopay.ChatIDFromPayload(update.Payload.CustomPayload)
	if err != nil {
		// Without a chat ID nobody can be notified. Acknowledge with 200
		// anyway so Crypto Pay does not re-deliver, and log the problem.
		metrics.UpdatesReceived.WithLabelValues(metrics.ResultNoChatID).Inc()
		logger.Error("chat_id not found, notification skipped", "error", err)
		s.respondJSON(w, http.StatusOK, RelayResponse{
			Status:  "error",
			Message: "chat_id not found in payload, notification skipped",
		})
		return
	}

	invoiceJSON, err := json.Marshal(update.Payload)
	if err != nil {
		metrics.UpdatesReceived.WithLabelValues(metrics.ResultEnqueueError).Inc()
		logger.Error("failed to marshal invoice payload", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to enqueue delivery")
		return
	}

	// Dedupe mark and queue row commit together, so a failed enqueue leaves
	// no mark behind and the sender's re-delivery goes through.
	deliveryID, first, err := s.queue.EnqueueOnce(ctx, queue.EnqueueRequest{
		UpdateID:    update.UpdateID,
		UpdateType:  update.UpdateType,
		ChatID:      chatID,
		Payload:     invoiceJSON,
		MaxAttempts: s.config.MaxAttempts,
	})
	if err != nil {
		metrics.UpdatesReceived.WithLabelValues(metrics.ResultEnqueueError).Inc()
		logger.Error("failed to enqueue delivery", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to enqueue delivery")
		return
	}
	if !first {
		metrics.UpdatesReceived.WithLabelValues(metrics.ResultDuplicate).Inc()
		logger.Info("duplicate update ignored")
		s.respondJSON(w, http.StatusOK, RelayResponse{Status: "ok", Message: "duplicate update ignored"})
		return
	}

	metrics.UpdatesReceived.WithLabelValues(metrics.ResultOK).Inc()
	logger.Info("delivery enqueued",
		"delivery_id", deliveryID,
		"update_type", update.UpdateType,
		"status", update.Payload.Status,
	)

	s.respondJSON(w, http.StatusOK, RelayResponse{Status: "ok", Message: "Webhook processed"})
}

// verifyRequest checks the HMAC signature header unless unsigned updates are
// explicitly allowed and no secret is configured.
func (s *Server) verifyRequest(r *http.Request, body []byte) error {
	if s.config.Secret == "" {
		if s.config.AllowUnsigned {
			s.logger.Warn("accepting unsigned webhook; configure server.secret for production")
			return nil
		}
		return fmt.Errorf("webhook verification failed")
	}

	signature := r.Header.Get(s.config.SignatureHeader)
	return verifyHMACSignature(body, signature, s.config.Secret)
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
