// Package webhook is the HTTP driving adapter for provider webhooks. It turns
// requests into application.Delivery values and maps outcomes onto status
// codes: 200 for every handled or skipped delivery, 403 for authentication
// failures and disallowed events, 400 for malformed payloads and unknown
// services. Delivery ids only label log lines; redeliveries are processed
// again and stored state keeps them idempotent.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coverhook/internal/application"
	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// MaxBodyBytes bounds the accepted payload size.
const MaxBodyBytes = 25 << 20

// Processor handles one decoded delivery.
type Processor interface {
	Handle(ctx context.Context, d application.Delivery) (application.Result, error)
}

// Config tunes the abuse protections in front of the processor.
type Config struct {
	// RateLimit is the number of deliveries per minute accepted from one
	// (service, remote IP) pair. Zero disables rate limiting.
	RateLimit int
	RateBurst int
}

// Handler serves POST /webhooks/{service}.
type Handler struct {
	processor Processor
	limiter   *rateLimiter
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(processor Processor, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{
		processor: processor,
		limiter:   newRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:    logger,
	}
}

// Register adds the webhook routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/{service}", h.ServeWebhook)
}

// ServeWebhook handles one provider delivery.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	service, err := model.ParseService(r.PathValue("service"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported service")
		return
	}

	if !h.limiter.allow(string(service) + "|" + remoteIP(r)) {
		h.logger.Warn("webhook rate limited", "service", string(service), "remote", remoteIP(r))
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	d := decodeDelivery(service, r.Header, body)

	res, err := h.processor.Handle(r.Context(), d)
	if err != nil {
		h.writeFailure(w, d, err)
		return
	}

	writeJSON(w, http.StatusOK, res.Message)
}

func (h *Handler) writeFailure(w http.ResponseWriter, d application.Delivery, err error) {
	var authErr *application.AuthenticationError
	switch {
	case errors.As(err, &authErr):
		writeError(w, http.StatusForbidden, "webhook authentication failed")
	case errors.Is(err, application.ErrEventForbidden):
		writeError(w, http.StatusForbidden, "webhook event not allowed")
	case errors.Is(err, application.ErrMalformedPayload):
		h.logger.Warn("malformed webhook payload", "service", string(d.Service), "event", d.Event, "delivery", d.DeliveryID, "error", err)
		writeError(w, http.StatusBadRequest, "malformed payload")
	case errors.Is(err, driven.ErrUnsupportedService):
		writeError(w, http.StatusBadRequest, "unsupported service")
	default:
		h.logger.Error("webhook processing failed", "service", string(d.Service), "event", d.Event, "delivery", d.DeliveryID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeDelivery reads the provider-specific headers. A delivery without a
// provider id gets a random one so it can still be traced in logs.
func decodeDelivery(service model.Service, header http.Header, body []byte) application.Delivery {
	d := application.Delivery{Service: service, Body: body}

	switch service.Family() {
	case model.ServiceGitHub:
		d.Event = header.Get("X-GitHub-Event")
		d.Signature = header.Get("X-Hub-Signature-256")
		d.DeliveryID = header.Get("X-GitHub-Delivery")
	case model.ServiceGitLab:
		d.Event = header.Get("X-Gitlab-Event")
		d.Token = header.Get("X-Gitlab-Token")
		d.DeliveryID = header.Get("X-Gitlab-Event-UUID")
	case model.ServiceBitbucket:
		d.Event = header.Get("X-Event-Key")
		d.HookUUID = header.Get("X-Hook-UUID")
		d.DeliveryID = header.Get("X-Request-UUID")
	case model.ServiceBitbucketServer:
		d.Event = header.Get("X-Event-Key")
		d.HookUUID = header.Get("X-Hook-UUID")
		d.DeliveryID = header.Get("X-Request-Id")
	}

	if d.DeliveryID == "" {
		d.DeliveryID = uuid.NewString()
	}
	return d
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
