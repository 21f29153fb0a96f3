package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/latchkey/internal/metrics"
	"github.com/dukerupert/latchkey/internal/payment"
	"github.com/dukerupert/latchkey/internal/reconcile"
)

// maxWebhookBody caps how much of a delivery is read before verification.
const maxWebhookBody = 65536

type WebhookHandler struct {
	payments   *payment.Client
	reconciler *reconcile.Reconciler
	metrics    *metrics.Collector
	logger     *slog.Logger
}

func NewWebhookHandler(
	pc *payment.Client,
	rec *reconcile.Reconciler,
	collector *metrics.Collector,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		payments:   pc,
		reconciler: rec,
		metrics:    collector,
		logger:     logger,
	}
}

// HandleStripeWebhook is the notification path of reconciliation. A bad
// signature is the only rejection; after that the delivery is acknowledged
// with 200 no matter what happened inside, because the provider's retries
// cannot fix an internal fault and the recording is idempotent anyway.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.payments.ConstructEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.metrics.RecordSignatureFailure()
		h.logger.Warn("webhook signature rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.HandleEvent(r.Context(), event); err != nil {
		h.logger.Error("webhook event processing", "event_id", event.ID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}
