package handlers

import (
	"io"
	"net/http"

	"github.com/sitekeeper/sitekeeper/internal/billing"
	"github.com/sitekeeper/sitekeeper/internal/pkg/errors"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/utils"
	"github.com/sitekeeper/sitekeeper/internal/services"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// WebhookHandler receives billing provider push events
type WebhookHandler struct {
	provider billing.Provider
	webhooks *services.WebhookService
	logger   *logger.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(provider billing.Provider, webhooks *services.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		provider: provider,
		webhooks: webhooks,
		logger:   log,
	}
}

// HandleBilling verifies and applies a billing event. The raw body is needed
// for signature verification, so no JSON middleware may touch it first. A
// 400 rejects permanently; a 500 asks the provider to retry.
func (h *WebhookHandler) HandleBilling(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		utils.WriteError(w, errors.BadRequest("Failed to read request body"))
		return
	}

	event, err := h.provider.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		utils.WriteError(w, errors.BadRequest("Invalid signature"))
		return
	}

	if err := h.webhooks.Process(r.Context(), event); err != nil {
		// Processing failures lean on the provider's retry; this is never a
		// permanent rejection.
		utils.WriteError(w, errors.Internal("Event processing failed", err))
		return
	}

	utils.WriteSuccess(w, http.StatusOK, map[string]bool{"received": true})
}
