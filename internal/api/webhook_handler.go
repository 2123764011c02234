/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from
 * the billing vendor. It is the entry point for all subscription lifecycle
 * notifications.
 *
 * Key features:
 * - Security: Validates the HMAC-SHA256 signature of incoming webhooks to
 *   ensure authenticity before anything is recorded.
 * - Absorption: Everything past the signature check answers 2xx. Duplicates,
 *   malformed payloads, unknown event types and state conflicts are recorded
 *   on the ledger, never bounced back to the vendor.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: For webhook signature validation.
 * - internal/app: The webhook processing pipeline.
 */
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/transfa/billing-service/internal/app"
)

// WebhookHandler processes inbound billing webhooks.
type WebhookHandler struct {
	service *app.Service
	secret  string
	logger  *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(service *app.Service, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, secret: secret, logger: logger}
}

// HandleBillingWebhook handles POST /webhooks/billing.
func (h *WebhookHandler) HandleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if !h.isValidSignature(r.Header.Get("X-Signature"), body) {
		h.logger.Warn("webhook rejected: invalid signature", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	if err := h.service.ProcessWebhook(r.Context(), body); err != nil {
		// Storage failure: a 5xx makes the vendor retry the delivery.
		h.logger.Error("failed to process webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// isValidSignature validates the hex-encoded HMAC-SHA256 signature computed
// over the exact raw request body.
func (h *WebhookHandler) isValidSignature(signatureHeader string, body []byte) bool {
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}
