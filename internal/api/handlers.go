/**
 * @description
 * This file contains the HTTP handlers for the billing-service REST API:
 * plan catalog, user profiles, subscription lifecycle, subscription history,
 * API keys and the operator billing-event endpoints.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app: The service layer with the business logic.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/billing-service/internal/app"
	"github.com/transfa/billing-service/internal/domain"
	"github.com/transfa/billing-service/internal/store"
)

// Handlers holds the dependencies for the HTTP handlers.
type Handlers struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *app.Service, logger *slog.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// --- Plans ---

// ListPlansHandler handles GET /plans.
func (h *Handlers) ListPlansHandler(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	plans, err := h.service.ListPlans(r.Context(), activeOnly)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if plans == nil {
		plans = []domain.Plan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

// GetPlanHandler handles GET /plans/{planID}.
func (h *Handlers) GetPlanHandler(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan ID")
		return
	}
	plan, err := h.service.GetPlan(r.Context(), planID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// --- Profiles ---

// GetMeHandler handles GET /users/me.
func (h *Handlers) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateMeHandler handles PATCH /users/me.
func (h *Handlers) UpdateMeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var upd domain.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	profile, err := h.service.UpdateProfile(r.Context(), userID, upd)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// --- Subscriptions ---

// CreateSubscriptionHandler handles POST /subscriptions.
func (h *Handlers) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PlanID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "plan_id is required")
		return
	}
	sub, err := h.service.CreateSubscription(r.Context(), userID, req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// GetMySubscriptionHandler handles GET /subscriptions/me. A user without a
// subscription gets a 200 with a null body rather than a 404.
func (h *Handlers) GetMySubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	sub, err := h.service.GetMySubscription(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// CancelMySubscriptionHandler handles POST /subscriptions/me/cancel.
func (h *Handlers) CancelMySubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req domain.CancelSubscriptionRequest
	// The body is optional; an empty reason is fine.
	_ = json.NewDecoder(r.Body).Decode(&req)

	sub, err := h.service.CancelMySubscription(r.Context(), userID, req.Reason)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ListMyHistoryHandler handles GET /subscriptions/me/history.
func (h *Handlers) ListMyHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.ListMyHistory(r.Context(), userID, limit, offset)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.SubscriptionHistory{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- API keys ---

// CreateAPIKeyHandler handles POST /api-keys. The plaintext key appears in
// this response and nowhere else.
func (h *Handlers) CreateAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req domain.CreateAPIKeyRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	created, err := h.service.CreateAPIKey(r.Context(), userID, req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListAPIKeysHandler handles GET /api-keys.
func (h *Handlers) ListAPIKeysHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	includeRevoked := r.URL.Query().Get("include_revoked") == "true"
	keys, err := h.service.ListAPIKeys(r.Context(), userID, includeRevoked)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if keys == nil {
		keys = []domain.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// RevokeAPIKeyHandler handles DELETE /api-keys/{keyID}.
func (h *Handlers) RevokeAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}
	if err := h.service.RevokeAPIKey(r.Context(), userID, keyID); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Operator endpoints ---

// ListBillingEventsHandler handles GET /billing-events.
func (h *Handlers) ListBillingEventsHandler(w http.ResponseWriter, r *http.Request) {
	opts := store.BillingEventListOptions{}
	if raw := r.URL.Query().Get("processed"); raw != "" {
		processed := raw == "true"
		opts.Processed = &processed
	}
	opts.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	opts.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := h.service.ListBillingEvents(r.Context(), opts)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if events == nil {
		events = []domain.BillingEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ReprocessBillingEventHandler handles POST /billing-events/{eventID}/reprocess.
func (h *Handlers) ReprocessBillingEventHandler(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event ID")
		return
	}
	row, err := h.service.ReprocessBillingEvent(r.Context(), eventID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// --- Helpers ---

func (h *Handlers) handleServiceError(w http.ResponseWriter, err error) {
	var rateLimited *app.RateLimitedError
	switch {
	case errors.Is(err, store.ErrPlanNotFound),
		errors.Is(err, store.ErrProfileNotFound),
		errors.Is(err, store.ErrSubscriptionNotFound),
		errors.Is(err, store.ErrAPIKeyNotFound),
		errors.Is(err, store.ErrBillingEventNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrActiveSubscriptionExists),
		errors.Is(err, app.ErrEventAlreadyProcessed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrPlanNotAvailable):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// If encoding fails, we can't send a JSON error, so just log it.
		http.Error(w, `{"error":"Failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
