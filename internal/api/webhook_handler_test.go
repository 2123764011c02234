package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/billing-service/internal/app"
	"github.com/transfa/billing-service/internal/domain"
	"github.com/transfa/billing-service/internal/store"
)

const testWebhookSecret = "whsec_test"

// ledgerRepo is a minimal store.Repository for webhook handler tests. The
// embedded interface panics on anything the pipeline should not touch.
type ledgerRepo struct {
	store.Repository
	events         map[string]*domain.BillingEvent
	reconcileCalls int
}

func newLedgerRepo() *ledgerRepo {
	return &ledgerRepo{events: make(map[string]*domain.BillingEvent)}
}

func (r *ledgerRepo) InsertBillingEvent(ctx context.Context, providerEventID *string, eventType string, payload []byte) (*domain.BillingEvent, bool, error) {
	if providerEventID != nil {
		if existing, ok := r.events[*providerEventID]; ok {
			return existing, false, nil
		}
	}
	ev := &domain.BillingEvent{
		ID:              uuid.New(),
		ProviderEventID: providerEventID,
		EventType:       eventType,
		Payload:         payload,
		ReceivedAt:      time.Now(),
	}
	if providerEventID != nil {
		r.events[*providerEventID] = ev
	}
	return ev, true, nil
}

func (r *ledgerRepo) ReconcileEvent(ctx context.Context, eventID uuid.UUID, ev domain.NormalizedEvent, decide domain.TransitionFunc) (*domain.ReconcileOutcome, error) {
	r.reconcileCalls++
	return &domain.ReconcileOutcome{Decision: decide(nil)}, nil
}

func (r *ledgerRepo) RecordBillingEventError(ctx context.Context, eventID uuid.UUID, processed bool, message string) error {
	return nil
}

func (r *ledgerRepo) MarkBillingEventProcessed(ctx context.Context, eventID uuid.UUID) error {
	return nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookTestHandler(repo store.Repository) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewService(repo, nil, nil, logger, 0, 0)
	return NewWebhookHandler(service, testWebhookSecret, logger)
}

func postWebhook(h *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.HandleBillingWebhook(rec, req)
	return rec
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	repo := newLedgerRepo()
	h := newWebhookTestHandler(repo)

	rec := postWebhook(h, []byte(`{"meta":{"event_id":"e1","event_name":"subscription_created"}}`), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(repo.events) != 0 {
		t.Error("nothing must be recorded before authentication")
	}
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	repo := newLedgerRepo()
	h := newWebhookTestHandler(repo)

	original := []byte(`{"meta":{"event_id":"e1","event_name":"subscription_created"}}`)
	signature := signBody(testWebhookSecret, original)
	tampered := []byte(`{"meta":{"event_id":"e2","event_name":"subscription_created"}}`)

	rec := postWebhook(h, tampered, signature)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(repo.events) != 0 {
		t.Error("tampered delivery must not be recorded")
	}
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	repo := newLedgerRepo()
	h := newWebhookTestHandler(repo)

	body := []byte(`{"meta":{"event_id":"e1","event_name":"subscription_created"}}`)
	rec := postWebhook(h, body, signBody("some-other-secret", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookAcceptsValidDelivery(t *testing.T) {
	repo := newLedgerRepo()
	h := newWebhookTestHandler(repo)

	body := []byte(`{"meta":{"event_id":"e1","event_name":"subscription_payment_success"},"data":{"id":"vsub_1","attributes":{"total":1999}}}`)
	rec := postWebhook(h, body, signBody(testWebhookSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(repo.events) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(repo.events))
	}
	if repo.reconcileCalls != 1 {
		t.Errorf("reconcile calls = %d, want 1", repo.reconcileCalls)
	}
}

func TestWebhookDuplicateDeliveryShortCircuits(t *testing.T) {
	repo := newLedgerRepo()
	h := newWebhookTestHandler(repo)

	body := []byte(`{"meta":{"event_id":"e1","event_name":"subscription_payment_success"},"data":{"id":"vsub_1","attributes":{"total":1999}}}`)
	signature := signBody(testWebhookSecret, body)

	if rec := postWebhook(h, body, signature); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", rec.Code)
	}
	if rec := postWebhook(h, body, signature); rec.Code != http.StatusOK {
		t.Fatalf("second delivery status = %d", rec.Code)
	}
	if repo.reconcileCalls != 1 {
		t.Errorf("reconcile calls = %d, want 1 after duplicate", repo.reconcileCalls)
	}
}

func TestWebhookUppercaseSignatureAccepted(t *testing.T) {
	repo := newLedgerRepo()
	h := newWebhookTestHandler(repo)

	body := []byte(`{"meta":{"event_id":"e9","event_name":"subscription_payment_success"},"data":{"id":"vsub_9","attributes":{}}}`)
	upper := bytes.ToUpper([]byte(signBody(testWebhookSecret, body)))
	rec := postWebhook(h, body, string(upper))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
