package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/billing-service/internal/app"
	"github.com/transfa/billing-service/internal/domain"
	"github.com/transfa/billing-service/internal/store"
)

// stubRepo is a store.Repository with per-test function overrides. The
// embedded interface panics for anything a test did not stub.
type stubRepo struct {
	store.Repository
	listPlansFn         func(ctx context.Context, activeOnly bool) ([]domain.Plan, error)
	findPlanFn          func(ctx context.Context, planID uuid.UUID) (*domain.Plan, error)
	getProfileFn        func(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	effectiveSubFn      func(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	createPendingFn     func(ctx context.Context, userID, planID uuid.UUID, providerRef *string) (*domain.Subscription, error)
	listBillingEventsFn func(ctx context.Context, opts store.BillingEventListOptions) ([]domain.BillingEvent, error)
	revokeAPIKeyFn      func(ctx context.Context, userID, keyID uuid.UUID) error
}

func (s *stubRepo) ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	return s.listPlansFn(ctx, activeOnly)
}

func (s *stubRepo) FindPlanByID(ctx context.Context, planID uuid.UUID) (*domain.Plan, error) {
	return s.findPlanFn(ctx, planID)
}

func (s *stubRepo) GetOrCreateProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	return s.getProfileFn(ctx, userID)
}

func (s *stubRepo) FindEffectiveSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	return s.effectiveSubFn(ctx, userID)
}

func (s *stubRepo) CreatePendingSubscription(ctx context.Context, userID, planID uuid.UUID, providerRef *string) (*domain.Subscription, error) {
	return s.createPendingFn(ctx, userID, planID, providerRef)
}

func (s *stubRepo) ListBillingEvents(ctx context.Context, opts store.BillingEventListOptions) ([]domain.BillingEvent, error) {
	return s.listBillingEventsFn(ctx, opts)
}

func (s *stubRepo) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	return s.revokeAPIKeyFn(ctx, userID, keyID)
}

func newTestRouter(repo store.Repository) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewService(repo, nil, nil, logger, 0, 0)
	h := NewHandlers(service, logger)
	wh := NewWebhookHandler(service, testWebhookSecret, logger)
	return BillingRoutes(h, wh, testJWTSecret, "", service)
}

func bearerToken(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	return "Bearer " + signToken(t, testJWTSecret, claims)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(&stubRepo{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListPlansPublic(t *testing.T) {
	repo := &stubRepo{
		listPlansFn: func(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
			if !activeOnly {
				t.Error("active_only=true not passed through")
			}
			return []domain.Plan{{ID: uuid.New(), Name: "pro", Currency: "usd", Active: true}}, nil
		},
	}
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/plans?active_only=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var plans []domain.Plan
	if err := json.NewDecoder(rec.Body).Decode(&plans); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(plans) != 1 || plans[0].Name != "pro" {
		t.Errorf("plans = %+v", plans)
	}
}

func TestProtectedEndpointsRequireAuth(t *testing.T) {
	router := newTestRouter(&stubRepo{})
	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/users/me"},
		{http.MethodPost, "/subscriptions"},
		{http.MethodGet, "/subscriptions/me"},
		{http.MethodGet, "/api-keys"},
		{http.MethodGet, "/billing-events"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestGetMeAutoCreates(t *testing.T) {
	userID := uuid.New()
	repo := &stubRepo{
		getProfileFn: func(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
			if id != userID {
				t.Errorf("profile requested for %s, want %s", id, userID)
			}
			return &domain.Profile{ID: id}, nil
		},
	}
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", bearerToken(t, userID, ""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestGetMySubscriptionNull(t *testing.T) {
	repo := &stubRepo{
		effectiveSubFn: func(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
			return nil, store.ErrSubscriptionNotFound
		},
	}
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/me", nil)
	req.Header.Set("Authorization", bearerToken(t, uuid.New(), ""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "null" {
		t.Errorf("body = %q, want null", body)
	}
}

func TestCreateSubscriptionConflict(t *testing.T) {
	planID := uuid.New()
	repo := &stubRepo{
		findPlanFn: func(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
			return &domain.Plan{ID: id, Name: "pro", Active: true}, nil
		},
		createPendingFn: func(ctx context.Context, userID, planID uuid.UUID, providerRef *string) (*domain.Subscription, error) {
			return nil, store.ErrActiveSubscriptionExists
		},
	}
	router := newTestRouter(repo)

	body := strings.NewReader(`{"plan_id": "` + planID.String() + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", body)
	req.Header.Set("Authorization", bearerToken(t, uuid.New(), ""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateSubscriptionMissingPlan(t *testing.T) {
	router := newTestRouter(&stubRepo{})

	req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(`{}`))
	req.Header.Set("Authorization", bearerToken(t, uuid.New(), ""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOperatorEndpointsGated(t *testing.T) {
	repo := &stubRepo{
		listBillingEventsFn: func(ctx context.Context, opts store.BillingEventListOptions) ([]domain.BillingEvent, error) {
			if opts.Processed == nil || *opts.Processed {
				t.Error("processed=false filter not passed through")
			}
			return []domain.BillingEvent{}, nil
		},
	}
	router := newTestRouter(repo)

	t.Run("regular user forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/billing-events?processed=false", nil)
		req.Header.Set("Authorization", bearerToken(t, uuid.New(), "authenticated"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("service role allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/billing-events?processed=false", nil)
		req.Header.Set("Authorization", bearerToken(t, uuid.New(), "service_role"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestRevokeAPIKeyResponses(t *testing.T) {
	userID := uuid.New()
	keyID := uuid.New()
	repo := &stubRepo{
		revokeAPIKeyFn: func(ctx context.Context, uid, kid uuid.UUID) error {
			if uid != userID || kid != keyID {
				return store.ErrAPIKeyNotFound
			}
			return nil
		},
	}
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodDelete, "/api-keys/"+keyID.String(), nil)
	req.Header.Set("Authorization", bearerToken(t, userID, ""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api-keys/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", bearerToken(t, userID, ""))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
