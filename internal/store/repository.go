/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the billing-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/transfa/billing-service/internal/domain"
)

// Sentinel errors returned by repository implementations. Handlers map these
// to HTTP statuses with errors.Is.
var (
	ErrPlanNotFound             = errors.New("plan not found")
	ErrProfileNotFound          = errors.New("profile not found")
	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrAPIKeyNotFound           = errors.New("api key not found")
	ErrBillingEventNotFound     = errors.New("billing event not found")
	ErrActiveSubscriptionExists = errors.New("an effective subscription already exists")
)

// BillingEventListOptions filters the operator billing-event listing.
type BillingEventListOptions struct {
	Processed *bool
	Limit     int
	Offset    int
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Plan methods
	ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error)
	FindPlanByID(ctx context.Context, planID uuid.UUID) (*domain.Plan, error)

	// Profile methods
	GetOrCreateProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, upd domain.ProfileUpdate) (*domain.Profile, error)

	// Subscription methods
	CreatePendingSubscription(ctx context.Context, userID, planID uuid.UUID, providerRef *string) (*domain.Subscription, error)
	FindEffectiveSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	CancelSubscriptionByUser(ctx context.Context, userID uuid.UUID, reason string) (*domain.Subscription, error)
	ListSubscriptionHistoryByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.SubscriptionHistory, error)
	ExpireLapsedSubscriptions(ctx context.Context) ([]uuid.UUID, error)

	// Billing event methods
	InsertBillingEvent(ctx context.Context, providerEventID *string, eventType string, payload []byte) (*domain.BillingEvent, bool, error)
	RecordBillingEventError(ctx context.Context, eventID uuid.UUID, processed bool, message string) error
	MarkBillingEventProcessed(ctx context.Context, eventID uuid.UUID) error
	ReconcileEvent(ctx context.Context, eventID uuid.UUID, ev domain.NormalizedEvent, decide domain.TransitionFunc) (*domain.ReconcileOutcome, error)
	ListBillingEvents(ctx context.Context, opts BillingEventListOptions) ([]domain.BillingEvent, error)
	FindBillingEventByID(ctx context.Context, eventID uuid.UUID) (*domain.BillingEvent, error)

	// API key methods
	CreateAPIKey(ctx context.Context, key *domain.APIKey) (*domain.APIKey, error)
	ListAPIKeysByUserID(ctx context.Context, userID uuid.UUID, includeRevoked bool) ([]domain.APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error
	FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]domain.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error
}
