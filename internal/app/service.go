/**
 * @description
 * This file contains the core business logic for the billing-service. The
 * Service layer orchestrates the repository, the API key helpers, the rate
 * limiter and the event producer, and owns the webhook processing pipeline.
 *
 * @notes
 * - The rate limiter and event producer are optional collaborators: when nil
 *   the service runs without rate limiting and without publishing, which keeps
 *   local development working with nothing but Postgres.
 * - ProcessWebhook only returns an error for storage failures. Malformed,
 *   duplicate, unknown and conflicting events are absorbed and recorded so the
 *   vendor never retries them.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/billing-service/internal/domain"
	"github.com/transfa/billing-service/internal/store"
	"github.com/transfa/billing-service/pkg/security"
)

var (
	// ErrPlanNotAvailable is returned when subscribing to an inactive plan.
	ErrPlanNotAvailable = errors.New("plan is not available")
	// ErrInvalidAPIKey is returned when no key matches a presented secret.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrEventAlreadyProcessed guards operator reprocessing.
	ErrEventAlreadyProcessed = errors.New("billing event already processed")
)

// RateLimitedError reports a rejected request and when to retry.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

// RateLimiter is the distributed fixed-window limiter contract.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// EventsExchange is the topic exchange applied billing transitions go to.
const EventsExchange = "billing_events"

// Service provides the business logic for billing management.
type Service struct {
	repo      store.Repository
	limiter   RateLimiter
	producer  EventPublisher
	logger    *slog.Logger
	rateLimit int
	rateWin   time.Duration
}

// NewService creates a new billing service. limiter and producer may be nil.
func NewService(repo store.Repository, limiter RateLimiter, producer EventPublisher, logger *slog.Logger, rateLimit int, rateWindow time.Duration) *Service {
	return &Service{
		repo:      repo,
		limiter:   limiter,
		producer:  producer,
		logger:    logger,
		rateLimit: rateLimit,
		rateWin:   rateWindow,
	}
}

// --- Plans ---

// ListPlans returns plans for the public catalog endpoint.
func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	return s.repo.ListPlans(ctx, activeOnly)
}

// GetPlan returns a single plan.
func (s *Service) GetPlan(ctx context.Context, planID uuid.UUID) (*domain.Plan, error) {
	return s.repo.FindPlanByID(ctx, planID)
}

// --- Profiles ---

// GetProfile returns the caller's profile, creating it on first contact.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	return s.repo.GetOrCreateProfile(ctx, userID)
}

// UpdateProfile applies a partial profile update.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, upd domain.ProfileUpdate) (*domain.Profile, error) {
	if _, err := s.repo.GetOrCreateProfile(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.UpdateProfile(ctx, userID, upd)
}

// --- Subscriptions ---

// CreateSubscription records a pending subscription after the user starts a
// vendor checkout. The pending row is later confirmed by webhook.
func (s *Service) CreateSubscription(ctx context.Context, userID uuid.UUID, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if err := s.consumeRateLimit(ctx, "subscription_create", userID.String()); err != nil {
		return nil, err
	}

	plan, err := s.repo.FindPlanByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanNotAvailable
	}

	sub, err := s.repo.CreatePendingSubscription(ctx, userID, plan.ID, req.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("pending subscription created", "subscription_id", sub.ID, "user_id", userID, "plan_id", plan.ID)
	return sub, nil
}

// GetMySubscription returns the caller's current subscription.
func (s *Service) GetMySubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	return s.repo.FindEffectiveSubscriptionByUserID(ctx, userID)
}

// CancelMySubscription cancels the caller's current subscription.
func (s *Service) CancelMySubscription(ctx context.Context, userID uuid.UUID, reason string) (*domain.Subscription, error) {
	sub, err := s.repo.CancelSubscriptionByUser(ctx, userID, reason)
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscription canceled by user", "subscription_id", sub.ID, "user_id", userID)
	s.publish(ctx, "billing.subscription.canceled", map[string]interface{}{
		"subscription_id": sub.ID,
		"user_id":         userID,
		"initiator":       "user",
	})
	return sub, nil
}

// ListMyHistory returns audit entries for the caller's subscriptions.
func (s *Service) ListMyHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.SubscriptionHistory, error) {
	return s.repo.ListSubscriptionHistoryByUserID(ctx, userID, limit, offset)
}

// --- API keys ---

// CreateAPIKey generates a new key, stores its hash and returns the plaintext
// exactly once.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, req domain.CreateAPIKeyRequest) (*domain.CreatedAPIKey, error) {
	if err := s.consumeRateLimit(ctx, "api_key_create", userID.String()); err != nil {
		return nil, err
	}

	plain, prefix, err := security.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}
	hash, err := security.HashAPIKey(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}

	stored, err := s.repo.CreateAPIKey(ctx, &domain.APIKey{
		UserID:    userID,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Name:      req.Name,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("api key created", "key_id", stored.ID, "user_id", userID, "prefix", prefix)
	return &domain.CreatedAPIKey{APIKey: *stored, Key: plain}, nil
}

// ListAPIKeys lists the caller's keys.
func (s *Service) ListAPIKeys(ctx context.Context, userID uuid.UUID, includeRevoked bool) ([]domain.APIKey, error) {
	return s.repo.ListAPIKeysByUserID(ctx, userID, includeRevoked)
}

// RevokeAPIKey revokes one of the caller's keys.
func (s *Service) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	if err := s.repo.RevokeAPIKey(ctx, userID, keyID); err != nil {
		return err
	}
	s.logger.Info("api key revoked", "key_id", keyID, "user_id", userID)
	return nil
}

// AuthenticateAPIKey resolves a presented plaintext key to its owner. Expired,
// revoked and unknown keys all map to ErrInvalidAPIKey.
func (s *Service) AuthenticateAPIKey(ctx context.Context, plain string) (uuid.UUID, error) {
	prefix, ok := security.DisplayPrefix(plain)
	if !ok {
		return uuid.Nil, ErrInvalidAPIKey
	}
	candidates, err := s.repo.FindAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		return uuid.Nil, err
	}
	now := time.Now()
	for _, k := range candidates {
		if k.ExpiresAt != nil && k.ExpiresAt.Before(now) {
			continue
		}
		if security.VerifyAPIKey(k.KeyHash, plain) {
			if err := s.repo.TouchAPIKeyLastUsed(ctx, k.ID); err != nil {
				s.logger.Warn("failed to stamp api key last_used", "key_id", k.ID, "error", err)
			}
			return k.UserID, nil
		}
	}
	return uuid.Nil, ErrInvalidAPIKey
}

// --- Webhook pipeline ---

// ProcessWebhook runs the full ingestion pipeline for one authenticated
// delivery: ledger insert, normalization, reconciliation, publication.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte) error {
	eventID, eventName := ExtractProviderEventID(payload)
	var providerID *string
	if eventID != "" {
		providerID = &eventID
	}

	row, isNew, err := s.repo.InsertBillingEvent(ctx, providerID, eventName, payload)
	if err != nil {
		return fmt.Errorf("failed to record billing event: %w", err)
	}
	if !isNew {
		s.logger.Info("duplicate billing event delivery absorbed", "provider_event_id", eventID, "ledger_id", row.ID)
		return nil
	}
	return s.reconcileLedgerRow(ctx, row)
}

// ReprocessBillingEvent re-runs normalization and reconciliation for an
// unprocessed ledger row. Operator path for events that arrived before their
// subscription existed.
func (s *Service) ReprocessBillingEvent(ctx context.Context, eventID uuid.UUID) (*domain.BillingEvent, error) {
	row, err := s.repo.FindBillingEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if row.Processed {
		return nil, ErrEventAlreadyProcessed
	}
	if err := s.reconcileLedgerRow(ctx, row); err != nil {
		return nil, err
	}
	return s.repo.FindBillingEventByID(ctx, eventID)
}

// ListBillingEvents lists ledger rows for operators.
func (s *Service) ListBillingEvents(ctx context.Context, opts store.BillingEventListOptions) ([]domain.BillingEvent, error) {
	return s.repo.ListBillingEvents(ctx, opts)
}

func (s *Service) reconcileLedgerRow(ctx context.Context, row *domain.BillingEvent) error {
	ev, err := NormalizeEvent(row.Payload)
	if err != nil {
		if errors.Is(err, ErrMalformedEvent) {
			s.logger.Warn("malformed billing event recorded", "ledger_id", row.ID)
			return s.repo.RecordBillingEventError(ctx, row.ID, true, "malformed payload")
		}
		return err
	}

	if ev.Type == domain.EventUnknown {
		s.logger.Info("unknown billing event type absorbed", "ledger_id", row.ID, "event_name", ev.RawType)
		return s.repo.MarkBillingEventProcessed(ctx, row.ID)
	}

	outcome, err := s.repo.ReconcileEvent(ctx, row.ID, ev, decideTransition(ev))
	if err != nil {
		return fmt.Errorf("failed to reconcile billing event: %w", err)
	}

	switch outcome.Decision.Kind {
	case domain.DecisionIgnore:
		s.logger.Info("billing event ignored", "ledger_id", row.ID, "event_name", ev.RawType, "detail", outcome.Decision.Detail)
	case domain.DecisionConflict:
		s.logger.Warn("billing event conflict", "ledger_id", row.ID, "event_name", ev.RawType, "detail", outcome.Decision.Detail)
	case domain.DecisionNoSubscription:
		s.logger.Warn("billing event matched no subscription", "ledger_id", row.ID, "event_name", ev.RawType, "detail", outcome.Decision.Detail)
	default:
		s.logger.Info("billing event applied",
			"ledger_id", row.ID,
			"event_name", ev.RawType,
			"subscription_id", outcome.SubscriptionID,
			"superseded", len(outcome.Superseded),
		)
		s.publish(ctx, "billing.subscription."+routingEvent(ev.Type), map[string]interface{}{
			"subscription_id": outcome.SubscriptionID,
			"user_id":         outcome.UserID,
			"event":           string(ev.Type),
			"provider_ref":    ev.ProviderSubscriptionID,
		})
	}
	return nil
}

// routingEvent maps a normalized event type to its routing key suffix, e.g.
// subscription_created -> created, payment_failed -> payment_failed.
func routingEvent(t domain.BillingEventType) string {
	return strings.TrimPrefix(string(t), "subscription_")
}

// publish sends a domain event to the broker. Best effort: failures are
// logged, never surfaced.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, EventsExchange, routingKey, body); err != nil {
		s.logger.Error("failed to publish billing event", "routing_key", routingKey, "error", err)
	}
}

// consumeRateLimit enforces the fixed-window limit for a scope. Fails open
// when Redis is unavailable.
func (s *Service) consumeRateLimit(ctx context.Context, scope, subject string) error {
	if s.limiter == nil || s.rateLimit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, scope, subject, s.rateLimit, s.rateWin)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, allowing request", "scope", scope, "error", err)
		return nil
	}
	if count > s.rateLimit {
		return &RateLimitedError{RetryAfterSeconds: retryAfter}
	}
	return nil
}
