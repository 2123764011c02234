/**
 * @description
 * This file implements the PostgreSQL data access layer for the billing-service.
 * It contains all the SQL queries and transactional logic for plans, profiles,
 * subscriptions, the billing-event ledger, and API keys.
 *
 * @notes
 * - Webhook reconciliation runs inside a single transaction: the subscription
 *   row is locked with SELECT ... FOR UPDATE before the decision function runs,
 *   so concurrent deliveries for the same subscription serialize on the row.
 * - The billing_events unique constraint on provider_event_id is the only
 *   idempotency mechanism; InsertBillingEvent uses ON CONFLICT DO NOTHING and
 *   reports whether the row was new.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/billing-service/internal/domain"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subscriptionColumns = `
	id, user_id, plan_id, status, provider_subscription_id,
	current_period_start, current_period_end, auto_renew,
	cancel_at_period_end, canceled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanID,
		&sub.Status,
		&sub.ProviderSubscriptionID,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.AutoRenew,
		&sub.CancelAtPeriodEnd,
		&sub.CanceledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// --- Plan methods ---

// ListPlans retrieves plans, optionally restricted to active ones.
func (r *PostgresRepository) ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	query := `
		SELECT id, name, description, price_monthly, price_annually, currency, features, active, created_at, updated_at
		FROM plans
	`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		var p domain.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PriceMonthly, &p.PriceAnnually, &p.Currency, &p.Features, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// FindPlanByID retrieves a single plan.
func (r *PostgresRepository) FindPlanByID(ctx context.Context, planID uuid.UUID) (*domain.Plan, error) {
	var p domain.Plan
	query := `
		SELECT id, name, description, price_monthly, price_annually, currency, features, active, created_at, updated_at
		FROM plans
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, planID).Scan(
		&p.ID, &p.Name, &p.Description, &p.PriceMonthly, &p.PriceAnnually,
		&p.Currency, &p.Features, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}
	return &p, nil
}

// --- Profile methods ---

// GetOrCreateProfile returns the profile for the auth subject, creating an
// empty row on first contact.
func (r *PostgresRepository) GetOrCreateProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	insertQuery := `
		INSERT INTO profiles (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, insertQuery, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure profile exists: %w", err)
	}

	var p domain.Profile
	query := `
		SELECT id, first_name, last_name, display_name, avatar_url, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.DisplayName, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// UpdateProfile applies the non-nil fields of the update and returns the
// resulting profile.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, userID uuid.UUID, upd domain.ProfileUpdate) (*domain.Profile, error) {
	var p domain.Profile
	query := `
		UPDATE profiles
		SET first_name   = COALESCE($2, first_name),
		    last_name    = COALESCE($3, last_name),
		    display_name = COALESCE($4, display_name),
		    avatar_url   = COALESCE($5, avatar_url),
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id, first_name, last_name, display_name, avatar_url, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, userID, upd.FirstName, upd.LastName, upd.DisplayName, upd.AvatarURL).Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.DisplayName, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return &p, nil
}

// --- Subscription methods ---

// CreatePendingSubscription inserts a pending subscription for a user who has
// started a vendor checkout. It fails with ErrActiveSubscriptionExists if the
// user already holds an effective subscription.
func (r *PostgresRepository) CreatePendingSubscription(ctx context.Context, userID, planID uuid.UUID, providerRef *string) (*domain.Subscription, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock any effective rows so a concurrent webhook activation and this
	// check cannot race.
	var existing int
	checkQuery := `
		SELECT COUNT(*)
		FROM (
			SELECT id FROM subscriptions
			WHERE user_id = $1 AND status IN ('active', 'past_due')
			FOR UPDATE
		) effective
	`
	if err := tx.QueryRow(ctx, checkQuery, userID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("failed to check effective subscriptions: %w", err)
	}
	if existing > 0 {
		return nil, ErrActiveSubscriptionExists
	}

	insertQuery := `
		INSERT INTO subscriptions (id, user_id, plan_id, status, provider_subscription_id, current_period_start, current_period_end, auto_renew)
		VALUES ($1, $2, $3, 'pending', $4, NOW(), NOW(), true)
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(tx.QueryRow(ctx, insertQuery, uuid.New(), userID, planID, providerRef))
	if err != nil {
		return nil, fmt.Errorf("failed to insert pending subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sub, nil
}

// FindEffectiveSubscriptionByUserID returns the user's active or past_due
// subscription, or the most recent pending one if no effective row exists.
func (r *PostgresRepository) FindEffectiveSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'past_due', 'pending')
		ORDER BY CASE status WHEN 'active' THEN 0 WHEN 'past_due' THEN 1 ELSE 2 END, created_at DESC
		LIMIT 1
	`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

// CancelSubscriptionByUser cancels the user's current subscription. A pending
// subscription is canceled immediately; an effective one keeps access until
// the period end and is swept by the expiry job.
func (r *PostgresRepository) CancelSubscriptionByUser(ctx context.Context, userID uuid.UUID, reason string) (*domain.Subscription, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status IN ('pending', 'active', 'past_due')
		ORDER BY CASE status WHEN 'active' THEN 0 WHEN 'past_due' THEN 1 ELSE 2 END, created_at DESC
		LIMIT 1
		FOR UPDATE
	`
	sub, err := scanSubscription(tx.QueryRow(ctx, lockQuery, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}

	var updateQuery string
	if sub.Status == domain.SubscriptionPending {
		updateQuery = `
			UPDATE subscriptions
			SET status = 'canceled', canceled_at = NOW(), auto_renew = false, updated_at = NOW()
			WHERE id = $1
			RETURNING ` + subscriptionColumns
	} else {
		updateQuery = `
			UPDATE subscriptions
			SET cancel_at_period_end = true, canceled_at = NOW(), auto_renew = false, updated_at = NOW()
			WHERE id = $1
			RETURNING ` + subscriptionColumns
	}
	updated, err := scanSubscription(tx.QueryRow(ctx, updateQuery, sub.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	meta, err := domain.EncodeMeta(domain.CancellationMeta{Reason: reason, Initiator: "user"})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cancellation metadata: %w", err)
	}
	if err := insertHistoryTx(ctx, tx, updated.ID, domain.HistoryEventCanceled, nil, meta); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

// ListSubscriptionHistoryByUserID lists audit entries across all of the
// user's subscriptions, newest first.
func (r *PostgresRepository) ListSubscriptionHistoryByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.SubscriptionHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT h.id, h.subscription_id, h.event, h.amount, h.metadata, h.event_date
		FROM subscription_history h
		JOIN subscriptions s ON s.id = h.subscription_id
		WHERE s.user_id = $1
		ORDER BY h.event_date DESC, h.id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription history: %w", err)
	}
	defer rows.Close()

	var entries []domain.SubscriptionHistory
	for rows.Next() {
		var h domain.SubscriptionHistory
		if err := rows.Scan(&h.ID, &h.SubscriptionID, &h.Event, &h.Amount, &h.Metadata, &h.EventDate); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// ExpireLapsedSubscriptions flips effective subscriptions whose period has
// ended and whose renewal is off to expired, appending an audit entry for
// each within the same transaction. It returns the expired subscription IDs.
func (r *PostgresRepository) ExpireLapsedSubscriptions(ctx context.Context) ([]uuid.UUID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT id, status
		FROM subscriptions
		WHERE status IN ('active', 'past_due')
		  AND auto_renew = false
		  AND current_period_end < NOW()
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, lockQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to find lapsed subscriptions: %w", err)
	}
	type lapsed struct {
		id     uuid.UUID
		status domain.SubscriptionStatus
	}
	var found []lapsed
	for rows.Next() {
		var l lapsed
		if err := rows.Scan(&l.id, &l.status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan lapsed subscription: %w", err)
		}
		found = append(found, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []uuid.UUID
	for _, l := range found {
		updateQuery := `
			UPDATE subscriptions
			SET status = 'expired', updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, updateQuery, l.id); err != nil {
			return nil, fmt.Errorf("failed to expire subscription %s: %w", l.id, err)
		}
		meta, err := domain.EncodeMeta(domain.StatusChangeMeta{From: l.status, To: domain.SubscriptionExpired})
		if err != nil {
			return nil, fmt.Errorf("failed to encode expiry metadata: %w", err)
		}
		if err := insertHistoryTx(ctx, tx, l.id, domain.HistoryEventExpired, nil, meta); err != nil {
			return nil, err
		}
		expired = append(expired, l.id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return expired, nil
}

// --- Billing event methods ---

// InsertBillingEvent records an inbound webhook delivery. A conflicting
// provider_event_id means the delivery is a duplicate: the existing row is
// returned with isNew=false and no other state changes.
func (r *PostgresRepository) InsertBillingEvent(ctx context.Context, providerEventID *string, eventType string, payload []byte) (*domain.BillingEvent, bool, error) {
	insertQuery := `
		INSERT INTO billing_events (id, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_event_id) DO NOTHING
		RETURNING id, provider_event_id, event_type, payload, processed, processed_at, error_message, received_at
	`
	var ev domain.BillingEvent
	err := r.db.QueryRow(ctx, insertQuery, uuid.New(), providerEventID, eventType, payload).Scan(
		&ev.ID, &ev.ProviderEventID, &ev.EventType, &ev.Payload,
		&ev.Processed, &ev.ProcessedAt, &ev.ErrorMessage, &ev.ReceivedAt,
	)
	if err == nil {
		return &ev, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert billing event: %w", err)
	}

	// Duplicate delivery: fetch the original ledger row.
	selectQuery := `
		SELECT id, provider_event_id, event_type, payload, processed, processed_at, error_message, received_at
		FROM billing_events
		WHERE provider_event_id = $1
	`
	err = r.db.QueryRow(ctx, selectQuery, providerEventID).Scan(
		&ev.ID, &ev.ProviderEventID, &ev.EventType, &ev.Payload,
		&ev.Processed, &ev.ProcessedAt, &ev.ErrorMessage, &ev.ReceivedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load duplicate billing event: %w", err)
	}
	return &ev, false, nil
}

// RecordBillingEventError annotates a ledger row with an error message. The
// processed flag distinguishes absorbed problems (malformed payloads) from
// rows an operator should revisit (no matching subscription).
func (r *PostgresRepository) RecordBillingEventError(ctx context.Context, eventID uuid.UUID, processed bool, message string) error {
	query := `
		UPDATE billing_events
		SET processed = $2,
		    processed_at = CASE WHEN $2 THEN NOW() ELSE processed_at END,
		    error_message = $3
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, eventID, processed, message)
	if err != nil {
		return fmt.Errorf("failed to record billing event error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillingEventNotFound
	}
	return nil
}

// MarkBillingEventProcessed flips a ledger row to processed.
func (r *PostgresRepository) MarkBillingEventProcessed(ctx context.Context, eventID uuid.UUID) error {
	query := `
		UPDATE billing_events
		SET processed = true, processed_at = NOW(), error_message = NULL
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark billing event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillingEventNotFound
	}
	return nil
}

// ReconcileEvent applies a billing event to subscription state in one
// transaction. The decision function runs with the subscription row locked,
// its writes and the history entry land atomically with the ledger update.
func (r *PostgresRepository) ReconcileEvent(ctx context.Context, eventID uuid.UUID, ev domain.NormalizedEvent, decide domain.TransitionFunc) (*domain.ReconcileOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current *domain.Subscription
	if ev.ProviderSubscriptionID != "" {
		lockQuery := `
			SELECT ` + subscriptionColumns + `
			FROM subscriptions
			WHERE provider_subscription_id = $1
			FOR UPDATE
		`
		current, err = scanSubscription(tx.QueryRow(ctx, lockQuery, ev.ProviderSubscriptionID))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("failed to lock subscription: %w", err)
			}
			current = nil
		}
	}

	decision := decide(current)
	outcome := &domain.ReconcileOutcome{Decision: decision}
	if current != nil {
		outcome.SubscriptionID = current.ID
		outcome.UserID = current.UserID
	}

	switch decision.Kind {
	case domain.DecisionCreate:
		if err := r.applyCreate(ctx, tx, ev, decision, outcome); err != nil {
			return nil, err
		}

	case domain.DecisionTransition:
		if err := r.applyTransition(ctx, tx, current, ev, decision); err != nil {
			return nil, err
		}

	case domain.DecisionRecordOnly:
		meta, err := domain.EncodeMeta(decision.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to encode history metadata: %w", err)
		}
		if err := insertHistoryTx(ctx, tx, current.ID, decision.HistoryEvent, ev.Amount, meta); err != nil {
			return nil, err
		}

	case domain.DecisionIgnore, domain.DecisionConflict, domain.DecisionNoSubscription:
		// No subscription writes.
	}

	// Settle the ledger row in the same transaction.
	switch decision.Kind {
	case domain.DecisionNoSubscription:
		settleQuery := `
			UPDATE billing_events
			SET processed = false, error_message = $2
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, settleQuery, eventID, decision.Detail); err != nil {
			return nil, fmt.Errorf("failed to record unmatched event: %w", err)
		}
	case domain.DecisionConflict:
		settleQuery := `
			UPDATE billing_events
			SET processed = true, processed_at = NOW(), error_message = $2
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, settleQuery, eventID, decision.Detail); err != nil {
			return nil, fmt.Errorf("failed to record event conflict: %w", err)
		}
	default:
		settleQuery := `
			UPDATE billing_events
			SET processed = true, processed_at = NOW(), error_message = NULL
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, settleQuery, eventID); err != nil {
			return nil, fmt.Errorf("failed to mark event processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return outcome, nil
}

// applyCreate inserts a new active subscription from a vendor-originated
// creation event, superseding any effective subscription the user holds.
func (r *PostgresRepository) applyCreate(ctx context.Context, tx pgx.Tx, ev domain.NormalizedEvent, decision domain.Decision, outcome *domain.ReconcileOutcome) error {
	newID := uuid.New()

	lockQuery := `
		SELECT id
		FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'past_due')
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, lockQuery, *ev.UserID)
	if err != nil {
		return fmt.Errorf("failed to lock effective subscriptions: %w", err)
	}
	var prior []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan effective subscription: %w", err)
		}
		prior = append(prior, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range prior {
		supersedeQuery := `
			UPDATE subscriptions
			SET status = 'canceled', canceled_at = NOW(), auto_renew = false, updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, supersedeQuery, id); err != nil {
			return fmt.Errorf("failed to supersede subscription %s: %w", id, err)
		}
		meta, err := domain.EncodeMeta(domain.SupersededMeta{ReplacedBy: newID.String()})
		if err != nil {
			return fmt.Errorf("failed to encode supersede metadata: %w", err)
		}
		if err := insertHistoryTx(ctx, tx, id, domain.HistoryEventSuperseded, nil, meta); err != nil {
			return err
		}
	}
	outcome.Superseded = prior

	periodEnd := time.Now().AddDate(0, 1, 0)
	if decision.NewPeriodEnd != nil {
		periodEnd = *decision.NewPeriodEnd
	}
	insertQuery := `
		INSERT INTO subscriptions (id, user_id, plan_id, status, provider_subscription_id, current_period_start, current_period_end, auto_renew)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6, true)
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(tx.QueryRow(ctx, insertQuery, newID, *ev.UserID, *ev.PlanID, decision.NewStatus, ev.ProviderSubscriptionID, periodEnd))
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	outcome.SubscriptionID = sub.ID
	outcome.UserID = sub.UserID
	return nil
}

// applyTransition updates a locked subscription row and appends one history
// entry.
func (r *PostgresRepository) applyTransition(ctx context.Context, tx pgx.Tx, current *domain.Subscription, ev domain.NormalizedEvent, decision domain.Decision) error {
	updateQuery := `
		UPDATE subscriptions
		SET status = $2,
		    canceled_at = CASE WHEN $3 THEN NOW() ELSE canceled_at END,
		    auto_renew = CASE WHEN $3 THEN false ELSE auto_renew END,
		    current_period_end = COALESCE($4, current_period_end),
		    updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateQuery, current.ID, decision.NewStatus, decision.SetCanceled, decision.NewPeriodEnd); err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}

	meta, err := domain.EncodeMeta(decision.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode history metadata: %w", err)
	}
	return insertHistoryTx(ctx, tx, current.ID, decision.HistoryEvent, ev.Amount, meta)
}

func insertHistoryTx(ctx context.Context, tx pgx.Tx, subscriptionID uuid.UUID, event string, amount *int64, metadata []byte) error {
	query := `
		INSERT INTO subscription_history (id, subscription_id, event, amount, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, query, uuid.New(), subscriptionID, event, amount, metadata); err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// ListBillingEvents lists ledger rows for operators, newest first.
func (r *PostgresRepository) ListBillingEvents(ctx context.Context, opts BillingEventListOptions) ([]domain.BillingEvent, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, provider_event_id, event_type, payload, processed, processed_at, error_message, received_at
		FROM billing_events
		WHERE ($1::boolean IS NULL OR processed = $1)
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, opts.Processed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing events: %w", err)
	}
	defer rows.Close()

	var events []domain.BillingEvent
	for rows.Next() {
		var ev domain.BillingEvent
		if err := rows.Scan(&ev.ID, &ev.ProviderEventID, &ev.EventType, &ev.Payload, &ev.Processed, &ev.ProcessedAt, &ev.ErrorMessage, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan billing event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// FindBillingEventByID retrieves a single ledger row.
func (r *PostgresRepository) FindBillingEventByID(ctx context.Context, eventID uuid.UUID) (*domain.BillingEvent, error) {
	var ev domain.BillingEvent
	query := `
		SELECT id, provider_event_id, event_type, payload, processed, processed_at, error_message, received_at
		FROM billing_events
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, eventID).Scan(
		&ev.ID, &ev.ProviderEventID, &ev.EventType, &ev.Payload,
		&ev.Processed, &ev.ProcessedAt, &ev.ErrorMessage, &ev.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillingEventNotFound
		}
		return nil, fmt.Errorf("failed to find billing event: %w", err)
	}
	return &ev, nil
}

// --- API key methods ---

// CreateAPIKey persists a new API key record (hash and prefix only).
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, key *domain.APIKey) (*domain.APIKey, error) {
	var created domain.APIKey
	query := `
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, key_hash, key_prefix, name, revoked, created_at, expires_at, last_used
	`
	err := r.db.QueryRow(ctx, query, uuid.New(), key.UserID, key.KeyHash, key.KeyPrefix, key.Name, key.ExpiresAt).Scan(
		&created.ID, &created.UserID, &created.KeyHash, &created.KeyPrefix,
		&created.Name, &created.Revoked, &created.CreatedAt, &created.ExpiresAt, &created.LastUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}
	return &created, nil
}

// ListAPIKeysByUserID lists a user's API keys, newest first.
func (r *PostgresRepository) ListAPIKeysByUserID(ctx context.Context, userID uuid.UUID, includeRevoked bool) ([]domain.APIKey, error) {
	query := `
		SELECT id, user_id, key_hash, key_prefix, name, revoked, created_at, expires_at, last_used
		FROM api_keys
		WHERE user_id = $1
	`
	if !includeRevoked {
		query += ` AND revoked = false`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Revoked, &k.CreatedAt, &k.ExpiresAt, &k.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks a user's key revoked. Revocation is permanent.
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	query := `
		UPDATE api_keys
		SET revoked = true
		WHERE id = $1 AND user_id = $2 AND revoked = false
	`
	tag, err := r.db.Exec(ctx, query, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// FindAPIKeysByPrefix returns unrevoked keys matching a display prefix for
// hash verification during API-key authentication.
func (r *PostgresRepository) FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]domain.APIKey, error) {
	query := `
		SELECT id, user_id, key_hash, key_prefix, name, revoked, created_at, expires_at, last_used
		FROM api_keys
		WHERE key_prefix = $1 AND revoked = false
	`
	rows, err := r.db.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to find api keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Revoked, &k.CreatedAt, &k.ExpiresAt, &k.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchAPIKeyLastUsed stamps the last_used column after a successful
// API-key authentication. Best effort.
func (r *PostgresRepository) TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	query := `
		UPDATE api_keys
		SET last_used = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, keyID); err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}
