/**
 * @description
 * This file defines the core domain models for subscriptions and their audit
 * history. These structs represent the entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents), which
 *   avoids floating-point inaccuracies with financial data.
 * - SubscriptionHistory rows are append-only: they are never updated or
 *   deleted after creation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus enumerates the lifecycle states of a subscription.
type SubscriptionStatus string

const (
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// IsEffective reports whether a subscription in this status currently grants
// access. Only one effective subscription may exist per user at a time.
func (s SubscriptionStatus) IsEffective() bool {
	return s == SubscriptionActive || s == SubscriptionPastDue
}

// IsTerminal reports whether the status accepts no further billing-event
// transitions.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionCanceled || s == SubscriptionExpired
}

// Subscription maps to the `subscriptions` table.
type Subscription struct {
	ID                     uuid.UUID          `json:"id"`
	UserID                 uuid.UUID          `json:"user_id"`
	PlanID                 uuid.UUID          `json:"plan_id"`
	Status                 SubscriptionStatus `json:"status"`
	ProviderSubscriptionID *string            `json:"provider_subscription_id,omitempty"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	AutoRenew              bool               `json:"auto_renew"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// SubscriptionHistory is one append-only audit entry for a subscription.
// Metadata holds the JSON-encoded tagged variant produced by EncodeMeta.
type SubscriptionHistory struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Event          string    `json:"event"`
	Amount         *int64    `json:"amount,omitempty"` // in cents
	Metadata       []byte    `json:"metadata,omitempty"`
	EventDate      time.Time `json:"event_date"`
}

// History event names. Each accepted transition appends exactly one entry
// using one of these.
const (
	HistoryEventCreated          = "created"
	HistoryEventActivated        = "activated"
	HistoryEventUpdated          = "updated"
	HistoryEventCanceled         = "canceled"
	HistoryEventSuperseded       = "superseded"
	HistoryEventResumed          = "resumed"
	HistoryEventExpired          = "expired"
	HistoryEventPaymentSucceeded = "payment_succeeded"
	HistoryEventPaymentFailed    = "payment_failed"
)

// CreateSubscriptionRequest is the DTO for user-initiated subscription
// creation, typically called after the client has started a vendor checkout.
type CreateSubscriptionRequest struct {
	PlanID                 uuid.UUID `json:"plan_id"`
	ProviderSubscriptionID *string   `json:"provider_subscription_id,omitempty"`
}

// CancelSubscriptionRequest carries the optional user-supplied reason.
type CancelSubscriptionRequest struct {
	Reason string `json:"reason,omitempty"`
}
