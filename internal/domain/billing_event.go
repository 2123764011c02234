/**
 * @description
 * Domain models for the webhook ingestion pipeline: the durable BillingEvent
 * ledger row, the normalized event extracted from a vendor payload, and the
 * reconciliation decision types shared between the app and store layers.
 *
 * @notes
 * - BillingEvent rows are created on receipt and only ever flipped to
 *   processed (or annotated with an error); they are never deleted. The
 *   unique constraint on ProviderEventID is the sole idempotency mechanism.
 * - Unknown event types are preserved, not rejected, so new vendor event
 *   names degrade to a logged no-op instead of a failed delivery.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BillingEventType enumerates the normalized billing event kinds.
type BillingEventType string

const (
	EventSubscriptionCreated  BillingEventType = "subscription_created"
	EventSubscriptionUpdated  BillingEventType = "subscription_updated"
	EventSubscriptionCanceled BillingEventType = "subscription_canceled"
	EventSubscriptionResumed  BillingEventType = "subscription_resumed"
	EventSubscriptionExpired  BillingEventType = "subscription_expired"
	EventPaymentSucceeded     BillingEventType = "payment_succeeded"
	EventPaymentFailed        BillingEventType = "payment_failed"
	EventUnknown              BillingEventType = "unknown"
)

// BillingEvent is one ledger row per inbound webhook delivery.
type BillingEvent struct {
	ID              uuid.UUID       `json:"id"`
	ProviderEventID *string         `json:"provider_event_id,omitempty"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	Processed       bool            `json:"processed"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// NormalizedEvent is the vendor-agnostic view of a billing event that the
// reconciler operates on. ProviderEventID and Type are mandatory; everything
// else is best effort.
type NormalizedEvent struct {
	ProviderEventID        string
	Type                   BillingEventType
	RawType                string // vendor's original event name, kept for logging
	ProviderSubscriptionID string
	UserID                 *uuid.UUID // from the vendor's custom metadata, if present
	PlanID                 *uuid.UUID
	Amount                 *int64 // in cents
	VendorStatus           string
	PeriodEnd              *time.Time
	EndsAt                 *time.Time
}

// DecisionKind classifies what a billing event should do to subscription
// state.
type DecisionKind int

const (
	// DecisionIgnore: stale or duplicate information; no writes at all.
	DecisionIgnore DecisionKind = iota
	// DecisionConflict: transition attempted from a terminal or mismatched
	// state. Logged as a warning; the ledger row is still marked processed.
	DecisionConflict
	// DecisionCreate: no subscription matches the external ref; create one.
	DecisionCreate
	// DecisionTransition: update the subscription status (and related
	// fields) and append one history entry.
	DecisionTransition
	// DecisionRecordOnly: append one history entry without changing status.
	DecisionRecordOnly
	// DecisionNoSubscription: the event references no known subscription and
	// cannot create one; recorded as an error for operator inspection.
	DecisionNoSubscription
)

// Decision is the outcome of the pure reconciliation state machine for one
// event against the current (row-locked) subscription state.
type Decision struct {
	Kind         DecisionKind
	NewStatus    SubscriptionStatus
	HistoryEvent string
	Meta         EventMeta
	Detail       string // human-readable reason for conflicts and errors
	SetCanceled  bool   // stamp canceled_at and disable auto-renew
	NewPeriodEnd *time.Time
}

// TransitionFunc computes a Decision from the current subscription state.
// The store calls it with the row lock held so concurrent events for the same
// subscription cannot interleave their read and write.
type TransitionFunc func(current *Subscription) Decision

// ReconcileOutcome reports what a committed reconciliation actually did.
type ReconcileOutcome struct {
	Decision       Decision
	SubscriptionID uuid.UUID
	UserID         uuid.UUID
	Superseded     []uuid.UUID // prior effective subscriptions canceled by a create
}
