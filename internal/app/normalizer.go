/**
 * @description
 * Translates the billing vendor's webhook envelope into the internal
 * NormalizedEvent. The vendor wraps everything in a meta/data envelope:
 * meta carries the event id, event name and checkout custom_data, data
 * carries the vendor's subscription object.
 *
 * @notes
 * - A payload without an event id or event name is malformed: it can be
 *   recorded but never reconciled, so NormalizeEvent returns ErrMalformedEvent.
 * - Unrecognized event names map to EventUnknown rather than an error, so new
 *   vendor event types degrade to a logged no-op.
 */
package app

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/billing-service/internal/domain"
)

// ErrMalformedEvent marks payloads missing the fields required to identify
// the event. Such deliveries are recorded on the ledger and absorbed.
var ErrMalformedEvent = errors.New("malformed billing event payload")

type vendorEnvelope struct {
	Meta struct {
		EventID    string `json:"event_id"`
		EventName  string `json:"event_name"`
		CustomData struct {
			UserID string `json:"user_id"`
			PlanID string `json:"plan_id"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status   string  `json:"status"`
			Total    *int64  `json:"total"`
			EndsAt   *string `json:"ends_at"`
			RenewsAt *string `json:"renews_at"`
		} `json:"attributes"`
	} `json:"data"`
}

// ExtractProviderEventID pulls the vendor event id and event name out of a
// raw payload before any validation, so even malformed deliveries can be
// recorded on the ledger. Both values may be empty.
func ExtractProviderEventID(payload []byte) (eventID string, eventName string) {
	var env vendorEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", ""
	}
	return env.Meta.EventID, env.Meta.EventName
}

// NormalizeEvent parses a vendor payload into a NormalizedEvent.
func NormalizeEvent(payload []byte) (domain.NormalizedEvent, error) {
	var env vendorEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.NormalizedEvent{}, ErrMalformedEvent
	}
	if env.Meta.EventID == "" || env.Meta.EventName == "" {
		return domain.NormalizedEvent{}, ErrMalformedEvent
	}

	ev := domain.NormalizedEvent{
		ProviderEventID:        env.Meta.EventID,
		Type:                   mapEventName(env.Meta.EventName),
		RawType:                env.Meta.EventName,
		ProviderSubscriptionID: env.Data.ID,
		Amount:                 env.Data.Attributes.Total,
		VendorStatus:           env.Data.Attributes.Status,
		PeriodEnd:              parseVendorTime(env.Data.Attributes.RenewsAt),
		EndsAt:                 parseVendorTime(env.Data.Attributes.EndsAt),
	}
	if id, err := uuid.Parse(env.Meta.CustomData.UserID); err == nil {
		ev.UserID = &id
	}
	if id, err := uuid.Parse(env.Meta.CustomData.PlanID); err == nil {
		ev.PlanID = &id
	}
	return ev, nil
}

func mapEventName(name string) domain.BillingEventType {
	switch name {
	case "subscription_created":
		return domain.EventSubscriptionCreated
	case "subscription_updated":
		return domain.EventSubscriptionUpdated
	case "subscription_cancelled":
		return domain.EventSubscriptionCanceled
	case "subscription_resumed":
		return domain.EventSubscriptionResumed
	case "subscription_expired":
		return domain.EventSubscriptionExpired
	case "subscription_payment_success":
		return domain.EventPaymentSucceeded
	case "subscription_payment_failed":
		return domain.EventPaymentFailed
	default:
		return domain.EventUnknown
	}
}

func parseVendorTime(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil
	}
	return &t
}
