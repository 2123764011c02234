/**
 * @description
 * The pure decision core of webhook reconciliation. decide inspects the
 * current subscription state (locked by the store) and one normalized billing
 * event, and returns exactly what should happen: create a row, transition it,
 * record an audit entry, or do nothing.
 *
 * @notes
 * - Vendors deliver webhooks at least once and out of order. Stale or
 *   duplicate information maps to DecisionIgnore; transitions that are
 *   impossible from the current state map to DecisionConflict. Neither
 *   fails the delivery.
 * - canceled and expired are terminal: no event moves a subscription out of
 *   them. A later creation event starts a fresh row instead.
 */
package app

import (
	"fmt"

	"github.com/transfa/billing-service/internal/domain"
)

// decideTransition binds a normalized event into the TransitionFunc the store
// invokes under the row lock.
func decideTransition(ev domain.NormalizedEvent) domain.TransitionFunc {
	return func(current *domain.Subscription) domain.Decision {
		return decide(current, ev)
	}
}

func decide(current *domain.Subscription, ev domain.NormalizedEvent) domain.Decision {
	if current == nil {
		return decideWithoutSubscription(ev)
	}

	if current.Status.IsTerminal() {
		return domain.Decision{
			Kind:   domain.DecisionConflict,
			Detail: fmt.Sprintf("event %s arrived for %s subscription", ev.RawType, current.Status),
		}
	}

	switch ev.Type {
	case domain.EventSubscriptionCreated:
		// The user-initiated checkout left a pending row; the vendor's
		// creation event confirms it.
		if current.Status == domain.SubscriptionPending {
			return transition(current, domain.SubscriptionActive, domain.HistoryEventActivated, ev, false)
		}
		return domain.Decision{Kind: domain.DecisionIgnore, Detail: "duplicate creation for established subscription"}

	case domain.EventSubscriptionUpdated:
		return decideUpdated(current, ev)

	case domain.EventPaymentSucceeded:
		switch current.Status {
		case domain.SubscriptionPending, domain.SubscriptionPastDue:
			d := transition(current, domain.SubscriptionActive, domain.HistoryEventPaymentSucceeded, ev, false)
			d.Meta = domain.PaymentMeta{AmountCents: ev.Amount, Succeeded: true, ProviderRef: ev.ProviderSubscriptionID}
			return d
		default:
			return domain.Decision{
				Kind:         domain.DecisionRecordOnly,
				HistoryEvent: domain.HistoryEventPaymentSucceeded,
				Meta:         domain.PaymentMeta{AmountCents: ev.Amount, Succeeded: true, ProviderRef: ev.ProviderSubscriptionID},
			}
		}

	case domain.EventPaymentFailed:
		switch current.Status {
		case domain.SubscriptionActive:
			d := transition(current, domain.SubscriptionPastDue, domain.HistoryEventPaymentFailed, ev, false)
			d.Meta = domain.PaymentMeta{AmountCents: ev.Amount, Succeeded: false, ProviderRef: ev.ProviderSubscriptionID}
			return d
		case domain.SubscriptionPastDue:
			return domain.Decision{Kind: domain.DecisionIgnore, Detail: "subscription already past_due"}
		default:
			return domain.Decision{
				Kind:   domain.DecisionConflict,
				Detail: fmt.Sprintf("payment failure for %s subscription", current.Status),
			}
		}

	case domain.EventSubscriptionCanceled:
		d := transition(current, domain.SubscriptionCanceled, domain.HistoryEventCanceled, ev, true)
		d.Meta = domain.CancellationMeta{Initiator: "vendor"}
		return d

	case domain.EventSubscriptionResumed:
		switch current.Status {
		case domain.SubscriptionPastDue:
			return transition(current, domain.SubscriptionActive, domain.HistoryEventResumed, ev, false)
		case domain.SubscriptionActive:
			return domain.Decision{Kind: domain.DecisionIgnore, Detail: "subscription already active"}
		default:
			return domain.Decision{
				Kind:   domain.DecisionConflict,
				Detail: fmt.Sprintf("resume event for %s subscription", current.Status),
			}
		}

	case domain.EventSubscriptionExpired:
		switch current.Status {
		case domain.SubscriptionActive, domain.SubscriptionPastDue:
			return transition(current, domain.SubscriptionExpired, domain.HistoryEventExpired, ev, false)
		default:
			return domain.Decision{
				Kind:   domain.DecisionConflict,
				Detail: fmt.Sprintf("expiry event for %s subscription", current.Status),
			}
		}
	}

	return domain.Decision{Kind: domain.DecisionIgnore, Detail: fmt.Sprintf("unhandled event type %s", ev.Type)}
}

func decideWithoutSubscription(ev domain.NormalizedEvent) domain.Decision {
	if ev.Type != domain.EventSubscriptionCreated {
		return domain.Decision{
			Kind:   domain.DecisionNoSubscription,
			Detail: fmt.Sprintf("no subscription matches vendor ref %q", ev.ProviderSubscriptionID),
		}
	}
	if ev.UserID == nil || ev.PlanID == nil {
		return domain.Decision{
			Kind:   domain.DecisionNoSubscription,
			Detail: "creation event missing user_id or plan_id custom data",
		}
	}
	return domain.Decision{
		Kind:         domain.DecisionCreate,
		NewStatus:    domain.SubscriptionActive,
		NewPeriodEnd: ev.PeriodEnd,
	}
}

func decideUpdated(current *domain.Subscription, ev domain.NormalizedEvent) domain.Decision {
	target, known := statusFromVendor(ev.VendorStatus)
	if !known || target == current.Status {
		// A period change alone is still worth syncing and auditing.
		if ev.PeriodEnd != nil && !ev.PeriodEnd.Equal(current.CurrentPeriodEnd) {
			return transition(current, current.Status, domain.HistoryEventUpdated, ev, false)
		}
		return domain.Decision{Kind: domain.DecisionIgnore, Detail: "update carries no state change"}
	}

	switch target {
	case domain.SubscriptionCanceled:
		d := transition(current, target, domain.HistoryEventCanceled, ev, true)
		d.Meta = domain.CancellationMeta{Initiator: "vendor"}
		return d
	case domain.SubscriptionExpired:
		return transition(current, target, domain.HistoryEventExpired, ev, false)
	default:
		return transition(current, target, domain.HistoryEventUpdated, ev, false)
	}
}

func transition(current *domain.Subscription, to domain.SubscriptionStatus, event string, ev domain.NormalizedEvent, cancel bool) domain.Decision {
	return domain.Decision{
		Kind:         domain.DecisionTransition,
		NewStatus:    to,
		HistoryEvent: event,
		SetCanceled:  cancel,
		NewPeriodEnd: ev.PeriodEnd,
		Meta: domain.StatusChangeMeta{
			From:         current.Status,
			To:           to,
			ProviderRef:  ev.ProviderSubscriptionID,
			VendorStatus: ev.VendorStatus,
		},
	}
}

func statusFromVendor(vendorStatus string) (domain.SubscriptionStatus, bool) {
	switch vendorStatus {
	case "active", "on_trial":
		return domain.SubscriptionActive, true
	case "past_due", "unpaid":
		return domain.SubscriptionPastDue, true
	case "cancelled":
		return domain.SubscriptionCanceled, true
	case "expired":
		return domain.SubscriptionExpired, true
	default:
		return "", false
	}
}
