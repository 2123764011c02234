/**
 * @description
 * Tagged metadata variants attached to subscription history entries. Each
 * variant serializes with a discriminating "kind" field so history rows stay
 * self-describing without a schema migration per event shape.
 */
package domain

import "encoding/json"

// EventMeta is implemented by all history metadata variants.
type EventMeta interface {
	metaKind() string
}

// StatusChangeMeta records a status transition driven by a billing event.
type StatusChangeMeta struct {
	From         SubscriptionStatus `json:"from"`
	To           SubscriptionStatus `json:"to"`
	ProviderRef  string             `json:"provider_ref,omitempty"`
	VendorStatus string             `json:"vendor_status,omitempty"`
}

func (StatusChangeMeta) metaKind() string { return "status_change" }

// PaymentMeta records a payment outcome observed via webhook.
type PaymentMeta struct {
	AmountCents *int64 `json:"amount_cents,omitempty"`
	Succeeded   bool   `json:"succeeded"`
	ProviderRef string `json:"provider_ref,omitempty"`
}

func (PaymentMeta) metaKind() string { return "payment" }

// CancellationMeta records a cancellation and who initiated it.
type CancellationMeta struct {
	Reason    string `json:"reason,omitempty"`
	Initiator string `json:"initiator"` // "user", "vendor" or "system"
}

func (CancellationMeta) metaKind() string { return "cancellation" }

// SupersededMeta records that a newer subscription replaced this one.
type SupersededMeta struct {
	ReplacedBy string `json:"replaced_by"`
}

func (SupersededMeta) metaKind() string { return "superseded" }

// EncodeMeta serializes a metadata variant with its discriminating kind tag.
// A nil meta encodes to nil so the history column stays NULL.
func EncodeMeta(m EventMeta) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	inner, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(inner, &fields); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(m.metaKind())
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}
