package domain

import (
	"encoding/json"
	"testing"
)

func TestEncodeMetaTagsKind(t *testing.T) {
	amount := int64(1999)
	tests := []struct {
		name     string
		meta     EventMeta
		wantKind string
	}{
		{"status change", StatusChangeMeta{From: SubscriptionPending, To: SubscriptionActive}, "status_change"},
		{"payment", PaymentMeta{AmountCents: &amount, Succeeded: true}, "payment"},
		{"cancellation", CancellationMeta{Reason: "too expensive", Initiator: "user"}, "cancellation"},
		{"superseded", SupersededMeta{ReplacedBy: "abc"}, "superseded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeMeta(tt.meta)
			if err != nil {
				t.Fatalf("EncodeMeta: %v", err)
			}
			var decoded map[string]json.RawMessage
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("output is not a JSON object: %v", err)
			}
			var kind string
			if err := json.Unmarshal(decoded["kind"], &kind); err != nil {
				t.Fatalf("kind field missing: %v", err)
			}
			if kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
		})
	}
}

func TestEncodeMetaNil(t *testing.T) {
	raw, err := EncodeMeta(nil)
	if err != nil {
		t.Fatalf("EncodeMeta(nil): %v", err)
	}
	if raw != nil {
		t.Errorf("EncodeMeta(nil) = %q, want nil", raw)
	}
}

func TestStatusPredicates(t *testing.T) {
	effective := map[SubscriptionStatus]bool{
		SubscriptionPending:  false,
		SubscriptionActive:   true,
		SubscriptionPastDue:  true,
		SubscriptionCanceled: false,
		SubscriptionExpired:  false,
	}
	for status, want := range effective {
		if got := status.IsEffective(); got != want {
			t.Errorf("%s.IsEffective() = %v, want %v", status, got, want)
		}
	}

	terminal := map[SubscriptionStatus]bool{
		SubscriptionPending:  false,
		SubscriptionActive:   false,
		SubscriptionPastDue:  false,
		SubscriptionCanceled: true,
		SubscriptionExpired:  true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}
