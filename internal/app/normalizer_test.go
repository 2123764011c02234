package app

import (
	"errors"
	"testing"

	"github.com/transfa/billing-service/internal/domain"
)

const sampleEnvelope = `{
	"meta": {
		"event_id": "evt_abc123",
		"event_name": "subscription_payment_success",
		"custom_data": {
			"user_id": "7a9d6f9e-9cfb-4c8e-a9f7-3f2d0f6f5f10",
			"plan_id": "b2c3d4e5-f607-4819-a2b3-c4d5e6f70819"
		}
	},
	"data": {
		"id": "vendor_sub_42",
		"attributes": {
			"status": "active",
			"total": 1999,
			"renews_at": "2026-09-28T00:00:00Z"
		}
	}
}`

func TestNormalizeEvent(t *testing.T) {
	ev, err := NormalizeEvent([]byte(sampleEnvelope))
	if err != nil {
		t.Fatalf("NormalizeEvent: %v", err)
	}
	if ev.ProviderEventID != "evt_abc123" {
		t.Errorf("ProviderEventID = %q", ev.ProviderEventID)
	}
	if ev.Type != domain.EventPaymentSucceeded {
		t.Errorf("Type = %s, want payment_succeeded", ev.Type)
	}
	if ev.ProviderSubscriptionID != "vendor_sub_42" {
		t.Errorf("ProviderSubscriptionID = %q", ev.ProviderSubscriptionID)
	}
	if ev.Amount == nil || *ev.Amount != 1999 {
		t.Errorf("Amount = %v, want 1999", ev.Amount)
	}
	if ev.UserID == nil || ev.UserID.String() != "7a9d6f9e-9cfb-4c8e-a9f7-3f2d0f6f5f10" {
		t.Errorf("UserID = %v", ev.UserID)
	}
	if ev.PeriodEnd == nil {
		t.Error("PeriodEnd not parsed")
	}
}

func TestNormalizeEventMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"missing event id", `{"meta": {"event_name": "subscription_created"}, "data": {"id": "x"}}`},
		{"missing event name", `{"meta": {"event_id": "evt_1"}, "data": {"id": "x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NormalizeEvent([]byte(tt.payload)); !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("expected ErrMalformedEvent, got %v", err)
			}
		})
	}
}

func TestNormalizeEventUnknownName(t *testing.T) {
	payload := `{"meta": {"event_id": "evt_9", "event_name": "license_key_created"}, "data": {"id": "x"}}`
	ev, err := NormalizeEvent([]byte(payload))
	if err != nil {
		t.Fatalf("NormalizeEvent: %v", err)
	}
	if ev.Type != domain.EventUnknown {
		t.Errorf("Type = %s, want unknown", ev.Type)
	}
	if ev.RawType != "license_key_created" {
		t.Errorf("RawType = %q", ev.RawType)
	}
}

func TestNormalizeEventBadCustomData(t *testing.T) {
	payload := `{"meta": {"event_id": "evt_2", "event_name": "subscription_created", "custom_data": {"user_id": "nope", "plan_id": ""}}, "data": {"id": "x"}}`
	ev, err := NormalizeEvent([]byte(payload))
	if err != nil {
		t.Fatalf("NormalizeEvent: %v", err)
	}
	if ev.UserID != nil || ev.PlanID != nil {
		t.Error("invalid custom data should leave UserID/PlanID nil")
	}
}

func TestExtractProviderEventID(t *testing.T) {
	id, name := ExtractProviderEventID([]byte(sampleEnvelope))
	if id != "evt_abc123" || name != "subscription_payment_success" {
		t.Errorf("got (%q, %q)", id, name)
	}

	id, name = ExtractProviderEventID([]byte(`not json at all`))
	if id != "" || name != "" {
		t.Errorf("garbage payload should yield empty values, got (%q, %q)", id, name)
	}
}
