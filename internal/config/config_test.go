package config

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/billing")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("BILLING_WEBHOOK_SECRET", "whsec")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerPort != "8086" {
		t.Errorf("ServerPort = %q, want 8086", cfg.ServerPort)
	}
	if cfg.APIKeyRateLimit != 10 {
		t.Errorf("APIKeyRateLimit = %d, want 10", cfg.APIKeyRateLimit)
	}
	if cfg.APIKeyRateWindowSeconds != 3600 {
		t.Errorf("APIKeyRateWindowSeconds = %d, want 3600", cfg.APIKeyRateWindowSeconds)
	}
	if cfg.SubscriptionExpirySchedule != "*/10 * * * *" {
		t.Errorf("SubscriptionExpirySchedule = %q", cfg.SubscriptionExpirySchedule)
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/billing")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("BILLING_WEBHOOK_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing BILLING_WEBHOOK_SECRET")
	}
}
