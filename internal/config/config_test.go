package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port == "" {
		t.Fatalf("expected default port")
	}
	if cfg.BusinessID == "" {
		t.Fatalf("expected default business id")
	}
	if cfg.TaxGroupCacheTTL < 1 {
		t.Fatalf("expected positive cache ttl")
	}
	if cfg.BillCommitRetries < 1 {
		t.Fatalf("expected positive bill commit retries")
	}
}
