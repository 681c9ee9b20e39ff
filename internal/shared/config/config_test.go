package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "companion-api")
	t.Setenv("HTTP_PORT", "8000")

	cfg := Load()
	if cfg.HTTPPort != "8000" || cfg.MetricsPort == "" {
		t.Fatalf("unexpected ports: %q %q", cfg.HTTPPort, cfg.MetricsPort)
	}
	if cfg.GenAIModel == "" {
		t.Fatal("expected default genai model")
	}
	if !cfg.MaxStake.IsPositive() {
		t.Fatalf("expected positive default max stake, got %s", cfg.MaxStake)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVICE_NAME", "results-feed-worker")
	t.Setenv("METRICS_PORT_FEED", "9190")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("MAX_STAKE", "250.50")
	t.Setenv("CHAT_MAX_QUERY_LEN", "abc") // inválido => default
	t.Setenv("SETTLEMENT_UNGRADED_POLICY", "pending")

	cfg := Load()
	if cfg.MetricsPort != "9190" {
		t.Errorf("metrics port = %q", cfg.MetricsPort)
	}
	if cfg.HTTPPort != "" {
		t.Errorf("worker should not expose http, got %q", cfg.HTTPPort)
	}
	if cfg.StoreTimeout != 750*time.Millisecond {
		t.Errorf("store timeout = %s", cfg.StoreTimeout)
	}
	if !cfg.MaxStake.Equal(decimal.RequireFromString("250.50")) {
		t.Errorf("max stake = %s", cfg.MaxStake)
	}
	if cfg.ChatMaxQueryLen != 500 {
		t.Errorf("chat max query len = %d", cfg.ChatMaxQueryLen)
	}
	if cfg.SettlementUngradedPolicy != "pending" {
		t.Errorf("policy = %q", cfg.SettlementUngradedPolicy)
	}
}
