package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.RateLimits.SharesPerMinute != 5 || cfg.RateLimits.SharesPerHour != 30 || cfg.RateLimits.SharesPerDay != 100 {
		t.Fatalf("unexpected default rate limits: %+v", cfg.RateLimits)
	}
	if cfg.TransactionTimeout != 5*time.Second {
		t.Fatalf("expected 5s transaction timeout, got %v", cfg.TransactionTimeout)
	}
	if cfg.AnalyticsRetention != 90*24*time.Hour {
		t.Fatalf("expected 90 day analytics retention, got %v", cfg.AnalyticsRetention)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SHAREGATE_LISTEN_ADDR", "  ")
	t.Setenv("SHAREGATE_RATE_SHARES_PER_MINUTE", "2")
	t.Setenv("SHAREGATE_TRANSACTION_TIMEOUT", "750ms")
	t.Setenv("SHAREGATE_SUPER_ROOT_USER_NAME", " root ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("blank listen addr should fall back, got %q", cfg.ListenAddr)
	}
	if cfg.RateLimits.SharesPerMinute != 2 {
		t.Fatalf("expected minute cap 2, got %d", cfg.RateLimits.SharesPerMinute)
	}
	if cfg.TransactionTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected timeout: %v", cfg.TransactionTimeout)
	}
	if cfg.SuperRootUserName != "root" {
		t.Fatalf("expected trimmed user name, got %q", cfg.SuperRootUserName)
	}
}

func TestValidateRejectsShrinkingWindows(t *testing.T) {
	tests := []struct {
		name   string
		limits RateLimits
	}{
		{name: "zero minute", limits: RateLimits{SharesPerMinute: 0, SharesPerHour: 10, SharesPerDay: 20}},
		{name: "minute above hour", limits: RateLimits{SharesPerMinute: 20, SharesPerHour: 10, SharesPerDay: 30}},
		{name: "hour above day", limits: RateLimits{SharesPerMinute: 1, SharesPerHour: 40, SharesPerDay: 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.RateLimits = tt.limits
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %+v", tt.limits)
			}
		})
	}
}
