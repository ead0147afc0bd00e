package config

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testLogger(), "does-not-exist")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("Expected default address :8080, got %s", cfg.Server.Address)
	}
	if cfg.Server.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Expected default token TTL 24h, got %s", cfg.Server.Auth.TokenTTL)
	}
	if cfg.Realtime.ChannelEventScope != "global" {
		t.Errorf("Expected default scope global, got %s", cfg.Realtime.ChannelEventScope)
	}
	if cfg.Realtime.TypingTTL != 0 {
		t.Errorf("Expected typing sweep disabled by default, got %s", cfg.Realtime.TypingTTL)
	}
	if cfg.Server.ConnectionLimit.Mode != "reject" {
		t.Errorf("Expected default limit mode reject, got %s", cfg.Server.ConnectionLimit.Mode)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TEAMCHAT_SERVER_ADDRESS", ":9090")
	t.Setenv("TEAMCHAT_REALTIME_CHANNELEVENTSCOPE", "eligible")

	cfg, err := Load(testLogger(), "does-not-exist")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("Expected address :9090 from env, got %s", cfg.Server.Address)
	}
	if cfg.Realtime.ChannelEventScope != "eligible" {
		t.Errorf("Expected scope eligible from env, got %s", cfg.Realtime.ChannelEventScope)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]struct {
		key   string
		value string
	}{
		"bad scope":      {"TEAMCHAT_REALTIME_CHANNELEVENTSCOPE", "everyone"},
		"bad limit mode": {"TEAMCHAT_SERVER_CONNECTIONLIMIT_MODE", "drop"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(testLogger(), "does-not-exist"); err == nil {
				t.Errorf("Expected validation error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestValidateSweepInterval(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{ConnectionLimit: ConnectionLimitConfig{Mode: "reject"}},
		Realtime: RealtimeConfig{ChannelEventScope: "global", TypingTTL: 5 * time.Second},
	}
	if err := validate(cfg); err == nil {
		t.Error("Expected error for typingTTL without a sweep interval")
	}
	cfg.Realtime.TypingSweepInterval = time.Second
	if err := validate(cfg); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}
