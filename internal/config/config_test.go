package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/honeylink/honeylink-core/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Session.TTL != 12*time.Hour {
		t.Errorf("Session.TTL = %v, want 12h", cfg.Session.TTL)
	}
	if cfg.Session.SlidingRenewal != 30*time.Minute {
		t.Errorf("Session.SlidingRenewal = %v, want 30m", cfg.Session.SlidingRenewal)
	}
	if cfg.Rotation.ScheduleDays != 90 {
		t.Errorf("Rotation.ScheduleDays = %d, want 90", cfg.Rotation.ScheduleDays)
	}
	if cfg.Rotation.EmergencyDeadlineMinutes != 30 {
		t.Errorf("Rotation.EmergencyDeadlineMinutes = %d, want 30", cfg.Rotation.EmergencyDeadlineMinutes)
	}
	if cfg.Stream.MaxConcurrentPerSession != 256 {
		t.Errorf("Stream.MaxConcurrentPerSession = %d, want 256", cfg.Stream.MaxConcurrentPerSession)
	}
	if cfg.FEC.LightAt != 0.05 || cfg.FEC.HeavyAt != 0.10 {
		t.Errorf("FEC = %+v, want {0.05 0.10}", cfg.FEC)
	}
	if cfg.Retry.Max != 3 || cfg.Retry.BaseMs != 100*time.Millisecond {
		t.Errorf("Retry = %+v, want {3 100ms}", cfg.Retry)
	}
	if cfg.Breaker.Failures != 5 || cfg.Breaker.ReopenS != 30*time.Second {
		t.Errorf("Breaker = %+v, want {5 30s}", cfg.Breaker)
	}
	if cfg.Hotswap.Strategy != "highest-rssi" {
		t.Errorf("Hotswap.Strategy = %q, want highest-rssi", cfg.Hotswap.Strategy)
	}
	if cfg.Bandwidth.Low != 0.25 || cfg.Bandwidth.Mid != 0.60 || cfg.Bandwidth.High != 0.15 {
		t.Errorf("Bandwidth = %+v, want {0.25 0.60 0.15}", cfg.Bandwidth)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want {info json}", cfg.Log)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *config.Config { return config.DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{"valid default", func(*config.Config) {}, nil},
		{"zero session ttl", func(c *config.Config) { c.Session.TTL = 0 }, config.ErrInvalidSessionTTL},
		{"zero sliding renewal", func(c *config.Config) { c.Session.SlidingRenewal = 0 }, config.ErrInvalidSlidingRenewal},
		{"zero rotation schedule", func(c *config.Config) { c.Rotation.ScheduleDays = 0 }, config.ErrInvalidRotationSchedule},
		{"zero emergency deadline", func(c *config.Config) { c.Rotation.EmergencyDeadlineMinutes = 0 }, config.ErrInvalidEmergencyDeadline},
		{"stream floor violated", func(c *config.Config) { c.Stream.MaxConcurrentPerSession = 99 }, config.ErrInvalidStreamFloor},
		{"stream ceiling violated", func(c *config.Config) { c.Stream.MaxConcurrentPerSession = 257 }, config.ErrInvalidStreamCeiling},
		{"fec thresholds inverted", func(c *config.Config) { c.FEC.LightAt, c.FEC.HeavyAt = 0.5, 0.1 }, config.ErrInvalidFECThresholds},
		{"fec threshold zero", func(c *config.Config) { c.FEC.LightAt = 0 }, config.ErrInvalidFECThresholds},
		{"retry max zero", func(c *config.Config) { c.Retry.Max = 0 }, config.ErrInvalidRetryMax},
		{"retry base zero", func(c *config.Config) { c.Retry.BaseMs = 0 }, config.ErrInvalidRetryBase},
		{"breaker failures zero", func(c *config.Config) { c.Breaker.Failures = 0 }, config.ErrInvalidBreakerFailures},
		{"breaker reopen zero", func(c *config.Config) { c.Breaker.ReopenS = 0 }, config.ErrInvalidBreakerReopen},
		{"unknown hotswap strategy", func(c *config.Config) { c.Hotswap.Strategy = "random" }, config.ErrInvalidHotswapStrategy},
		{"bandwidth shares don't sum to 1", func(c *config.Config) { c.Bandwidth.Low = 0.5 }, config.ErrInvalidBandwidthShares},
		{"bandwidth share zero", func(c *config.Config) { c.Bandwidth.High = 0 }, config.ErrInvalidBandwidthShares},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.mutate(cfg)

			err := config.Validate(cfg)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
