// Package config defines HoneyLink's configuration surface (SPEC_FULL.md
// section 6): a flat set of tunables for session lifetime, key rotation,
// stream limits, FEC thresholds, retry/circuit-breaker policy, hot-swap
// strategy, and QoS bandwidth bands.
//
// Configuration is a plain Go value constructed by the caller — this
// package never parses a file or environment variable (file/env
// configuration parsing is explicitly out of scope, SPEC_FULL.md
// section 1). The struct shape (nested sub-structs, a DefaultConfig()
// returning spec-documented defaults, a Validate(cfg) error function
// with sentinel errors) follows the teacher's internal/config.Config,
// stripped of its koanf-based file/env loading layer.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds HoneyLink's complete runtime configuration.
type Config struct {
	Session    SessionConfig    `yaml:"session"`
	Rotation   RotationConfig   `yaml:"rotation"`
	Stream     StreamConfig     `yaml:"stream"`
	FEC        FECConfig        `yaml:"fec"`
	Retry      RetryConfig      `yaml:"retry"`
	Breaker    BreakerConfig    `yaml:"circuit_breaker"`
	Hotswap    HotswapConfig    `yaml:"hotswap"`
	Bandwidth  BandwidthConfig  `yaml:"bandwidth_bands"`
	Log        LogConfig        `yaml:"log"`
}

// SessionConfig holds session-lifetime tunables (spec.md section 6:
// "session_ttl (default 12h)", "sliding_renewal (default 30m)",
// "default_profile_id").
type SessionConfig struct {
	// TTL is a session's default lifetime absent renewal activity.
	TTL time.Duration `yaml:"session_ttl"`

	// SlidingRenewal extends TTL by this much on stream activity while
	// Active.
	SlidingRenewal time.Duration `yaml:"sliding_renewal"`

	// DefaultProfileID is the QoS profile id newly-Active sessions use
	// absent an explicit profile selection.
	DefaultProfileID string `yaml:"default_profile_id"`
}

// RotationConfig holds key-rotation scheduling (spec.md section 6:
// "rotation_schedule_days (default 90)",
// "emergency_rotation_deadline_minutes (default 30)").
type RotationConfig struct {
	// ScheduleDays is the routine session-key rotation cadence.
	ScheduleDays int `yaml:"rotation_schedule_days"`

	// EmergencyDeadlineMinutes bounds how long an emergency rotation
	// (triggered by suspected key compromise or near nonce exhaustion)
	// may take to complete.
	EmergencyDeadlineMinutes int `yaml:"emergency_rotation_deadline_minutes"`
}

// StreamConfig holds per-session stream limits (spec.md section 6:
// "max_concurrent_streams_per_session (default 256, floor 100)").
type StreamConfig struct {
	MaxConcurrentPerSession int `yaml:"max_concurrent_streams_per_session"`
}

// FECConfig holds Reed-Solomon redundancy-level thresholds (spec.md
// section 6: "fec_thresholds (light_at=0.05, heavy_at=0.10)").
type FECConfig struct {
	LightAt float64 `yaml:"light_at"`
	HeavyAt float64 `yaml:"heavy_at"`
}

// RetryConfig holds Transport's exponential-backoff policy (spec.md
// section 6: "retry_policy (max=3, base_ms=100)").
type RetryConfig struct {
	Max    int           `yaml:"max"`
	BaseMs time.Duration `yaml:"base_ms"`
}

// BreakerConfig holds the per-peer circuit breaker's tuning (spec.md
// section 6: "circuit_breaker (failures=5, reopen_s=30)").
type BreakerConfig struct {
	Failures int           `yaml:"failures"`
	ReopenS  time.Duration `yaml:"reopen_s"`
}

// HotswapConfig selects Transport's adapter-replacement strategy
// (spec.md section 6: "hotswap_strategy"). Strategy holds one of
// transport.HotswapStrategy's String() values ("highest-rssi",
// "lowest-loss-rate", "highest-bandwidth", "manual") — kept as a
// string here so this package does not import internal/transport.
type HotswapConfig struct {
	Strategy string `yaml:"hotswap_strategy"`
}

// BandwidthConfig holds the QoS Scheduler's default three-band split
// (spec.md section 6: "bandwidth_bands (default 25/60/15)").
type BandwidthConfig struct {
	Low  float64 `yaml:"low"`
	Mid  float64 `yaml:"mid"`
	High float64 `yaml:"high"`
}

// LogConfig holds structured-logging output configuration, carried as
// part of the ambient stack even though spec.md's Configuration surface
// does not name it explicitly (observability/exporters are out of
// scope, but the logger itself is not — SPEC_FULL.md section 7).
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is the log output format: "json" or "text".
	Format string `yaml:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with spec.md section 6's
// documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			TTL:            12 * time.Hour,
			SlidingRenewal: 30 * time.Minute,
		},
		Rotation: RotationConfig{
			ScheduleDays:             90,
			EmergencyDeadlineMinutes: 30,
		},
		Stream: StreamConfig{
			MaxConcurrentPerSession: 256,
		},
		FEC: FECConfig{
			LightAt: 0.05,
			HeavyAt: 0.10,
		},
		Retry: RetryConfig{
			Max:    3,
			BaseMs: 100 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			Failures: 5,
			ReopenS:  30 * time.Second,
		},
		Hotswap: HotswapConfig{
			Strategy: "highest-rssi",
		},
		Bandwidth: BandwidthConfig{
			Low:  0.25,
			Mid:  0.60,
			High: 0.15,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrInvalidSessionTTL       = errors.New("session.session_ttl must be > 0")
	ErrInvalidSlidingRenewal   = errors.New("session.sliding_renewal must be > 0")
	ErrInvalidRotationSchedule = errors.New("rotation.rotation_schedule_days must be >= 1")
	ErrInvalidEmergencyDeadline = errors.New("rotation.emergency_rotation_deadline_minutes must be >= 1")
	ErrInvalidStreamFloor      = errors.New("stream.max_concurrent_streams_per_session must be >= 100")
	ErrInvalidStreamCeiling    = errors.New("stream.max_concurrent_streams_per_session must be <= 256 (8-bit stream id space)")
	ErrInvalidFECThresholds    = errors.New("fec.light_at must be < fec.heavy_at, both in (0,1)")
	ErrInvalidRetryMax         = errors.New("retry.max must be >= 1")
	ErrInvalidRetryBase        = errors.New("retry.base_ms must be > 0")
	ErrInvalidBreakerFailures  = errors.New("circuit_breaker.failures must be >= 1")
	ErrInvalidBreakerReopen    = errors.New("circuit_breaker.reopen_s must be > 0")
	ErrInvalidHotswapStrategy  = errors.New("hotswap.hotswap_strategy must be one of highest-rssi, lowest-loss-rate, highest-bandwidth, manual")
	ErrInvalidBandwidthShares  = errors.New("bandwidth_bands shares must be positive and sum to 1.0")
)

// ValidHotswapStrategies lists the recognized hotswap_strategy strings,
// matching internal/transport.HotswapStrategy's String() values.
var ValidHotswapStrategies = map[string]bool{
	"highest-rssi":      true,
	"lowest-loss-rate":  true,
	"highest-bandwidth": true,
	"manual":            true,
}

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Session.TTL <= 0 {
		return ErrInvalidSessionTTL
	}
	if cfg.Session.SlidingRenewal <= 0 {
		return ErrInvalidSlidingRenewal
	}
	if cfg.Rotation.ScheduleDays < 1 {
		return ErrInvalidRotationSchedule
	}
	if cfg.Rotation.EmergencyDeadlineMinutes < 1 {
		return ErrInvalidEmergencyDeadline
	}
	if cfg.Stream.MaxConcurrentPerSession < 100 {
		return ErrInvalidStreamFloor
	}
	if cfg.Stream.MaxConcurrentPerSession > 256 {
		return ErrInvalidStreamCeiling
	}
	if cfg.FEC.LightAt <= 0 || cfg.FEC.HeavyAt <= 0 || cfg.FEC.LightAt >= cfg.FEC.HeavyAt || cfg.FEC.HeavyAt >= 1 {
		return ErrInvalidFECThresholds
	}
	if cfg.Retry.Max < 1 {
		return ErrInvalidRetryMax
	}
	if cfg.Retry.BaseMs <= 0 {
		return ErrInvalidRetryBase
	}
	if cfg.Breaker.Failures < 1 {
		return ErrInvalidBreakerFailures
	}
	if cfg.Breaker.ReopenS <= 0 {
		return ErrInvalidBreakerReopen
	}
	if !ValidHotswapStrategies[cfg.Hotswap.Strategy] {
		return ErrInvalidHotswapStrategy
	}
	if err := validateBandwidthShares(cfg.Bandwidth); err != nil {
		return err
	}

	return nil
}

func validateBandwidthShares(b BandwidthConfig) error {
	if b.Low <= 0 || b.Mid <= 0 || b.High <= 0 {
		return ErrInvalidBandwidthShares
	}
	const epsilon = 1e-9
	sum := b.Low + b.Mid + b.High
	if sum < 1-epsilon || sum > 1+epsilon {
		return fmt.Errorf("%w: got %.4f", ErrInvalidBandwidthShares, sum)
	}
	return nil
}

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
