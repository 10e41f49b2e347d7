package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// MinHMACSecretLength is the shortest accepted token signing secret.
const MinHMACSecretLength = 32

// MaxDurationUnit bounds DurationUnit so the longest tier period still fits
// in a uint64 maturity timestamp.
const MaxDurationUnit = 365 * 24 * time.Hour

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("ListenAddress: %w", err)
	}
	unit, err := c.ParsedDurationUnit()
	if err != nil {
		return err
	}
	if unit < time.Second {
		return fmt.Errorf("DurationUnit: must be at least 1s, got %s", unit)
	}
	if unit > MaxDurationUnit {
		return fmt.Errorf("DurationUnit: must not exceed %s, got %s", MaxDurationUnit, unit)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("auth: ClockSkewSeconds must not be negative")
	}
	if secret := c.HMACSecret(); secret != "" && len(secret) < MinHMACSecretLength {
		return fmt.Errorf("auth: HMAC secret must be at least %d bytes", MinHMACSecretLength)
	}
	return nil
}

// ParsedDurationUnit returns DurationUnit as a time.Duration.
func (c *Config) ParsedDurationUnit() (time.Duration, error) {
	unit, err := time.ParseDuration(strings.TrimSpace(c.DurationUnit))
	if err != nil {
		return 0, fmt.Errorf("DurationUnit: %w", err)
	}
	return unit, nil
}

// HMACSecret resolves the token signing secret, preferring the environment
// variable when one is configured.
func (c *Config) HMACSecret() string {
	if env := strings.TrimSpace(c.Auth.HMACSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.Auth.HMACSecret)
}

// ClockSkew returns the tolerated token clock skew.
func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.Auth.ClockSkewSeconds) * time.Second
}
