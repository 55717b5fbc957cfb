// Package config provides configuration management for popfetch, the demo
// POP3 client built on internal/pop3engine and internal/connector.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// SecurityPolicy mirrors connector.Security as a TOML-friendly string enum,
// so popfetch.toml never has to spell out the engine's internal constants.
type SecurityPolicy string

const (
	SecurityNone     SecurityPolicy = "none"
	SecuritySSL      SecurityPolicy = "ssl"
	SecurityStartTLS SecurityPolicy = "starttls"
	SecurityOpport   SecurityPolicy = "starttls-if-available"
	SecurityAuto     SecurityPolicy = "auto"
)

func isValidSecurity(s SecurityPolicy) bool {
	switch s {
	case SecurityNone, SecuritySSL, SecurityStartTLS, SecurityOpport, SecurityAuto, "":
		return true
	default:
		return false
	}
}

// Config is the top-level popfetch configuration, normally loaded from
// popfetch.toml.
type Config struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`

	Security SecurityPolicy `toml:"security"`
	ProxyURL string         `toml:"proxy_url"`
	TLS      TLSConfig      `toml:"tls"`

	Auth AuthConfig `toml:"auth"`

	Timeouts TimeoutsConfig `toml:"timeouts"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// AuthConfig names the mailbox credentials and the SASL mechanisms the
// client is willing to use (an empty list allows all of them). The order of
// the list is not used: mechanisms are tried strongest first. APOP and
// USER/PASS are always available as a fallback regardless of this list.
type AuthConfig struct {
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	SaslMechanisms []string `toml:"sasl_mechanisms"`
}

// TLSConfig holds TLS policy for both implicit TLS and STLS.
type TLSConfig struct {
	MinVersion         string `toml:"min_version"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// TimeoutsConfig defines timeout durations for one session.
type TimeoutsConfig struct {
	Connect string `toml:"connect"`
	Command string `toml:"command"`
}

// MetricsConfig controls the optional Prometheus /metrics listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Port:     0, // resolved by connector.resolvePort from Security
		LogLevel: "info",
		Security: SecurityAuto,
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Timeouts: TimeoutsConfig{
			Connect: "30s",
			Command: "1m",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}
	if c.Auth.Username == "" {
		return errors.New("auth.username is required")
	}
	if !isValidSecurity(c.Security) {
		return fmt.Errorf("invalid security policy %q", c.Security)
	}
	if c.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[c.TLS.MinVersion]; !ok {
			return fmt.Errorf("invalid TLS min_version %q (valid: 1.0, 1.1, 1.2, 1.3)", c.TLS.MinVersion)
		}
	}
	if c.Timeouts.Connect != "" {
		if _, err := time.ParseDuration(c.Timeouts.Connect); err != nil {
			return fmt.Errorf("invalid connect timeout: %w", err)
		}
	}
	if c.Timeouts.Command != "" {
		if _, err := time.ParseDuration(c.Timeouts.Command); err != nil {
			return fmt.Errorf("invalid command timeout: %w", err)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return errors.New("metrics.address is required when metrics are enabled")
	}
	return nil
}

// MinTLSVersion returns the crypto/tls constant for the configured minimum
// TLS version, defaulting to TLS 1.2.
func (c *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

// ConnectTimeout returns the connect timeout, defaulting to 30s.
func (c *TimeoutsConfig) ConnectTimeout() time.Duration {
	return parseDurationOr(c.Connect, 30*time.Second)
}

// CommandTimeout returns the per-command timeout, defaulting to 1m.
func (c *TimeoutsConfig) CommandTimeout() time.Duration {
	return parseDurationOr(c.Command, time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}
