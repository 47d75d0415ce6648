// Package config loads message bus configuration from TOML or YAML files
// and MESSAGEBUS_* environment variables.
package config

import (
	"fmt"
	"time"
)

// Accepted values for the enumerated settings.
const (
	DispatchExact          = "exact"
	DispatchWithSuperTypes = "exact_with_super_types"

	SubscriptionStrong = "strong"
	SubscriptionWeak   = "weak"

	BackendRingBuffer = "ring_buffer"
	BackendQueue      = "queue"
)

// Config is the file and environment representation of bus options.
// Zero numeric values select the engine defaults.
type Config struct {
	DispatchMode     string   `toml:"dispatch_mode" yaml:"dispatch_mode"`
	SubscriptionMode string   `toml:"subscription_mode" yaml:"subscription_mode"`
	AsyncBackend     string   `toml:"async_backend" yaml:"async_backend"`
	Workers          int      `toml:"workers" yaml:"workers"`
	QueueCapacity    int      `toml:"queue_capacity" yaml:"queue_capacity"`
	ShutdownGrace    Duration `toml:"shutdown_grace" yaml:"shutdown_grace"`
	LogLevel         string   `toml:"log_level" yaml:"log_level"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		DispatchMode:     DispatchWithSuperTypes,
		SubscriptionMode: SubscriptionStrong,
		AsyncBackend:     BackendRingBuffer,
		QueueCapacity:    1024,
		ShutdownGrace:    Duration(10 * time.Second),
		LogLevel:         "info",
	}
}

// Validate checks the enumerated values and numeric ranges.
func (c Config) Validate() error {
	switch c.DispatchMode {
	case DispatchExact, DispatchWithSuperTypes:
	default:
		return &ValidationError{Field: "dispatch_mode", Value: c.DispatchMode, Reason: "must be exact or exact_with_super_types"}
	}
	switch c.SubscriptionMode {
	case SubscriptionStrong, SubscriptionWeak:
	default:
		return &ValidationError{Field: "subscription_mode", Value: c.SubscriptionMode, Reason: "must be strong or weak"}
	}
	switch c.AsyncBackend {
	case BackendRingBuffer, BackendQueue:
	default:
		return &ValidationError{Field: "async_backend", Value: c.AsyncBackend, Reason: "must be ring_buffer or queue"}
	}
	if c.Workers < 0 {
		return &ValidationError{Field: "workers", Value: c.Workers, Reason: "must not be negative"}
	}
	if c.QueueCapacity < 0 || c.QueueCapacity&(c.QueueCapacity-1) != 0 {
		return &ValidationError{Field: "queue_capacity", Value: c.QueueCapacity, Reason: "must be a power of two"}
	}
	if c.ShutdownGrace < 0 {
		return &ValidationError{Field: "shutdown_grace", Value: c.ShutdownGrace, Reason: "must not be negative"}
	}
	return nil
}

// Duration is a time.Duration read from strings such as "10s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}
