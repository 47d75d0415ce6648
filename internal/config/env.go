package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MESSAGEBUS_"

// EnvLoader overrides configuration fields from environment variables
// named prefix + upper-cased field key, e.g. MESSAGEBUS_QUEUE_CAPACITY.
type EnvLoader struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvLoader creates a loader reading the process environment.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{prefix: prefix, lookup: os.LookupEnv}
}

// NewEnvLoaderWithLookup creates a loader reading from lookup.
func NewEnvLoaderWithLookup(prefix string, lookup func(string) (string, bool)) *EnvLoader {
	return &EnvLoader{prefix: prefix, lookup: lookup}
}

type envSetter func(cfg *Config, value string) error

var envFields = map[string]envSetter{
	"dispatch_mode": func(c *Config, v string) error {
		c.DispatchMode = strings.ToLower(v)
		return nil
	},
	"subscription_mode": func(c *Config, v string) error {
		c.SubscriptionMode = strings.ToLower(v)
		return nil
	},
	"async_backend": func(c *Config, v string) error {
		c.AsyncBackend = strings.ToLower(v)
		return nil
	},
	"workers": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Workers = n
		return err
	},
	"queue_capacity": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.QueueCapacity = n
		return err
	},
	"shutdown_grace": func(c *Config, v string) error {
		return c.ShutdownGrace.UnmarshalText([]byte(v))
	},
	"log_level": func(c *Config, v string) error {
		c.LogLevel = strings.ToLower(v)
		return nil
	},
}

// Apply sets every field whose environment variable is present. Empty
// values are treated as unset.
func (l *EnvLoader) Apply(cfg *Config) error {
	for key, set := range envFields {
		name := l.envName(key)
		val, ok := l.lookup(name)
		if !ok || val == "" {
			continue
		}
		if err := set(cfg, strings.TrimSpace(val)); err != nil {
			return fmt.Errorf("environment %s: %w", name, err)
		}
	}
	return nil
}

// envName converts queue_capacity to MESSAGEBUS_QUEUE_CAPACITY.
func (l *EnvLoader) envName(key string) string {
	return l.prefix + strings.ToUpper(key)
}
