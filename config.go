package messagebus

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dshills/messagebus/internal/config"
	"github.com/dshills/messagebus/internal/log"
)

// LoadOptions reads a TOML or YAML configuration file, applies
// MESSAGEBUS_* environment overrides and converts the result to options.
// An empty path uses defaults and the environment only.
func LoadOptions(path string) ([]Option, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return OptionsFromConfig(cfg)
}

// OptionsFromConfig converts cfg to bus options.
func OptionsFromConfig(cfg config.Config) ([]Option, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	opts := make([]Option, 0, 8)

	switch cfg.DispatchMode {
	case config.DispatchExact:
		opts = append(opts, WithDispatchMode(Exact))
	default:
		opts = append(opts, WithDispatchMode(ExactWithSuperTypes))
	}
	switch cfg.SubscriptionMode {
	case config.SubscriptionWeak:
		opts = append(opts, WithSubscriptionMode(WeakReferences))
	default:
		opts = append(opts, WithSubscriptionMode(StrongReferences))
	}
	switch cfg.AsyncBackend {
	case config.BackendQueue:
		opts = append(opts, WithAsyncBackend(Queue))
	default:
		opts = append(opts, WithAsyncBackend(RingBuffer))
	}

	if cfg.Workers > 0 {
		opts = append(opts, WithWorkers(cfg.Workers))
	}
	if cfg.QueueCapacity > 0 {
		opts = append(opts, WithQueueCapacity(cfg.QueueCapacity))
	}
	if cfg.ShutdownGrace > 0 {
		opts = append(opts, WithShutdownGrace(cfg.ShutdownGrace.Std()))
	}

	if cfg.LogLevel != "" {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
		}
		opts = append(opts, WithLogger(log.WithComponent("messagebus").Level(level)))
	}
	return opts, nil
}
