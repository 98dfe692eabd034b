package newsync

import (
	"fmt"

	"github.com/pders01/newsync/internal/config"
	"github.com/pders01/newsync/internal/refresh"
	"github.com/pders01/newsync/internal/source"
	"github.com/pders01/newsync/internal/storage"
	"github.com/pders01/newsync/internal/validation"
)

// backoffJitter is the randomization factor of the exponential policy.
const backoffJitter = 0.2

// BuildOption adjusts the Options FromConfig derives from the config.
type BuildOption func(*Options)

// WithOnFinish sets Options.OnFinish.
func WithOnFinish(fn func(refresh.Status)) BuildOption {
	return func(o *Options) { o.OnFinish = fn }
}

// FromConfig opens the store named by cfg and builds a Service around the
// configured source. The returned Service owns the store; Close releases it.
func FromConfig(cfg *config.Config, opts ...BuildOption) (*Service, error) {
	src, err := NewSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Database.Path, storage.Options{Timeout: cfg.Database.Timeout})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	o := Options{
		Policy:       NewPolicy(cfg.Sync),
		PruneMissing: cfg.Sync.PruneMissing,
	}
	for _, opt := range opts {
		opt(&o)
	}
	svc := New(src, store, o)
	svc.ownsStore = true
	return svc, nil
}

// NewSource validates the configured endpoint and returns the matching
// adapter, behind a circuit breaker when one is configured.
func NewSource(cfg config.SourceConfig) (source.Source, error) {
	src, err := newAdapter(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.BreakerFailures > 0 {
		return source.NewBreaker(src, source.BreakerConfig{
			Name:     cfg.Kind,
			Failures: cfg.BreakerFailures,
			Timeout:  cfg.BreakerTimeout,
		}), nil
	}
	return src, nil
}

func newAdapter(cfg config.SourceConfig) (source.Source, error) {
	validator := validation.NewSourceURLValidator()
	if cfg.AllowLocal {
		validator = validation.NewPermissiveSourceURLValidator()
	}

	url, err := validator.ValidateAndNormalize(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL: %w", err)
	}

	switch cfg.Kind {
	case config.SourceAPI, "":
		return source.NewAPI(source.APIConfig{
			URL:       url,
			ImageBase: cfg.ImageBaseURL,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.HTTPTimeout,
		}), nil
	case config.SourceFeed:
		return source.NewFeed(source.FeedConfig{
			URL:       url,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.HTTPTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// NewPolicy returns the delay policy for the sync section.
func NewPolicy(cfg config.SyncConfig) refresh.BackoffPolicy {
	interval := cfg.Interval
	if interval <= 0 {
		interval = refresh.DefaultInterval
	}
	if cfg.Backoff == config.BackoffExponential {
		ceiling := cfg.MaxBackoff
		if ceiling < interval {
			ceiling = interval
		}
		return refresh.NewExponentialBackoff(interval, ceiling, backoffJitter)
	}
	return refresh.FixedDelay(interval)
}
