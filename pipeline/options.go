// Package pipeline provides the moderation pipeline: it orchestrates the
// analyzer stages, validates and fuses their signals, and applies the
// per-context policy to produce a final decision.
package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/config"
	"github.com/modstack/imagesieve/hooks"
	"github.com/modstack/imagesieve/metrics"
	"github.com/modstack/imagesieve/store"
)

// Options configures the moderation pipeline.
type Options struct {
	// Analyzers is the analyzer set (a nudity analyzer is the practical
	// minimum; missing analyzers degrade to fail-closed fallbacks).
	Analyzers analyzers.Set

	// Config supplies the runtime settings. Nil creates a manager with the
	// built-in defaults.
	Config *config.Manager

	// Hooks receives notifications as evaluations complete.
	Hooks hooks.Hooks

	// Store persists evaluation records and stage logs (optional).
	Store store.Store

	// Logger is the structured logger. Nil disables logging.
	Logger *zap.Logger

	// MetricsRegistry registers Prometheus collectors when set.
	MetricsRegistry prometheus.Registerer

	// DedupWindow enables returning a stored decision for an image hash seen
	// before, instead of re-running the analyzers. Requires Store.
	EnableDedup bool
}

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{
		Hooks: hooks.NopHooks{},
	}
}

func (o Options) normalize() (Options, error) {
	if o.Hooks == nil {
		o.Hooks = hooks.NopHooks{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Config == nil {
		m, err := config.Load("", o.Logger)
		if err != nil {
			return o, err
		}
		o.Config = m
	}
	return o, nil
}

func (o Options) metrics() *metrics.Metrics {
	if o.MetricsRegistry == nil {
		return nil
	}
	return metrics.New(o.MetricsRegistry)
}
