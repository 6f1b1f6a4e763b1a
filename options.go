package kiln

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures New.
type Option func(*options)

type options struct {
	cfg        Config
	log        *zap.Logger
	registerer prometheus.Registerer
	rules      []Rules
	modules    []Module
}

// WithConfig replaces the configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithModules appends modules. Modules run after every WithRules set is
// merged, in the order given.
func WithModules(modules ...Module) Option {
	return func(o *options) {
		o.modules = append(o.modules, modules...)
	}
}

// WithRules merges r after the default rules.
func WithRules(r Rules) Option {
	return func(o *options) {
		o.rules = append(o.rules, r)
	}
}

// WithLogger sets the logger. It takes precedence over Config.LogLevel.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithMetrics registers the injector's metrics with reg. Without it metrics are
// collected but not exported.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
