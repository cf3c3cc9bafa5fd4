package compress

import "log/slog"

// Option configures registries, persisters and editors.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	estimate     Estimator
	display      DisplayTextFunc
	historyLimit int
	persister    *Persister
}

func newOptions(opts []Option) options {
	cfg := options{historyLimit: MaxHistory}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

// WithLogger sets the logger used for persistence failures and ignored
// operations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEstimator replaces EstimateTokens.
func WithEstimator(estimate Estimator) Option {
	return func(o *options) { o.estimate = estimate }
}

// WithDisplayText replaces DisplayText.
func WithDisplayText(display DisplayTextFunc) Option {
	return func(o *options) { o.display = display }
}

// WithHistoryLimit overrides MaxHistory. Values <= 0 keep the default.
func WithHistoryLimit(limit int) Option {
	return func(o *options) {
		if limit > 0 {
			o.historyLimit = limit
		}
	}
}

// WithPersister attaches a persister to an Editor or Workspace.
func WithPersister(p *Persister) Option {
	return func(o *options) { o.persister = p }
}
