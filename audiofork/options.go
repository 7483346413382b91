package audiofork

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/AmmannChristian/go-audiofork/internal/metrics"
)

// Option configures a Service or Session.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	newID   func() string
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.DiscardHandler),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records session, chunk and channel metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSessionIDs overrides the session id generator.
func WithSessionIDs(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}
