package reconciler

import (
	"github.com/agentstation/utc"
	"github.com/rs/zerolog"

	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/logging"
)

type options struct {
	policy Policy
	logger *zerolog.Logger
	now    func() utc.Time
}

func defaultOptions() *options {
	return &options{
		policy: NewOrderingPolicy(),
		logger: logging.Default(),
		now:    utc.Now,
	}
}

// Option is a function that configures a Reconciler.
type Option func(*options) error

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithPolicy sets the acceptance policy.
func WithPolicy(policy Policy) Option {
	return func(o *options) error {
		if policy == nil {
			return &errors.ValidationError{
				Field:   "policy",
				Message: "cannot be nil",
			}
		}
		o.policy = policy
		return nil
	}
}

// WithLogger sets the logger used for reconciliation outcomes.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// WithClock overrides the receipt clock.
func WithClock(now func() utc.Time) Option {
	return func(o *options) error {
		if now == nil {
			return &errors.ValidationError{
				Field:   "clock",
				Message: "cannot be nil",
			}
		}
		o.now = now
		return nil
	}
}
