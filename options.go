package opsync

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/opsync/pkg/constants"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/logging"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// DefaultBaseURL is the console backend used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// options holds the configuration of a Client.
type options struct {
	// Backend
	baseURL      string
	streamURL    string
	pushDisabled bool

	// Polling
	classes       []telemetry.EntityClass
	pollInterval  time.Duration
	pollIntervals map[telemetry.EntityClass]time.Duration
	pollTimeout   time.Duration

	// Push channel reconnects
	initialBackoff time.Duration
	maxBackoff     time.Duration
	jitter         float64

	httpClient   *http.Client
	logger       *zerolog.Logger
	updateBuffer int
}

func defaults() *options {
	return &options{
		baseURL:        DefaultBaseURL,
		classes:        telemetry.AllClasses(),
		pollInterval:   constants.DefaultPollInterval,
		pollIntervals:  make(map[telemetry.EntityClass]time.Duration),
		pollTimeout:    constants.DefaultPollTimeout,
		initialBackoff: constants.DefaultInitialBackoff,
		maxBackoff:     constants.DefaultMaxBackoff,
		jitter:         constants.DefaultBackoffJitter,
		httpClient:     &http.Client{Timeout: constants.DefaultHTTPTimeout},
		logger:         logging.Default(),
		updateBuffer:   constants.UpdateBufferSize,
	}
}

// Option is a function that configures a Client.
type Option func(*options) error

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithBaseURL sets the console backend base URL, e.g. http://localhost:8000.
// The push channel URL is derived from it unless WithStreamURL is given.
func WithBaseURL(url string) Option {
	return func(o *options) error {
		if url == "" {
			return errors.NewValidationError("base_url", url, "cannot be empty")
		}
		o.baseURL = strings.TrimRight(url, "/")
		return nil
	}
}

// WithStreamURL sets the push channel URL explicitly.
func WithStreamURL(url string) Option {
	return func(o *options) error {
		o.streamURL = url
		return nil
	}
}

// WithPushDisabled runs the session on polling alone.
func WithPushDisabled(disabled bool) Option {
	return func(o *options) error {
		o.pushDisabled = disabled
		return nil
	}
}

// WithClasses limits the polled classes. No classes means all of them.
func WithClasses(classes ...telemetry.EntityClass) Option {
	return func(o *options) error {
		for _, class := range classes {
			if !class.IsValid() {
				return errors.NewValidationError("class", class, "unknown entity class")
			}
		}
		if len(classes) == 0 {
			classes = telemetry.AllClasses()
		}
		o.classes = classes
		return nil
	}
}

// WithDefaultPollInterval sets the interval for classes without their own.
func WithDefaultPollInterval(d time.Duration) Option {
	return func(o *options) error {
		if d < constants.MinPollInterval {
			return errors.NewValidationError("poll_interval", d, "must be at least "+constants.MinPollInterval.String())
		}
		o.pollInterval = d
		return nil
	}
}

// WithPollInterval sets the interval of one class. Zero disables polling
// for the class.
func WithPollInterval(class telemetry.EntityClass, d time.Duration) Option {
	return func(o *options) error {
		if !class.IsValid() {
			return errors.NewValidationError("class", class, "unknown entity class")
		}
		if d < 0 {
			return errors.NewValidationError("poll_interval", d, "cannot be negative")
		}
		o.pollIntervals[class] = d
		return nil
	}
}

// WithPollTimeout bounds each poll request.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.NewValidationError("poll_timeout", d, "must be positive")
		}
		o.pollTimeout = d
		return nil
	}
}

// WithBackoff configures push channel reconnects. jitter is the
// proportional spread applied to each delay, between 0 and 1.
func WithBackoff(initial, max time.Duration, jitter float64) Option {
	return func(o *options) error {
		if initial <= 0 || max < initial {
			return errors.NewValidationError("backoff", max, "max must be at least initial and both positive")
		}
		if jitter < 0 || jitter > 1 {
			return errors.NewValidationError("backoff.jitter", jitter, "must be between 0 and 1")
		}
		o.initialBackoff = initial
		o.maxBackoff = max
		o.jitter = jitter
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for polls and actions.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) error {
		if client == nil {
			return errors.NewValidationError("http_client", nil, "cannot be nil")
		}
		o.httpClient = client
		return nil
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// WithUpdateBuffer sets the capacity of the queue between the transports
// and the reconciler.
func WithUpdateBuffer(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.NewValidationError("update_buffer", n, "cannot be negative")
		}
		o.updateBuffer = n
		return nil
	}
}
