// Package poller periodically fetches every entity class over REST and hands
// the results to the reconciler. It runs whether or not the push channel is
// healthy, so it is both bootstrap and fallback.
//
// A poll is stamped with the local time its request was issued. Push frames
// carry the backend's clock; package stream describes how skew between the
// two affects ordering.
package poller

import (
	"context"
	"time"

	"github.com/agentstation/utc"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/opsync/internal/transport"
	"github.com/agentstation/opsync/pkg/constants"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/logging"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Config controls which classes are polled and how often.
type Config struct {
	// Intervals per class. A zero interval disables the class. Classes
	// without an entry use DefaultInterval.
	Intervals map[telemetry.EntityClass]time.Duration

	// Classes to poll. Empty means every known class.
	Classes []telemetry.EntityClass

	// DefaultInterval applies to classes without an explicit interval.
	DefaultInterval time.Duration

	// Timeout bounds a single fetch.
	Timeout time.Duration
}

// Poller runs one fetch loop per class.
type Poller struct {
	client *transport.Client
	out    chan<- telemetry.Update
	cfg    Config
	logger *zerolog.Logger
	now    func() utc.Time
}

// New creates a poller that sends updates to out.
func New(client *transport.Client, out chan<- telemetry.Update, cfg Config, logger *zerolog.Logger) *Poller {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = constants.DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultPollTimeout
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = telemetry.AllClasses()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Poller{
		client: client,
		out:    out,
		cfg:    cfg,
		logger: logger,
		now:    utc.Now,
	}
}

// Interval returns the effective poll interval for class.
func (p *Poller) Interval(class telemetry.EntityClass) time.Duration {
	if d, ok := p.cfg.Intervals[class]; ok {
		return d
	}
	return p.cfg.DefaultInterval
}

// Run starts one loop per enabled class and blocks until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, class := range p.cfg.Classes {
		interval := p.Interval(class)
		if interval <= 0 {
			logging.FromContextOr(ctx, p.logger).Info().Str("class", class.String()).Msg("Polling disabled")
			continue
		}
		g.Go(func() error {
			return p.runLoop(gctx, class, interval)
		})
	}
	return g.Wait()
}

func (p *Poller) runLoop(ctx context.Context, class telemetry.EntityClass, interval time.Duration) error {
	ctx = p.logContext(ctx, class)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.poll(ctx, class)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx, class)
		}
	}
}

// logContext carries the session logger, or the poller's own, tagged with
// class and the poll source.
func (p *Poller) logContext(ctx context.Context, class telemetry.EntityClass) context.Context {
	ctx = logging.WithLogger(ctx, logging.FromContextOr(ctx, p.logger))
	ctx = logging.WithClass(ctx, class.String())
	return logging.WithSource(ctx, telemetry.Poll.String())
}

// poll fetches once and forwards the result. Failures are logged and the
// loop waits for the next tick.
func (p *Poller) poll(ctx context.Context, class telemetry.EntityClass) {
	if err := p.Refresh(ctx, class); err != nil && ctx.Err() == nil {
		logging.FromContextOr(ctx, p.logger).Warn().
			Err(err).
			Msg("Poll failed")
	}
}

// Refresh fetches class once and forwards the result to the reconciler.
func (p *Poller) Refresh(ctx context.Context, class telemetry.EntityClass) error {
	u, err := p.Fetch(ctx, class)
	if err != nil {
		return err
	}

	select {
	case p.out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch performs one fetch of class without forwarding it. The update is
// stamped with the time the request was issued.
func (p *Poller) Fetch(ctx context.Context, class telemetry.EntityClass) (telemetry.Update, error) {
	ep, ok := endpoints[class]
	if !ok {
		return telemetry.Update{}, errors.NewValidationError("class", class, "no endpoint for class")
	}

	issued := p.now()
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	payload, err := ep.fetch(fetchCtx, p.client)
	if err != nil {
		return telemetry.Update{}, errors.WrapResource("fetch", "snapshot", class.String(), err)
	}

	logging.FromContextOr(ctx, p.logger).Debug().
		Time("issued_at", issued.Time).
		Int("bytes", len(payload)).
		Msg("Poll completed")

	return telemetry.Update{
		Class:           class,
		Payload:         payload,
		Source:          telemetry.Poll,
		SourceTimestamp: issued,
	}, nil
}
