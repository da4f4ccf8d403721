package opsync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/logging"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Start implements Lifecycle. It returns once every component is running.
func (c *client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.NewValidationError("session", "started", "already started")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	runCtx = logging.WithLogger(runCtx, c.logger)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return c.reconciler.Run(gctx, c.updates)
	})
	g.Go(func() error {
		return c.poller.Run(gctx)
	})
	if c.stream != nil {
		g.Go(func() error {
			return c.stream.Run(gctx)
		})
	}

	go func() {
		err := g.Wait()
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
		close(c.done)
	}()

	c.logger.Info().
		Str("base_url", c.options.baseURL).
		Bool("push", c.stream != nil).
		Msg("Session started")
	return nil
}

// Refresh implements Lifecycle. The update bypasses the queue, so the store
// reflects it when Refresh returns.
func (c *client) Refresh(ctx context.Context, class telemetry.EntityClass) error {
	if c.isClosed() {
		return errors.ErrClosed
	}
	ctx = logging.WithOperation(c.logContext(ctx), "refresh")
	ctx = logging.WithClass(ctx, class.String())

	u, err := c.poller.Fetch(ctx, class)
	if err != nil {
		return err
	}
	c.reconciler.Accept(u)
	return nil
}

// logContext carries the session logger in ctx unless ctx already has one.
func (c *client) logContext(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, logging.FromContextOr(ctx, c.logger))
}

// Close implements Lifecycle. It is safe to call more than once.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	if c.stream != nil {
		// suppresses any pending reconnect before the loops unwind
		_ = c.stream.Close()
	}
	if cancel != nil {
		cancel()
	}
	if started {
		<-c.done
	}

	c.store.Clear()
	c.hooks.clear()

	c.logger.Info().Msg("Session closed")

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}
