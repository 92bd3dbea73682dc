// Package coordinator presents a primary and a secondary backend as one store. Writes go to the
// primary and fall back to the secondary on any error; subscriptions move to the secondary when the
// primary's listener fails. The two backends are never reconciled: a record written to one while
// the other was down is only visible through that one.
package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"pipestock/internal/store"
)

type logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

type recorder interface {
	RecordAttempt(backend, operation string, err error)
	RecordFallback(operation string)
	RecordUnavailable(operation string)
	RecordFailover(collection string)
	SetBreakerState(name string, state int)
}

type Options struct {
	// AttemptTimeout bounds each primary attempt so a hung primary still falls back. Zero means
	// the primary's own client decides when to give up.
	AttemptTimeout time.Duration
	// Breaker skips the primary while it keeps failing.
	Breaker bool
}

type Coordinator struct {
	primary        store.Backend
	secondary      store.Backend
	attemptTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker
	Logger         logger
	Metrics        recorder
}

func New(primary, secondary store.Backend, opts Options, l logger, m recorder) *Coordinator {
	if m == nil {
		m = noopRecorder{}
	}
	c := &Coordinator{
		primary:        primary,
		secondary:      secondary,
		attemptTimeout: opts.AttemptTimeout,
		Logger:         l,
		Metrics:        m,
	}
	if opts.Breaker {
		c.breaker = newBreaker(primary.Name, l, m)
	}
	return c
}

func (c *Coordinator) Primary() store.Backend {
	return c.primary
}

func (c *Coordinator) Secondary() store.Backend {
	return c.secondary
}

// Do runs op against the primary and, if that fails for any reason, against the secondary. It
// returns the backend that accepted the operation so dependent writes can follow it there.
// When both fail with ErrNotFound the secondary's error is returned as is; any other double
// failure is an *store.UnavailableError.
func (c *Coordinator) Do(ctx context.Context, opName string, op func(ctx context.Context, b store.Backend) error) (store.Backend, error) {
	primaryErr := c.attemptPrimary(ctx, opName, op)
	if primaryErr == nil {
		return c.primary, nil
	}
	if ctx.Err() != nil {
		return store.Backend{}, errors.Wrapf(ctx.Err(), "%s cancelled", opName)
	}

	c.Logger.Warnf("Do: Primary %s failed %s, falling back to %s, err: %v",
		c.primary.Name, opName, c.secondary.Name, primaryErr)
	c.Metrics.RecordFallback(opName)

	secondaryErr := op(ctx, c.secondary)
	c.Metrics.RecordAttempt(c.secondary.Name, opName, secondaryErr)
	if secondaryErr == nil {
		return c.secondary, nil
	}

	if errors.Is(primaryErr, store.ErrNotFound) && errors.Is(secondaryErr, store.ErrNotFound) {
		c.Logger.Debugf("Do: %s found nothing on either backend, err: %v", opName, secondaryErr)
		return store.Backend{}, secondaryErr
	}

	err := &store.UnavailableError{
		Op:            opName,
		PrimaryName:   c.primary.Name,
		Primary:       primaryErr,
		SecondaryName: c.secondary.Name,
		Secondary:     secondaryErr,
	}
	c.Logger.Errorf("Do: %v", err)
	c.Metrics.RecordUnavailable(opName)
	return store.Backend{}, err
}

// On runs op against b only. It is used for writes that must land where an earlier write did.
func (c *Coordinator) On(ctx context.Context, b store.Backend, opName string, op func(ctx context.Context, b store.Backend) error) error {
	err := op(ctx, b)
	c.Metrics.RecordAttempt(b.Name, opName, err)
	if err != nil {
		c.Logger.Errorf("On: %s on %s failed, err: %v", opName, b.Name, err)
	}
	return err
}

func (c *Coordinator) attemptPrimary(ctx context.Context, opName string, op func(ctx context.Context, b store.Backend) error) error {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	if c.breaker == nil {
		err := op(ctx, c.primary)
		c.Metrics.RecordAttempt(c.primary.Name, opName, err)
		return err
	}

	// A missing record says nothing about the primary's health, so it is not counted against it.
	var opErr error
	_, err := c.breaker.Execute(func() (any, error) {
		opErr = op(ctx, c.primary)
		if errors.Is(opErr, store.ErrNotFound) {
			return nil, nil
		}
		return nil, opErr
	})
	if err != nil && opErr == nil {
		c.Logger.Debugf("attemptPrimary: Skipping %s for %s, err: %v", c.primary.Name, opName, err)
		return errors.Wrapf(err, "%s circuit breaker", c.primary.Name)
	}
	c.Metrics.RecordAttempt(c.primary.Name, opName, opErr)
	return opErr
}

// primaryOpen reports whether the breaker is currently refusing primary calls.
func (c *Coordinator) primaryOpen() bool {
	return c.breaker != nil && c.breaker.State() == gobreaker.StateOpen
}

type noopRecorder struct{}

func (noopRecorder) RecordAttempt(string, string, error) {}
func (noopRecorder) RecordFallback(string)               {}
func (noopRecorder) RecordUnavailable(string)            {}
func (noopRecorder) RecordFailover(string)               {}
func (noopRecorder) SetBreakerState(string, int)         {}
