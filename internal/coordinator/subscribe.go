package coordinator

import (
	"context"
	"sync"

	"github.com/sony/gobreaker"
	"pipestock/internal/store"
)

type State int

const (
	Loaded State = iota
	Empty
	Failed
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is one delivery of a watched collection. Records is set when State is Loaded, Err when
// it is Failed. Backend names the store the records came from.
type Result[T any] struct {
	State   State
	Records []T
	Backend string
	Err     error
}

func loaded[T any](backend string, records []T) Result[T] {
	if len(records) == 0 {
		return Result[T]{State: Empty, Backend: backend}
	}
	return Result[T]{State: Loaded, Records: records, Backend: backend}
}

// Watch is Subscribe with the outcome folded into a Result: every snapshot arrives as Loaded or
// Empty, and losing both backends arrives as Failed, after which nothing more is delivered.
func Watch[T any](ctx context.Context, c *Coordinator, sel Selector[T], q store.Query, onResult func(Result[T])) store.Unsubscribe {
	unsubscribe, err := subscribe(ctx, c, sel, q,
		func(backend string, records []T) { onResult(loaded(backend, records)) },
		func(err error) { onResult(Result[T]{State: Failed, Err: err}) },
	)
	if err != nil {
		onResult(Result[T]{State: Failed, Err: err})
		return func() {}
	}
	return unsubscribe
}

// Subscribe forwards the snapshots of the primary's collection to onSnapshot. If the primary
// cannot be subscribed to, or its listener later fails, the secondary takes over. Subscribe fails
// with *store.UnavailableError when neither can be subscribed to; onError receives the same when
// the secondary's listener fails after the primary already has.
func Subscribe[T any](ctx context.Context, c *Coordinator, sel Selector[T], q store.Query, onSnapshot func([]T), onError func(error)) (store.Unsubscribe, error) {
	return subscribe(ctx, c, sel, q, func(_ string, records []T) { onSnapshot(records) }, onError)
}

type subscription[T any] struct {
	c          *Coordinator
	sel        Selector[T]
	q          store.Query
	onSnapshot func(backend string, records []T)
	onError    func(error)

	// guard fences the caller's callbacks; mu orders failover against Unsubscribe.
	guard      store.Guard
	mu         sync.Mutex
	closed     bool
	active     store.Unsubscribe
	primaryErr error
}

func subscribe[T any](ctx context.Context, c *Coordinator, sel Selector[T], q store.Query, onSnapshot func(string, []T), onError func(error)) (store.Unsubscribe, error) {
	s := &subscription[T]{c: c, sel: sel, q: q, onSnapshot: onSnapshot, onError: onError}
	collection := sel(c.primary).Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if c.primaryOpen() {
		err = store.SubscriptionFailed(collection, gobreaker.ErrOpenState)
	} else {
		s.active, err = sel(c.primary).Subscribe(ctx, q, s.forward(c.primary.Name), s.primaryFailed(ctx))
	}
	if err != nil {
		c.Logger.Warnf("Subscribe: Subscribing to %s on %s failed, falling back to %s, err: %v",
			collection, c.primary.Name, c.secondary.Name, err)
		c.Metrics.RecordFailover(collection)
		s.primaryErr = err
		if err = s.subscribeSecondaryLocked(ctx); err != nil {
			return nil, err
		}
	}
	return s.unsubscribe, nil
}

func (s *subscription[T]) forward(backend string) func([]T) {
	return func(records []T) {
		s.guard.Deliver(func() { s.onSnapshot(backend, records) })
	}
}

// primaryFailed swaps to the secondary off the primary's callback, since the primary's
// Unsubscribe may not run inside it.
func (s *subscription[T]) primaryFailed(ctx context.Context) func(error) {
	return func(err error) {
		go func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed || ctx.Err() != nil {
				return
			}
			collection := s.sel(s.c.primary).Name()
			s.c.Logger.Warnf("Subscribe: Subscription to %s on %s dropped, falling back to %s, err: %v",
				collection, s.c.primary.Name, s.c.secondary.Name, err)
			s.c.Metrics.RecordFailover(collection)
			if s.active != nil {
				s.active()
				s.active = nil
			}
			s.primaryErr = err
			if err := s.subscribeSecondaryLocked(ctx); err != nil {
				s.guard.Deliver(func() {
					if s.onError != nil {
						s.onError(err)
					}
				})
				s.guard.Close()
			}
		}()
	}
}

func (s *subscription[T]) subscribeSecondaryLocked(ctx context.Context) error {
	unsubscribe, err := s.sel(s.c.secondary).Subscribe(ctx, s.q, s.forward(s.c.secondary.Name), s.secondaryFailed)
	if err != nil {
		return s.unavailable(err)
	}
	s.active = unsubscribe
	return nil
}

func (s *subscription[T]) secondaryFailed(err error) {
	ue := s.unavailable(err)
	s.guard.Deliver(func() {
		if s.onError != nil {
			s.onError(ue)
		}
	})
	s.guard.Close()
}

func (s *subscription[T]) unavailable(secondaryErr error) error {
	err := &store.UnavailableError{
		Op:            "subscribe " + s.sel(s.c.primary).Name(),
		PrimaryName:   s.c.primary.Name,
		Primary:       s.primaryErr,
		SecondaryName: s.c.secondary.Name,
		Secondary:     secondaryErr,
	}
	s.c.Logger.Errorf("Subscribe: %v", err)
	s.c.Metrics.RecordUnavailable(err.Op)
	return err
}

func (s *subscription[T]) unsubscribe() {
	s.guard.Close()
	s.mu.Lock()
	s.closed = true
	active := s.active
	s.active = nil
	s.mu.Unlock()
	if active != nil {
		active()
	}
}

// Fetch returns the first result a watch on sel delivers and closes the watch again.
func Fetch[T any](ctx context.Context, c *Coordinator, sel Selector[T], q store.Query) Result[T] {
	first := make(chan Result[T], 1)
	unsubscribe := Watch(ctx, c, sel, q, func(r Result[T]) {
		select {
		case first <- r:
		default:
		}
	})
	defer unsubscribe()

	select {
	case r := <-first:
		return r
	case <-ctx.Done():
		return Result[T]{State: Failed, Err: ctx.Err()}
	}
}
