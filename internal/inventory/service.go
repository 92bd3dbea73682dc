// Package inventory implements the stock operations on top of the coordinator: adding, editing,
// adjusting and deleting pipelines, logging a transaction for every quantity change, and keeping a
// cache of the latest pipelines snapshot for the inventory views.
package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"pipestock/internal/coordinator"
	"pipestock/internal/model"
	"pipestock/internal/store"
)

var (
	ErrNoActor         = errors.New("no authenticated actor")
	ErrInvalidQuantity = errors.New("quantity must not be negative")
	ErrInvalidInput    = errors.New("invalid stock input")
)

const resubscribeDelay = 5 * time.Second

type logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

type recorder interface {
	RecordLedgerFailure()
}

// MutationResult describes a successful stock write. Transaction is nil when the quantity did not
// change or when logging it failed, in which case LedgerErr says why.
type MutationResult struct {
	Item        model.StockItem
	Transaction *model.Transaction
	Backend     string
	LedgerErr   error
	// EnteredLowStock is set when this write moved the item into the low stock band.
	EnteredLowStock bool
}

type Service struct {
	coord       *coordinator.Coordinator
	ledger      Ledger
	Policy      model.StockPolicy
	RecentLimit int
	Logger      logger
	now         func() time.Time

	mu          sync.RWMutex
	items       map[string]model.StockItem
	state       coordinator.State
	backend     string
	err         error
	unsubscribe store.Unsubscribe
	stopped     bool
}

func NewService(c *coordinator.Coordinator, policy model.StockPolicy, recentLimit int, l logger, m recorder) *Service {
	if m == nil {
		m = noopRecorder{}
	}
	return &Service{
		coord:       c,
		ledger:      Ledger{coord: c, Logger: l, Metrics: m},
		Policy:      policy,
		RecentLimit: recentLimit,
		Logger:      l,
		now:         time.Now,
		items:       make(map[string]model.StockItem),
		state:       coordinator.Empty,
	}
}

// Start subscribes the pipelines cache. If both backends are lost it tries again every
// resubscribeDelay until Stop or ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
	s.watch(ctx)
}

func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Service) watch(ctx context.Context) {
	unsubscribe := coordinator.Watch(ctx, s.coord, coordinator.Pipelines, inventoryQuery(),
		func(r coordinator.Result[model.StockItem]) {
			s.apply(r)
			if r.State == coordinator.Failed {
				time.AfterFunc(resubscribeDelay, func() { s.resubscribe(ctx) })
			}
		})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

func (s *Service) resubscribe(ctx context.Context) {
	s.mu.Lock()
	if s.stopped || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	old := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if old != nil {
		old()
	}
	s.Logger.Infof("resubscribe: Subscribing to pipelines again after both backends failed")
	s.watch(ctx)
}

// apply rebuilds the cache from r. A failure keeps the last known items.
func (s *Service) apply(r coordinator.Result[model.StockItem]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.err = r.State, r.Err
	if r.State == coordinator.Failed {
		s.Logger.Errorf("apply: Pipelines subscription failed, serving %d cached items, err: %v", len(s.items), r.Err)
		return
	}
	s.backend = r.Backend
	s.items = make(map[string]model.StockItem, len(r.Records))
	for _, i := range r.Records {
		s.items[i.ID] = i
	}
	s.Logger.Debugf("apply: Pipelines snapshot from %s with %d items", r.Backend, len(r.Records))
}

// Inventory returns the cached pipelines ordered by type, then id.
func (s *Service) Inventory() coordinator.Result[model.StockItem] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]model.StockItem, 0, len(s.items))
	for _, i := range s.items {
		items = append(items, i)
	}
	sort.Slice(items, func(a, b int) bool {
		if items[a].Type != items[b].Type {
			return items[a].Type < items[b].Type
		}
		return items[a].ID < items[b].ID
	})
	r := coordinator.Result[model.StockItem]{State: s.state, Records: items, Backend: s.backend, Err: s.err}
	if r.State != coordinator.Failed {
		if len(items) == 0 {
			r.State, r.Records = coordinator.Empty, nil
		} else {
			r.State = coordinator.Loaded
		}
	}
	return r
}

func (s *Service) AddStock(ctx context.Context, actor string, in model.StockInput) (MutationResult, error) {
	if err := validate(actor, in); err != nil {
		return MutationResult{}, err
	}
	now := s.now()
	item := in.NewItem(actor, now)

	id, served, err := coordinator.Create(ctx, s.coord, coordinator.Pipelines, item)
	if err != nil {
		return MutationResult{}, errors.WithMessagef(err, "error adding %s", item.Description())
	}
	item.ID = id
	s.Logger.Infof("AddStock: %s added %s with quantity %d on %s, ID: %s", actor, item.Description(), item.Quantity, served.Name, id)

	res := MutationResult{
		Item:            item,
		Backend:         served.Name,
		EnteredLowStock: s.Policy.IsLowStock(item),
	}
	res.Transaction, res.LedgerErr = s.ledger.Record(ctx, served, item, 0, item.Quantity, actor, now)
	return res, nil
}

// EditStock replaces the descriptive fields and quantity of item id. The old quantity is the one
// held by the backend that accepted the edit.
func (s *Service) EditStock(ctx context.Context, actor, id string, in model.StockInput) (MutationResult, error) {
	if err := validate(actor, in); err != nil {
		return MutationResult{}, err
	}
	now := s.now()

	old, served, err := coordinator.Update(ctx, s.coord, coordinator.Pipelines, id, in.Fields(now))
	if err != nil {
		return MutationResult{}, errors.WithMessagef(err, "error editing pipeline %s", id)
	}
	old.ID = id
	item := in.Apply(old, now)
	s.Logger.Infof("EditStock: %s edited %s on %s, quantity %d -> %d", actor, id, served.Name, old.Quantity, item.Quantity)

	res := MutationResult{
		Item:            item,
		Backend:         served.Name,
		EnteredLowStock: s.Policy.CrossedIntoLowStock(old.Quantity, item.Quantity),
	}
	res.Transaction, res.LedgerErr = s.ledger.Record(ctx, served, item, old.Quantity, item.Quantity, actor, now)
	return res, nil
}

func (s *Service) SetQuantity(ctx context.Context, actor, id string, qty int) (MutationResult, error) {
	if actor == "" {
		return MutationResult{}, ErrNoActor
	}
	if qty < 0 {
		return MutationResult{}, errors.Wrapf(ErrInvalidQuantity, "got %d", qty)
	}
	now := s.now()

	old, served, err := coordinator.Update(ctx, s.coord, coordinator.Pipelines, id, store.Fields{
		model.FieldQuantity:    qty,
		model.FieldLastUpdated: now,
	})
	if err != nil {
		return MutationResult{}, errors.WithMessagef(err, "error setting quantity of pipeline %s", id)
	}
	old.ID = id
	item := old
	item.Quantity = qty
	item.LastUpdated = now
	s.Logger.Infof("SetQuantity: %s set %s on %s, quantity %d -> %d", actor, id, served.Name, old.Quantity, qty)

	res := MutationResult{
		Item:            item,
		Backend:         served.Name,
		EnteredLowStock: s.Policy.CrossedIntoLowStock(old.Quantity, qty),
	}
	res.Transaction, res.LedgerErr = s.ledger.Record(ctx, served, item, old.Quantity, qty, actor, now)
	return res, nil
}

// DeleteStock removes item id. Its transactions are left as they are.
func (s *Service) DeleteStock(ctx context.Context, actor, id string) (string, error) {
	if actor == "" {
		return "", ErrNoActor
	}
	served, err := coordinator.Delete(ctx, s.coord, coordinator.Pipelines, id)
	if err != nil {
		return "", errors.WithMessagef(err, "error deleting pipeline %s", id)
	}
	s.Logger.Infof("DeleteStock: %s deleted %s on %s", actor, id, served.Name)
	return served.Name, nil
}

func validate(actor string, in model.StockInput) error {
	if actor == "" {
		return ErrNoActor
	}
	if strings.TrimSpace(in.Type) == "" {
		return errors.Wrap(ErrInvalidInput, "type is required")
	}
	if in.Quantity < 0 {
		return errors.Wrapf(ErrInvalidQuantity, "got %d", in.Quantity)
	}
	return nil
}

type noopRecorder struct{}

func (noopRecorder) RecordLedgerFailure() {}
