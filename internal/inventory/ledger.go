package inventory

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"pipestock/internal/coordinator"
	"pipestock/internal/misc"
	"pipestock/internal/model"
	"pipestock/internal/store"
)

// Ledger writes the transaction log. It never decides where to write: the caller passes the
// backend that accepted the stock write, so an item and its transactions stay together.
type Ledger struct {
	coord   *coordinator.Coordinator
	Logger  logger
	Metrics recorder
}

// DeriveTransaction returns the transaction for a quantity change from oldQty to newQty on item.
// ok is false when the quantity did not change.
func DeriveTransaction(item model.StockItem, oldQty, newQty int, actor string, at time.Time) (tx model.Transaction, ok bool) {
	delta := newQty - oldQty
	if delta == 0 {
		return tx, false
	}
	txType := model.TransactionIncoming
	if delta < 0 {
		txType = model.TransactionOutgoing
	}
	return model.Transaction{
		PipelineID:   item.ID,
		PipelineType: item.Description(),
		Type:         txType,
		Quantity:     misc.Abs(delta),
		Date:         at,
		HandledBy:    actor,
	}, true
}

// Record writes the transaction for the change, if any, to b. A failed write is returned but is
// never undone on the stock side.
func (l Ledger) Record(ctx context.Context, b store.Backend, item model.StockItem, oldQty, newQty int, actor string, at time.Time) (*model.Transaction, error) {
	tx, ok := DeriveTransaction(item, oldQty, newQty, actor, at)
	if !ok {
		l.Logger.Debugf("Record: Quantity of %s unchanged at %d, no transaction", item.ID, newQty)
		return nil, nil
	}
	id, err := coordinator.CreateOn(ctx, l.coord, b, coordinator.Transactions, tx)
	if err != nil {
		l.Logger.Errorf("Record: Error logging %s of %d for %s on %s, err: %v", tx.Type, tx.Quantity, item.ID, b.Name, err)
		l.Metrics.RecordLedgerFailure()
		return nil, errors.WithMessagef(err, "error logging %s transaction for pipeline %s", tx.Type, item.ID)
	}
	tx.ID = id
	l.Logger.Debugf("Record: Logged %s of %d for %s on %s, TransactionID: %s", tx.Type, tx.Quantity, item.ID, b.Name, id)
	return &tx, nil
}
