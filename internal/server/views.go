package server

import (
	"pipestock/internal/coordinator"
	"pipestock/internal/misc"
	"pipestock/internal/model"
	"pipestock/internal/placeholder"
)

type stockItemView struct {
	model.StockItem
	Status      model.StockStatus `json:"status"`
	Placeholder bool              `json:"placeholder,omitempty"`
}

type transactionView struct {
	model.Transaction
	Placeholder bool `json:"placeholder,omitempty"`
}

// listView is the three-state result of a collection read as sent to clients.
type listView[V any] struct {
	State       string `json:"state"`
	Backend     string `json:"backend,omitempty"`
	Error       string `json:"error,omitempty"`
	Placeholder bool   `json:"placeholder"`
	Items       []V    `json:"items"`
}

func newListView[T, V any](res coordinator.Result[T], records []T, isPlaceholder bool, view func(T) V) listView[V] {
	lv := listView[V]{
		State:       res.State.String(),
		Backend:     res.Backend,
		Placeholder: isPlaceholder,
		Items:       make([]V, 0, len(records)),
	}
	if res.Err != nil {
		lv.Error = res.Err.Error()
	}
	for _, r := range records {
		lv.Items = append(lv.Items, view(r))
	}
	return lv
}

func (s Server) itemView(isPlaceholder bool) func(model.StockItem) stockItemView {
	return func(i model.StockItem) stockItemView {
		return stockItemView{StockItem: i, Status: s.Inventory.Policy.Status(i), Placeholder: isPlaceholder}
	}
}

func transactionViewOf(isPlaceholder bool) func(model.Transaction) transactionView {
	return func(t model.Transaction) transactionView {
		return transactionView{Transaction: t, Placeholder: isPlaceholder}
	}
}

// stockRecords substitutes the demo inventory for an empty one when placeholders are enabled.
func (s Server) stockRecords(res coordinator.Result[model.StockItem]) ([]model.StockItem, bool) {
	if res.State == coordinator.Empty && s.Placeholders {
		return placeholder.Inventory(s.now()), true
	}
	return res.Records, false
}

// transactionRecords is stockRecords for transactions, keeping at most limit if limit > 0.
func (s Server) transactionRecords(res coordinator.Result[model.Transaction], limit int) ([]model.Transaction, bool) {
	if res.State == coordinator.Empty && s.Placeholders {
		txs := placeholder.Transactions(s.now())
		if limit > 0 {
			txs = txs[:misc.Min(limit, len(txs))]
		}
		return txs, true
	}
	return res.Records, false
}

func (s Server) stockListView(res coordinator.Result[model.StockItem]) listView[stockItemView] {
	records, isPlaceholder := s.stockRecords(res)
	return newListView(res, records, isPlaceholder, s.itemView(isPlaceholder))
}

func (s Server) transactionListView(res coordinator.Result[model.Transaction], limit int) listView[transactionView] {
	records, isPlaceholder := s.transactionRecords(res, limit)
	return newListView(res, records, isPlaceholder, transactionViewOf(isPlaceholder))
}
