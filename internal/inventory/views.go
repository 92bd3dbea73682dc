package inventory

import (
	"context"

	"pipestock/internal/coordinator"
	"pipestock/internal/model"
	"pipestock/internal/store"
)

// Dashboard is the summary shown on the landing page.
type Dashboard struct {
	Stats              model.InventoryStats
	LowStock           []model.StockItem
	RecentTransactions coordinator.Result[model.Transaction]
}

func inventoryQuery() store.Query {
	return store.Query{OrderBy: model.FieldType}
}

// TransactionsQuery orders transactions newest first, keeping at most limit of them if limit > 0.
func TransactionsQuery(limit int) store.Query {
	return store.Query{OrderBy: model.FieldDate, Descending: true, Limit: limit}
}

// WatchInventory streams pipelines snapshots until the returned func is called.
func (s *Service) WatchInventory(ctx context.Context, onResult func(coordinator.Result[model.StockItem])) store.Unsubscribe {
	return coordinator.Watch(ctx, s.coord, coordinator.Pipelines, inventoryQuery(), onResult)
}

// WatchTransactions streams transactions, newest first, capped at limit if limit > 0.
func (s *Service) WatchTransactions(ctx context.Context, limit int, onResult func(coordinator.Result[model.Transaction])) store.Unsubscribe {
	return coordinator.Watch(ctx, s.coord, coordinator.Transactions, TransactionsQuery(limit), onResult)
}

// Transactions reads the transaction log once, newest first.
func (s *Service) Transactions(ctx context.Context) coordinator.Result[model.Transaction] {
	return coordinator.Fetch(ctx, s.coord, coordinator.Transactions, TransactionsQuery(0))
}

func (s *Service) Dashboard(ctx context.Context) Dashboard {
	inv := s.Inventory()
	return Dashboard{
		Stats:              s.Policy.Stats(inv.Records),
		LowStock:           s.Policy.LowStockItems(inv.Records),
		RecentTransactions: coordinator.Fetch(ctx, s.coord, coordinator.Transactions, TransactionsQuery(s.RecentLimit)),
	}
}
