// Package placeholder holds demo records for an empty installation. Callers opt in explicitly;
// nothing in the store layers ever substitutes them.
package placeholder

import (
	"time"

	"pipestock/internal/model"
)

const (
	day  = 24 * time.Hour
	demo = "demo"
)

// Inventory returns the demo pipelines with timestamps relative to now.
func Inventory(now time.Time) []model.StockItem {
	item := func(id, pipeType, material, length, diameter string, qty int, location, supplier string, age time.Duration) model.StockItem {
		return model.StockItem{
			ID:          id,
			Type:        pipeType,
			Length:      length,
			Diameter:    diameter,
			Material:    material,
			Unit:        "units",
			Location:    location,
			Supplier:    supplier,
			Quantity:    qty,
			LastUpdated: now.Add(-age),
			CreatedBy:   demo,
		}
	}
	return []model.StockItem{
		item("demo-1", "Steel Pipes", "Carbon Steel", "6m", "50mm", 450, "Warehouse A", "SteelCorp Inc.", 2*day),
		item("demo-2", "PVC Pipes", "Polyvinyl Chloride", "3m", "75mm", 320, "Warehouse B", "PlastTech Ltd.", day),
		item("demo-3", "Copper Tubes", "Copper", "4m", "25mm", 180, "Warehouse A", "MetalWorks Co.", 3*day),
		item("demo-4", "Aluminum Pipes", "Aluminum Alloy", "5m", "40mm", 95, "Warehouse C", "AluCorp Industries", 5*day),
		item("demo-5", "HDPE Pipes", "High-Density Polyethylene", "6m", "100mm", 280, "Warehouse B", "PolyPipe Solutions", day),
		item("demo-6", "Cast Iron Pipes", "Cast Iron", "4m", "150mm", 3, "Warehouse A", "IronWorks Ltd.", 7*day),
	}
}

// Transactions returns the demo transaction log, newest first.
func Transactions(now time.Time) []model.Transaction {
	tx := func(id string, txType model.TransactionType, pipelineID, pipelineType string, qty int, handledBy string, age time.Duration) model.Transaction {
		return model.Transaction{
			ID:           id,
			PipelineID:   pipelineID,
			PipelineType: pipelineType,
			Type:         txType,
			Quantity:     qty,
			Date:         now.Add(-age),
			HandledBy:    handledBy,
		}
	}
	return []model.Transaction{
		tx("demo-tx-1", model.TransactionIncoming, "demo-1", "Steel Pipes 6m×50mm", 150, "user123", 2*time.Hour),
		tx("demo-tx-2", model.TransactionOutgoing, "demo-2", "PVC Pipes 3m×75mm", 75, "user123", 4*time.Hour),
		tx("demo-tx-3", model.TransactionIncoming, "demo-3", "Copper Tubes 4m×25mm", 200, "user456", 6*time.Hour),
		tx("demo-tx-4", model.TransactionOutgoing, "demo-1", "Steel Pipes 6m×50mm", 45, "user123", 8*time.Hour),
		tx("demo-tx-5", model.TransactionIncoming, "demo-4", "Aluminum Pipes 5m×40mm", 120, "user789", 12*time.Hour),
		tx("demo-tx-6", model.TransactionOutgoing, "demo-5", "HDPE Pipes 6m×100mm", 60, "user456", 16*time.Hour),
	}
}
