package model

import (
	"strings"
	"time"
)

type InventoryStats struct {
	TotalItems    int `json:"total_items"`
	TotalQuantity int `json:"total_quantity"`
	LowStockItems int `json:"low_stock_items"`
}

func (p StockPolicy) Stats(items []StockItem) InventoryStats {
	s := InventoryStats{TotalItems: len(items)}
	for _, i := range items {
		s.TotalQuantity += i.Quantity
		if p.IsLowStock(i) {
			s.LowStockItems++
		}
	}
	return s
}

// FilterStock keeps items whose type, material, length or diameter contains search
// (case-insensitive) and, if pipeType is set, whose type equals it.
func FilterStock(items []StockItem, search string, pipeType string) []StockItem {
	search = strings.ToLower(search)
	filtered := make([]StockItem, 0, len(items))
	for _, i := range items {
		if pipeType != "" && i.Type != pipeType {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(i.Type), search) &&
			!strings.Contains(strings.ToLower(i.Material), search) &&
			!strings.Contains(strings.ToLower(i.Length), search) &&
			!strings.Contains(strings.ToLower(i.Diameter), search) {
			continue
		}
		filtered = append(filtered, i)
	}
	return filtered
}

// UniqueTypes lists the non-empty types in order of first appearance.
func UniqueTypes(items []StockItem) []string {
	seen := make(map[string]bool)
	types := []string{}
	for _, i := range items {
		if i.Type == "" || seen[i.Type] {
			continue
		}
		seen[i.Type] = true
		types = append(types, i.Type)
	}
	return types
}

type TransactionSummary struct {
	TotalIncoming int `json:"total_incoming"`
	TotalOutgoing int `json:"total_outgoing"`
	NetChange     int `json:"net_change"`
}

func Summarize(txs []Transaction) TransactionSummary {
	var s TransactionSummary
	for _, t := range txs {
		switch t.Type {
		case TransactionIncoming:
			s.TotalIncoming += t.Quantity
		case TransactionOutgoing:
			s.TotalOutgoing += t.Quantity
		}
		s.NetChange += t.Signed()
	}
	return s
}

// FilterTransactions keeps transactions of txType (any if empty) dated on the calendar day of
// day in loc (any if day is zero).
func FilterTransactions(txs []Transaction, txType TransactionType, day time.Time, loc *time.Location) []Transaction {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.In(loc).Date()
	filtered := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if txType != "" && t.Type != txType {
			continue
		}
		if !day.IsZero() {
			ty, tm, td := t.Date.In(loc).Date()
			if ty != y || tm != m || td != d {
				continue
			}
		}
		filtered = append(filtered, t)
	}
	return filtered
}
