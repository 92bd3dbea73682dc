package model

import (
	"fmt"
	"time"
)

// Field names shared by every backend; partial updates are keyed by these.
const (
	FieldType        = "type"
	FieldLength      = "length"
	FieldDiameter    = "diameter"
	FieldMaterial    = "material"
	FieldUnit        = "unit"
	FieldLocation    = "location"
	FieldSupplier    = "supplier"
	FieldQuantity    = "quantity"
	FieldLastUpdated = "lastUpdated"
	FieldCreatedBy   = "createdBy"
	FieldDate        = "date"
)

type StockItem struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	Type        string    `bson:"type" json:"type"`
	Length      string    `bson:"length" json:"length"`
	Diameter    string    `bson:"diameter" json:"diameter"`
	Material    string    `bson:"material" json:"material"`
	Unit        string    `bson:"unit,omitempty" json:"unit,omitempty"`
	Location    string    `bson:"location,omitempty" json:"location,omitempty"`
	Supplier    string    `bson:"supplier,omitempty" json:"supplier,omitempty"`
	Quantity    int       `bson:"quantity" json:"quantity"`
	LastUpdated time.Time `bson:"lastUpdated" json:"lastUpdated"`
	CreatedBy   string    `bson:"createdBy" json:"createdBy"`
}

// Description is the human readable label copied into transactions, e.g. "Steel Pipes 6m×50mm".
func (i StockItem) Description() string {
	return PipelineDescription(i.Type, i.Length, i.Diameter)
}

func PipelineDescription(pipeType, length, diameter string) string {
	return fmt.Sprintf("%s %s×%s", pipeType, length, diameter)
}

// StockInput is what a caller submits when adding or editing an item.
type StockInput struct {
	Type     string `json:"type"`
	Length   string `json:"length"`
	Diameter string `json:"diameter"`
	Material string `json:"material"`
	Unit     string `json:"unit"`
	Location string `json:"location"`
	Supplier string `json:"supplier"`
	Quantity int    `json:"quantity"`
}

func (in StockInput) NewItem(actor string, now time.Time) StockItem {
	return StockItem{
		Type:        in.Type,
		Length:      in.Length,
		Diameter:    in.Diameter,
		Material:    in.Material,
		Unit:        in.Unit,
		Location:    in.Location,
		Supplier:    in.Supplier,
		Quantity:    in.Quantity,
		LastUpdated: now,
		CreatedBy:   actor,
	}
}

// Fields returns the partial update for an edit. createdBy is never rewritten.
func (in StockInput) Fields(now time.Time) map[string]any {
	return map[string]any{
		FieldType:        in.Type,
		FieldLength:      in.Length,
		FieldDiameter:    in.Diameter,
		FieldMaterial:    in.Material,
		FieldUnit:        in.Unit,
		FieldLocation:    in.Location,
		FieldSupplier:    in.Supplier,
		FieldQuantity:    in.Quantity,
		FieldLastUpdated: now,
	}
}

// Apply returns item with the edit applied, as the store will hold it after Fields is merged.
func (in StockInput) Apply(item StockItem, now time.Time) StockItem {
	edited := in.NewItem(item.CreatedBy, now)
	edited.ID = item.ID
	return edited
}
