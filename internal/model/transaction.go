package model

import "time"

type TransactionType string

const (
	TransactionIncoming TransactionType = "incoming"
	TransactionOutgoing TransactionType = "outgoing"
)

func (t TransactionType) Valid() bool {
	return t == TransactionIncoming || t == TransactionOutgoing
}

// Transaction is an append-only audit record of a quantity change. PipelineID is a weak
// reference: the item may since have been deleted.
type Transaction struct {
	ID           string          `bson:"_id,omitempty" json:"id"`
	PipelineID   string          `bson:"pipelineId" json:"pipelineId"`
	PipelineType string          `bson:"pipelineType" json:"pipelineType"`
	Type         TransactionType `bson:"type" json:"type"`
	Quantity     int             `bson:"quantity" json:"quantity"`
	Date         time.Time       `bson:"date" json:"date"`
	HandledBy    string          `bson:"handledBy" json:"handledBy"`
}

// Signed returns the quantity as a delta: positive for incoming, negative for outgoing.
func (t Transaction) Signed() int {
	if t.Type == TransactionOutgoing {
		return -t.Quantity
	}
	return t.Quantity
}
