package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxUnsent     = "unsent"
	OutboxProcessing = "processing"
	OutboxSent       = "sent"
)

// OutboxEvent is one decoded chain log waiting to be published
type OutboxEvent struct {
	ID          int64           `db:"id"`
	Chain       string          `db:"chain"`
	Kind        string          `db:"kind"`
	TxHash      string          `db:"tx_hash"`
	LogIndex    uint            `db:"log_index"`
	BlockNumber uint64          `db:"block_number"`
	Status      string          `db:"status"`
	EventBlob   json.RawMessage `db:"event_blob"`
	CreatedAt   time.Time       `db:"created_at"`
}
