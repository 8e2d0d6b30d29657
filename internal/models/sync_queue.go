package models

import "encoding/json"

// SyncQueue represents a persisted offline write.
type SyncQueue struct {
	Seq            int64           `db:"seq" json:"seq"`
	ID             string          `db:"id" json:"id"`     // temp id of the pending story
	Operation      string          `db:"type" json:"type"` // add
	Payload        json.RawMessage `db:"payload" json:"payload"`
	BinaryRef      string          `db:"binary_ref" json:"binary_ref,omitempty"`
	UseAuth        bool            `db:"use_auth" json:"use_auth"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	Status         string          `db:"status" json:"status"` // pending, completed, failed
	RetryCount     int             `db:"retries" json:"retries"`
	MaxRetries     int             `db:"max_retries" json:"max_retries"`
	LastError      string          `db:"last_error" json:"last_error,omitempty"`
	ResultID       string          `db:"result_id" json:"result_id,omitempty"`
	EnqueuedAt     int64           `db:"enqueued_at" json:"enqueued_at"` // unix millis
	UpdatedAt      int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncQueue.
func (SyncQueue) TableName() string {
	return "offline_queue"
}
