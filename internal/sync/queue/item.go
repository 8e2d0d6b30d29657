package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kimhsiao/storysync/internal/models"
	"github.com/kimhsiao/storysync/internal/uuid"
)

// Operation represents a queued write type.
type Operation string

const (
	// OperationAdd creates a story.
	OperationAdd Operation = "add"
)

// Status represents the status of a queued write.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payload is a queued story without its photo, which lives in the blob
// store under the item's BinaryRef.
type Payload struct {
	Description string   `json:"description"`
	PhotoName   string   `json:"photoName,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
	CreatedAt   int64    `json:"createdAt"` // unix millis
}

// Item is a queued write.
type Item struct {
	Seq            int64
	ID             string // temp id
	Operation      Operation
	Payload        Payload
	BinaryRef      string
	UseAuth        bool
	IdempotencyKey string
	Status         Status
	Retries        int
	MaxRetries     int
	LastError      string
	ResultID       string
	EnqueuedAt     time.Time
	UpdatedAt      time.Time
}

// ToModel converts an Item to its database model.
func (item *Item) ToModel() (*models.SyncQueue, error) {
	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &models.SyncQueue{
		Seq:            item.Seq,
		ID:             item.ID,
		Operation:      string(item.Operation),
		Payload:        json.RawMessage(payloadJSON),
		BinaryRef:      item.BinaryRef,
		UseAuth:        item.UseAuth,
		IdempotencyKey: item.IdempotencyKey,
		Status:         string(item.Status),
		RetryCount:     item.Retries,
		MaxRetries:     item.MaxRetries,
		LastError:      item.LastError,
		ResultID:       item.ResultID,
		EnqueuedAt:     item.EnqueuedAt.UnixMilli(),
		UpdatedAt:      item.UpdatedAt.UnixMilli(),
	}, nil
}

// FromModel creates an Item from its database model.
func FromModel(model *models.SyncQueue) (*Item, error) {
	var payload Payload
	if err := json.Unmarshal(model.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if !uuid.IsValid(model.IdempotencyKey) {
		return nil, fmt.Errorf("queue item %s has an invalid idempotency key", model.ID)
	}

	return &Item{
		Seq:            model.Seq,
		ID:             model.ID,
		Operation:      Operation(model.Operation),
		Payload:        payload,
		BinaryRef:      model.BinaryRef,
		UseAuth:        model.UseAuth,
		IdempotencyKey: model.IdempotencyKey,
		Status:         Status(model.Status),
		Retries:        model.RetryCount,
		MaxRetries:     model.MaxRetries,
		LastError:      model.LastError,
		ResultID:       model.ResultID,
		EnqueuedAt:     time.UnixMilli(model.EnqueuedAt).UTC(),
		UpdatedAt:      time.UnixMilli(model.UpdatedAt).UTC(),
	}, nil
}

// PendingStory is the temporary Cache row shown for the item until it is
// uploaded.
func (item *Item) PendingStory() *models.Story {
	created := item.EnqueuedAt
	if item.Payload.CreatedAt != 0 {
		created = time.UnixMilli(item.Payload.CreatedAt).UTC()
	}
	return &models.Story{
		ID:          item.ID,
		Description: item.Payload.Description,
		PhotoURL:    models.PendingPhotoURL(item.ID),
		Lat:         item.Payload.Lat,
		Lon:         item.Payload.Lon,
		CreatedAt:   created,
		IsPending:   true,
	}
}
