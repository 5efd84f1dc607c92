package pipeline

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Outbox entry statuses. PENDING -> COMPLETED, or PENDING -> FAILED ->
// (re-queued) -> COMPLETED | DEAD_LETTER.
const (
	OutboxStatusPending    = "PENDING"
	OutboxStatusProcessing = "PROCESSING"
	OutboxStatusCompleted  = "COMPLETED"
	OutboxStatusFailed     = "FAILED"
	OutboxStatusDeadLetter = "DEAD_LETTER"
)

// OutboxEntry is a durable outgoing-message record. It must be written inside
// the same transaction as the domain mutation it announces; the relay publishes
// it asynchronously. Payload is immutable after creation. Entries are never
// deleted (audit); archival happens out of band.
type OutboxEntry struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AggregateType string         `gorm:"column:aggregate_type;not null" json:"aggregate_type"`
	AggregateID   string         `gorm:"column:aggregate_id;not null;index" json:"aggregate_id"`
	EventType     string         `gorm:"column:event_type;not null" json:"event_type"`
	Payload       datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`

	DestinationQueue string `gorm:"column:destination_queue;not null;index" json:"destination_queue"`
	Status           string `gorm:"column:status;not null;index" json:"status"`
	RetryCount       int    `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastError        string `gorm:"column:last_error;type:text" json:"last_error,omitempty"`

	CreatedAt   time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`
}

func (OutboxEntry) TableName() string { return "outbox" }
