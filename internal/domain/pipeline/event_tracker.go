package pipeline

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event statuses in the sequence ledger.
const (
	EventStatusStarted = "STARTED"
	EventStatusSuccess = "SUCCESS"
	EventStatusFailure = "FAILURE"
	EventStatusRetry   = "RETRY"
)

// DefaultTenant is the sentinel a blank tenant normalizes to. Business rule:
// the ledger's tenant column is NOT NULL and callers are not always able to
// resolve one.
const DefaultTenant = "UNKNOWN"

// EventTracker is one row of the append-only, per-request sequence ledger.
// sequence_no is strictly increasing and gapless per pagw_id, assigned as
// max+1 inside the same transaction as the insert. Rows are immutable after
// creation except for the worker_id annotation.
type EventTracker struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Tenant    string    `gorm:"column:tenant;not null;index" json:"tenant"`
	PagwID    string    `gorm:"column:pagw_id;not null;index:idx_event_tracker_pagw_seq,unique,priority:1" json:"pagw_id"`
	Stage     string    `gorm:"column:stage;not null;index" json:"stage"`
	EventType string    `gorm:"column:event_type;not null" json:"event_type"`
	Status    string    `gorm:"column:status;not null;index" json:"status"`

	SequenceNo int64 `gorm:"column:sequence_no;type:bigint;not null;index:idx_event_tracker_pagw_seq,unique,priority:2" json:"sequence_no"`
	Attempt    int   `gorm:"column:attempt;not null;default:0" json:"attempt"`

	Retryable   bool       `gorm:"column:retryable;not null;default:false;index" json:"retryable"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`

	DurationMs   *int64 `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	ErrorCode    string `gorm:"column:error_code" json:"error_code,omitempty"`
	ErrorMessage string `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	WorkerID     string `gorm:"column:worker_id" json:"worker_id,omitempty"`

	Metadata    datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (EventTracker) TableName() string { return "event_tracker" }
