package pipeline

import (
	"time"

	"gorm.io/datatypes"
)

// Request lifecycle statuses.
const (
	RequestStatusReceived   = "RECEIVED"
	RequestStatusProcessing = "PROCESSING"
	RequestStatusError      = "ERROR"
	RequestStatusCompleted  = "COMPLETED"
	RequestStatusCancelled  = "CANCELLED"
)

// RequestTracker is the authoritative lifecycle record for one request.
// Created once per pagw_id (duplicate create is a no-op) and mutated by each
// stage worker; never deleted (retention/compliance).
//
// The (sync_processed, async_queued) latches each flip false->true at most
// once; TryMarkAsyncQueued conditions the flip on both still being false so a
// synchronous caller and a queue consumer can never both dispatch the same
// request.
type RequestTracker struct {
	PagwID       string `gorm:"column:pagw_id;primaryKey" json:"pagw_id"`
	Status       string `gorm:"column:status;not null;index" json:"status"`
	Tenant       string `gorm:"column:tenant;not null;index" json:"tenant"`
	SourceSystem string `gorm:"column:source_system" json:"source_system,omitempty"`
	RequestType  string `gorm:"column:request_type;index" json:"request_type,omitempty"`

	LastStage  string `gorm:"column:last_stage" json:"last_stage,omitempty"`
	NextStage  string `gorm:"column:next_stage" json:"next_stage,omitempty"`
	WorkflowID string `gorm:"column:workflow_id" json:"workflow_id,omitempty"`

	LastErrorCode string `gorm:"column:last_error_code" json:"last_error_code,omitempty"`
	LastErrorMsg  string `gorm:"column:last_error_msg" json:"last_error_msg,omitempty"`
	RetryCount    int    `gorm:"column:retry_count;not null;default:0" json:"retry_count"`

	// Storage pointers for the raw submission, the enriched bundle and the
	// final response. The storage service itself is an external collaborator.
	RawBucket      string `gorm:"column:raw_s3_bucket" json:"raw_s3_bucket,omitempty"`
	RawKey         string `gorm:"column:raw_s3_key" json:"raw_s3_key,omitempty"`
	EnrichedBucket string `gorm:"column:enriched_s3_bucket" json:"enriched_s3_bucket,omitempty"`
	EnrichedKey    string `gorm:"column:enriched_s3_key" json:"enriched_s3_key,omitempty"`
	FinalBucket    string `gorm:"column:final_s3_bucket" json:"final_s3_bucket,omitempty"`
	FinalKey       string `gorm:"column:final_s3_key" json:"final_s3_key,omitempty"`

	// Populated by the parser stage after FHIR extraction.
	PatientMemberID string         `gorm:"column:patient_member_id;index" json:"patient_member_id,omitempty"`
	ProviderNPI     string         `gorm:"column:provider_npi;index" json:"provider_npi,omitempty"`
	DiagnosisCodes  datatypes.JSON `gorm:"column:diagnosis_codes;type:jsonb" json:"diagnosis_codes,omitempty"`

	ContainsPHI         bool   `gorm:"column:contains_phi;not null;default:false" json:"contains_phi"`
	IdempotencyKey      string `gorm:"column:idempotency_key;index" json:"idempotency_key,omitempty"`
	ExternalReferenceID string `gorm:"column:external_reference_id;index" json:"external_reference_id,omitempty"`

	SyncProcessed   bool       `gorm:"column:sync_processed;not null;default:false" json:"sync_processed"`
	SyncProcessedAt *time.Time `gorm:"column:sync_processed_at" json:"sync_processed_at,omitempty"`
	AsyncQueued     bool       `gorm:"column:async_queued;not null;default:false" json:"async_queued"`
	AsyncQueuedAt   *time.Time `gorm:"column:async_queued_at" json:"async_queued_at,omitempty"`

	ReceivedAt     *time.Time `gorm:"column:received_at" json:"received_at,omitempty"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CallbackSentAt *time.Time `gorm:"column:callback_sent_at" json:"callback_sent_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (RequestTracker) TableName() string { return "request_tracker" }
