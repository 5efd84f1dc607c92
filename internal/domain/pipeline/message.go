package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// PipelineMessage is the standard envelope for inter-service queue messages.
// Large payloads travel as storage pointers (bucket/key); small ones inline.
type PipelineMessage struct {
	MessageID      string `json:"message_id"`
	PagwID         string `json:"pagw_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	SchemaVersion  string `json:"schema_version"`

	Stage         string `json:"stage,omitempty"`
	EventType     string `json:"event_type,omitempty"`
	SourceService string `json:"source_service,omitempty"`
	TargetService string `json:"target_service,omitempty"`
	Tenant        string `json:"tenant,omitempty"`

	PayloadBucket string `json:"payload_bucket,omitempty"`
	PayloadKey    string `json:"payload_key,omitempty"`
	Payload       string `json:"payload,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CorrelationID string    `json:"correlation_id,omitempty"`
	AttemptNumber int       `json:"attempt_number"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewMessage builds an envelope with an inline payload.
func NewMessage(pagwID, stage, eventType, sourceService, payload string) PipelineMessage {
	return PipelineMessage{
		MessageID:     uuid.NewString(),
		PagwID:        pagwID,
		SchemaVersion: "v1",
		Stage:         stage,
		EventType:     eventType,
		SourceService: sourceService,
		Payload:       payload,
		CorrelationID: pagwID,
		AttemptNumber: 1,
		CreatedAt:     time.Now().UTC(),
	}
}

// NewMessageWithPointer builds an envelope whose payload lives in object storage.
func NewMessageWithPointer(pagwID, stage, bucket, key string) PipelineMessage {
	return PipelineMessage{
		MessageID:     uuid.NewString(),
		PagwID:        pagwID,
		SchemaVersion: "v1",
		Stage:         stage,
		PayloadBucket: bucket,
		PayloadKey:    key,
		CorrelationID: pagwID,
		AttemptNumber: 1,
		CreatedAt:     time.Now().UTC(),
	}
}
