package domain

import (
	"github.com/carelane/pagw-core/internal/domain/pipeline"
)

type RequestTracker = pipeline.RequestTracker
type EventTracker = pipeline.EventTracker
type OutboxEntry = pipeline.OutboxEntry
type PipelineMessage = pipeline.PipelineMessage
type WorkflowDefinition = pipeline.WorkflowDefinition
type FlowConfig = pipeline.FlowConfig
type StageDef = pipeline.StageDef

const (
	RequestStatusReceived   = pipeline.RequestStatusReceived
	RequestStatusProcessing = pipeline.RequestStatusProcessing
	RequestStatusError      = pipeline.RequestStatusError
	RequestStatusCompleted  = pipeline.RequestStatusCompleted
	RequestStatusCancelled  = pipeline.RequestStatusCancelled

	EventStatusStarted = pipeline.EventStatusStarted
	EventStatusSuccess = pipeline.EventStatusSuccess
	EventStatusFailure = pipeline.EventStatusFailure
	EventStatusRetry   = pipeline.EventStatusRetry

	OutboxStatusPending    = pipeline.OutboxStatusPending
	OutboxStatusProcessing = pipeline.OutboxStatusProcessing
	OutboxStatusCompleted  = pipeline.OutboxStatusCompleted
	OutboxStatusFailed     = pipeline.OutboxStatusFailed
	OutboxStatusDeadLetter = pipeline.OutboxStatusDeadLetter

	DefaultTenant = pipeline.DefaultTenant
)
