package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/carelane/pagw-core/internal/domain"
	pkgerrors "github.com/carelane/pagw-core/internal/pkg/errors"
	"github.com/carelane/pagw-core/internal/pkg/logger"
)

// EventTrackerRepo is the per-request sequence ledger. Appends assign
// sequence_no as max+1 for the pagw_id inside the same transaction as the
// insert, serialized by an advisory lock on the pagw_id so concurrent workers
// never observe the same "next" value.
//
// Appends fail closed: an infrastructure error propagates to the caller,
// because a silently dropped row would corrupt both the audit trail and retry
// scheduling.
type EventTrackerRepo interface {
	RecordStart(ctx context.Context, tx *gorm.DB, pagwID, tenant, stage, eventType string, metadata datatypes.JSON) (int64, error)
	RecordComplete(ctx context.Context, tx *gorm.DB, pagwID, tenant, stage, eventType string, durationMs int64, metadata datatypes.JSON) (int64, error)
	RecordFailure(ctx context.Context, tx *gorm.DB, pagwID, tenant, stage, eventType, errorCode, errorMessage string, retryable bool, nextRetryAt *time.Time) (int64, error)
	RecordRetry(ctx context.Context, tx *gorm.DB, pagwID, tenant, stage, eventType string, attempt int) (int64, error)

	Timeline(ctx context.Context, tx *gorm.DB, pagwID string) ([]*types.EventTracker, error)
	FailedRetryable(ctx context.Context, tx *gorm.DB, tenant string, sinceMinutes int) ([]*types.EventTracker, error)

	UpdateWorkerID(ctx context.Context, tx *gorm.DB, id uuid.UUID, workerID string) error
}

type eventTrackerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventTrackerRepo(db *gorm.DB, baseLog *logger.Logger) EventTrackerRepo {
	return &eventTrackerRepo{db: db, log: baseLog.With("repo", "EventTrackerRepo")}
}

// safeTenant keeps the NOT NULL tenant column satisfiable when callers cannot
// resolve a tenant. Documented business rule, not a fallback of convenience.
func safeTenant(tenant string) string {
	if strings.TrimSpace(tenant) == "" {
		return types.DefaultTenant
	}
	return tenant
}

func (r *eventTrackerRepo) RecordStart(ctx context.Context, tx *gorm.DB, pagwID, tenant, stage, eventType string, metadata datatypes.JSON) (int64, error) {
	now := time.Now().UTC()
	row := &types.EventTracker{
		ID:        uuid.New(),
		Tenant:    safeTenant(tenant),
		PagwID:    pagwID,
		Stage:     stage,
		EventType: eventType,
		Status:    types.EventStatusStarted,
		Metadata:  metadata,
		StartedAt: &now,
	}
	seq, err := r.append(ctx, tx, row, false)
	if err != nil {
		return 0, err
	}
	r.log.Debug("Event logged", "pagw_id", pagwID, "stage", stage, "event_type", eventType, "sequence_no", seq)
	return seq, nil
}

func (r *eventTrackerRepo) RecordComplete(ctx context.Context, tx *gorm.DB, pagwID, tenant, stage, eventType string, durationMs int64, metadata datatypes.JSON) (int64, error) {
	now := time.Now().UTC()
	row := &types.EventTracker{
		ID:          uuid.New(),
		Tenant:      safeTenant(tenant),
		PagwID:      pagwID,
		Stage:       stage,
		EventType:   eventType,
		Status:      types.EventStatusSuccess,
		DurationMs:  &durationMs,
		Metadata:    metadata,
		CompletedAt: &now,
	}
	seq, err := r.append(ctx, tx, row, false)
	if err != nil {
		return 0, err
	}
	r.log.Info("Stage completed", "pagw_id", pagwID, "stage", stage, "event_type", eventType, "duration_ms", durationMs, "sequence_no", seq)
	return seq, nil
}

func (r *eventTrackerRepo) RecordFailure(ctx context.Context, tx *gorm.DB, pagwID, tenant, stage, eventType, errorCode, errorMessage string, retryable bool, nextRetryAt *time.Time) (int64, error) {
	now := time.Now().UTC()
	row := &types.EventTracker{
		ID:           uuid.New(),
		Tenant:       safeTenant(tenant),
		PagwID:       pagwID,
		Stage:        stage,
		EventType:    eventType,
		Status:       types.EventStatusFailure,
		Retryable:    retryable,
		NextRetryAt:  nextRetryAt,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		CompletedAt:  &now,
	}
	seq, err := r.append(ctx, tx, row, true)
	if err != nil {
		return 0, err
	}
	r.log.Error("Stage failed", "pagw_id", pagwID, "stage", stage, "event_type", eventType,
		"error_code", errorCode, "retryable", retryable, "attempt", row.Attempt, "sequence_no", seq)
	return seq, nil
}

func (r *eventTrackerRepo) RecordRetry(ctx context.Context, tx *gorm.DB, pagwID, tenant, stage, eventType string, attempt int) (int64, error) {
	now := time.Now().UTC()
	row := &types.EventTracker{
		ID:        uuid.New(),
		Tenant:    safeTenant(tenant),
		PagwID:    pagwID,
		Stage:     stage,
		EventType: eventType,
		Status:    types.EventStatusRetry,
		Attempt:   attempt,
		Retryable: true,
		StartedAt: &now,
	}
	seq, err := r.append(ctx, tx, row, false)
	if err != nil {
		return 0, err
	}
	r.log.Info("Retry attempt", "pagw_id", pagwID, "stage", stage, "event_type", eventType, "attempt", attempt, "sequence_no", seq)
	return seq, nil
}

// append computes the next sequence number and inserts the row atomically.
// The advisory xact lock on the pagw_id makes concurrent max+1 reads for the
// same request serialize; distinct requests do not contend. When computeAttempt
// is set the attempt counter for the (pagw_id, stage, event_type) triple is
// assigned the same way.
func (r *eventTrackerRepo) append(ctx context.Context, tx *gorm.DB, row *types.EventTracker, computeAttempt bool) (int64, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	err := t.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Exec(`SELECT pg_advisory_xact_lock(hashtext(?))`, row.PagwID).Error; err != nil {
			return err
		}
		var next int64
		if err := txx.Model(&types.EventTracker{}).
			Select("COALESCE(MAX(sequence_no), 0) + 1").
			Where("pagw_id = ?", row.PagwID).
			Scan(&next).Error; err != nil {
			return err
		}
		row.SequenceNo = next

		if computeAttempt {
			var attempt int
			if err := txx.Model(&types.EventTracker{}).
				Select("COALESCE(MAX(attempt), 0) + 1").
				Where("pagw_id = ? AND stage = ? AND event_type = ?", row.PagwID, row.Stage, row.EventType).
				Scan(&attempt).Error; err != nil {
				return err
			}
			row.Attempt = attempt
		}

		return txx.Create(row).Error
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDatabase, "event ledger append failed", row.PagwID, err)
	}
	return row.SequenceNo, nil
}

func (r *eventTrackerRepo) Timeline(ctx context.Context, tx *gorm.DB, pagwID string) ([]*types.EventTracker, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*types.EventTracker
	if pagwID == "" {
		return out, nil
	}
	if err := t.WithContext(ctx).
		Where("pagw_id = ?", pagwID).
		Order("sequence_no ASC").
		Find(&out).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, "timeline query failed", pagwID, err)
	}
	return out, nil
}

func (r *eventTrackerRepo) FailedRetryable(ctx context.Context, tx *gorm.DB, tenant string, sinceMinutes int) ([]*types.EventTracker, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	now := time.Now().UTC()
	windowStart := now.Add(-time.Duration(sinceMinutes) * time.Minute)
	var out []*types.EventTracker
	if err := t.WithContext(ctx).
		Where("tenant = ? AND status = ? AND retryable = TRUE", safeTenant(tenant), types.EventStatusFailure).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Where("created_at >= ?", windowStart).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, "failed-retryable query failed", "", err)
	}
	return out, nil
}

func (r *eventTrackerRepo) UpdateWorkerID(ctx context.Context, tx *gorm.DB, id uuid.UUID, workerID string) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if err := t.WithContext(ctx).
		Model(&types.EventTracker{}).
		Where("id = ?", id).
		Update("worker_id", workerID).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, "worker id update failed", "", err)
	}
	return nil
}
