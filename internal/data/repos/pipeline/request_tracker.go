package pipeline

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/carelane/pagw-core/internal/domain"
	pkgerrors "github.com/carelane/pagw-core/internal/pkg/errors"
	"github.com/carelane/pagw-core/internal/pkg/logger"
)

// RequestTrackerRepo owns the per-request lifecycle record. Create is
// insert-or-ignore so at-least-once callers can re-run intake safely.
// TryMarkAsyncQueued collapses the sync/async check-then-act race into a
// single conditional UPDATE evaluated atomically by the store.
type RequestTrackerRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tracker *types.RequestTracker) (bool, error)

	GetByPagwID(ctx context.Context, tx *gorm.DB, pagwID string) (*types.RequestTracker, error)
	FindByExternalReference(ctx context.Context, tx *gorm.DB, externalReferenceID string) (*types.RequestTracker, error)
	FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, idempotencyKey string) (*types.RequestTracker, error)
	FindByPatientAndProvider(ctx context.Context, tx *gorm.DB, patientMemberID, providerNPI string, receivedFrom, receivedTo *time.Time) (*types.RequestTracker, error)

	UpdateStatus(ctx context.Context, tx *gorm.DB, pagwID, status, lastStage, nextStage string) error
	RecordError(ctx context.Context, tx *gorm.DB, pagwID, errorCode, errorMsg string) error
	MarkCompleted(ctx context.Context, tx *gorm.DB, pagwID, finalBucket, finalKey string) error
	MarkCallbackSent(ctx context.Context, tx *gorm.DB, pagwID string) error
	UpdateEnrichedLocation(ctx context.Context, tx *gorm.DB, pagwID, bucket, key string) error
	UpdateExternalReference(ctx context.Context, tx *gorm.DB, pagwID, externalReferenceID string) error
	UpdateFhirMetadata(ctx context.Context, tx *gorm.DB, pagwID, patientMemberID, providerNPI string, diagnosisCodes datatypes.JSON) error

	MarkSyncProcessed(ctx context.Context, tx *gorm.DB, pagwID string) error
	TryMarkAsyncQueued(ctx context.Context, tx *gorm.DB, pagwID string) (bool, error)
}

type requestTrackerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRequestTrackerRepo(db *gorm.DB, baseLog *logger.Logger) RequestTrackerRepo {
	return &requestTrackerRepo{db: db, log: baseLog.With("repo", "RequestTrackerRepo")}
}

func (r *requestTrackerRepo) Create(ctx context.Context, tx *gorm.DB, tracker *types.RequestTracker) (bool, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if tracker == nil || tracker.PagwID == "" {
		return false, pkgerrors.New(pkgerrors.CodeInvalidRequest, "tracker with pagw id required", "")
	}
	tracker.Tenant = safeTenant(tracker.Tenant)
	res := t.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pagw_id"}},
			DoNothing: true,
		}).
		Create(tracker)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDatabase, "request tracker create failed", tracker.PagwID, res.Error)
	}
	if res.RowsAffected == 0 {
		r.log.Debug("Request tracker already exists", "pagw_id", tracker.PagwID)
		return false, nil
	}
	r.log.Info("Request tracker created", "pagw_id", tracker.PagwID, "status", tracker.Status)
	return true, nil
}

func (r *requestTrackerRepo) GetByPagwID(ctx context.Context, tx *gorm.DB, pagwID string) (*types.RequestTracker, error) {
	return r.findOne(ctx, tx, "pagw_id = ?", pagwID)
}

func (r *requestTrackerRepo) FindByExternalReference(ctx context.Context, tx *gorm.DB, externalReferenceID string) (*types.RequestTracker, error) {
	return r.findOne(ctx, tx, "external_reference_id = ?", externalReferenceID)
}

func (r *requestTrackerRepo) FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, idempotencyKey string) (*types.RequestTracker, error) {
	return r.findOne(ctx, tx, "idempotency_key = ?", idempotencyKey)
}

func (r *requestTrackerRepo) findOne(ctx context.Context, tx *gorm.DB, query string, arg string) (*types.RequestTracker, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if arg == "" {
		return nil, nil
	}
	var tracker types.RequestTracker
	err := t.WithContext(ctx).
		Where(query, arg).
		Order("created_at DESC").
		Limit(1).
		Find(&tracker).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, "request tracker lookup failed", arg, err)
	}
	if tracker.PagwID == "" {
		return nil, nil
	}
	return &tracker, nil
}

func (r *requestTrackerRepo) FindByPatientAndProvider(ctx context.Context, tx *gorm.DB, patientMemberID, providerNPI string, receivedFrom, receivedTo *time.Time) (*types.RequestTracker, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if patientMemberID == "" || providerNPI == "" {
		return nil, nil
	}
	q := t.WithContext(ctx).
		Where("patient_member_id = ? AND provider_npi = ?", patientMemberID, providerNPI)
	if receivedFrom != nil {
		q = q.Where("received_at >= ?", *receivedFrom)
	}
	if receivedTo != nil {
		q = q.Where("received_at <= ?", *receivedTo)
	}
	var tracker types.RequestTracker
	if err := q.Order("created_at DESC").Limit(1).Find(&tracker).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, "request tracker patient/provider lookup failed", "", err)
	}
	if tracker.PagwID == "" {
		return nil, nil
	}
	return &tracker, nil
}

func (r *requestTrackerRepo) updateFields(ctx context.Context, tx *gorm.DB, pagwID string, updates map[string]interface{}) (int64, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if pagwID == "" {
		return 0, nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := t.WithContext(ctx).
		Model(&types.RequestTracker{}).
		Where("pagw_id = ?", pagwID).
		Updates(updates)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDatabase, "request tracker update failed", pagwID, res.Error)
	}
	return res.RowsAffected, nil
}

func (r *requestTrackerRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, pagwID, status, lastStage, nextStage string) error {
	updated, err := r.updateFields(ctx, tx, pagwID, map[string]interface{}{
		"status":     status,
		"last_stage": lastStage,
		"next_stage": nextStage,
	})
	if err != nil {
		return err
	}
	if updated == 0 {
		r.log.Warn("Request not found for status update", "pagw_id", pagwID)
		return nil
	}
	r.log.Info("Request status updated", "pagw_id", pagwID, "status", status, "stage", lastStage)
	return nil
}

func (r *requestTrackerRepo) RecordError(ctx context.Context, tx *gorm.DB, pagwID, errorCode, errorMsg string) error {
	_, err := r.updateFields(ctx, tx, pagwID, map[string]interface{}{
		"status":          types.RequestStatusError,
		"last_error_code": errorCode,
		"last_error_msg":  errorMsg,
		"retry_count":     gorm.Expr("retry_count + 1"),
	})
	if err != nil {
		return err
	}
	r.log.Error("Request error recorded", "pagw_id", pagwID, "error_code", errorCode)
	return nil
}

func (r *requestTrackerRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, pagwID, finalBucket, finalKey string) error {
	now := time.Now().UTC()
	_, err := r.updateFields(ctx, tx, pagwID, map[string]interface{}{
		"status":          types.RequestStatusCompleted,
		"final_s3_bucket": finalBucket,
		"final_s3_key":    finalKey,
		"completed_at":    now,
	})
	if err != nil {
		return err
	}
	r.log.Info("Request marked completed", "pagw_id", pagwID)
	return nil
}

func (r *requestTrackerRepo) MarkCallbackSent(ctx context.Context, tx *gorm.DB, pagwID string) error {
	_, err := r.updateFields(ctx, tx, pagwID, map[string]interface{}{
		"callback_sent_at": time.Now().UTC(),
	})
	return err
}

func (r *requestTrackerRepo) UpdateEnrichedLocation(ctx context.Context, tx *gorm.DB, pagwID, bucket, key string) error {
	_, err := r.updateFields(ctx, tx, pagwID, map[string]interface{}{
		"enriched_s3_bucket": bucket,
		"enriched_s3_key":    key,
	})
	return err
}

func (r *requestTrackerRepo) UpdateExternalReference(ctx context.Context, tx *gorm.DB, pagwID, externalReferenceID string) error {
	_, err := r.updateFields(ctx, tx, pagwID, map[string]interface{}{
		"external_reference_id": externalReferenceID,
	})
	return err
}

func (r *requestTrackerRepo) UpdateFhirMetadata(ctx context.Context, tx *gorm.DB, pagwID, patientMemberID, providerNPI string, diagnosisCodes datatypes.JSON) error {
	updates := map[string]interface{}{
		"patient_member_id": patientMemberID,
		"provider_npi":      providerNPI,
	}
	if diagnosisCodes != nil {
		updates["diagnosis_codes"] = diagnosisCodes
	}
	_, err := r.updateFields(ctx, tx, pagwID, updates)
	return err
}

// MarkSyncProcessed is unconditional: the synchronous path wins whenever it
// reaches this point first.
func (r *requestTrackerRepo) MarkSyncProcessed(ctx context.Context, tx *gorm.DB, pagwID string) error {
	_, err := r.updateFields(ctx, tx, pagwID, map[string]interface{}{
		"sync_processed":    true,
		"sync_processed_at": time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	r.log.Debug("Marked sync processed", "pagw_id", pagwID)
	return nil
}

// TryMarkAsyncQueued succeeds only while neither latch is set. The WHERE
// guard and the write happen in one statement, so there is no read-then-write
// window for a racing sync caller to slip through.
func (r *requestTrackerRepo) TryMarkAsyncQueued(ctx context.Context, tx *gorm.DB, pagwID string) (bool, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if pagwID == "" {
		return false, nil
	}
	now := time.Now().UTC()
	res := t.WithContext(ctx).
		Model(&types.RequestTracker{}).
		Where("pagw_id = ? AND sync_processed = false AND async_queued = false", pagwID).
		Updates(map[string]interface{}{
			"async_queued":    true,
			"async_queued_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDatabase, "async queue latch failed", pagwID, res.Error)
	}
	if res.RowsAffected == 0 {
		r.log.Debug("Async queueing skipped (already processed or queued)", "pagw_id", pagwID)
		return false, nil
	}
	r.log.Debug("Marked for async queueing", "pagw_id", pagwID)
	return true, nil
}
