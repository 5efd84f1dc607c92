package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/carelane/pagw-core/internal/domain"
	pkgerrors "github.com/carelane/pagw-core/internal/pkg/errors"
	"github.com/carelane/pagw-core/internal/pkg/logger"
)

// OutboxRepo implements the transactional outbox. Write must run inside the
// same transaction as the domain mutation it announces; the relay drives
// FetchBatch/MarkCompleted/IncrementRetry. FetchBatch takes row locks that
// skip already-locked rows so concurrent relay workers drain disjoint subsets.
type OutboxRepo interface {
	Write(ctx context.Context, tx *gorm.DB, destinationQueue string, msg types.PipelineMessage) (*types.OutboxEntry, error)

	FetchBatch(ctx context.Context, tx *gorm.DB, limit int) ([]*types.OutboxEntry, error)
	MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	IncrementRetry(ctx context.Context, tx *gorm.DB, id uuid.UUID, publishErr string) error

	// SweepDeadLetter promotes FAILED entries at or over the retry ceiling to
	// DEAD_LETTER and re-queues the rest as PENDING for another relay pass.
	SweepDeadLetter(ctx context.Context, tx *gorm.DB, maxRetries int) (promoted int64, requeued int64, err error)

	PendingCount(ctx context.Context, tx *gorm.DB) (int64, error)
	StuckCount(ctx context.Context, tx *gorm.DB, maxRetries int) (int64, error)
}

type outboxRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutboxRepo(db *gorm.DB, baseLog *logger.Logger) OutboxRepo {
	return &outboxRepo{db: db, log: baseLog.With("repo", "OutboxRepo")}
}

func (r *outboxRepo) Write(ctx context.Context, tx *gorm.DB, destinationQueue string, msg types.PipelineMessage) (*types.OutboxEntry, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, "outbox payload marshal failed", msg.PagwID, err)
	}
	eventType := msg.Stage
	if eventType == "" {
		eventType = msg.EventType
	}
	entry := &types.OutboxEntry{
		ID:               uuid.New(),
		AggregateType:    "PipelineMessage",
		AggregateID:      msg.PagwID,
		EventType:        eventType,
		Payload:          payload,
		DestinationQueue: destinationQueue,
		Status:           types.OutboxStatusPending,
	}
	if err := t.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, "outbox write failed", msg.PagwID, err)
	}
	r.log.Info("Outbox entry created", "id", entry.ID, "destination_queue", destinationQueue, "pagw_id", msg.PagwID)
	return entry, nil
}

func (r *outboxRepo) FetchBatch(ctx context.Context, tx *gorm.DB, limit int) ([]*types.OutboxEntry, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if limit <= 0 {
		return []*types.OutboxEntry{}, nil
	}
	var out []*types.OutboxEntry
	if err := t.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", types.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, "outbox fetch failed", "", err)
	}
	return out, nil
}

func (r *outboxRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	t := tx
	if t == nil {
		t = r.db
	}
	now := time.Now().UTC()
	res := t.WithContext(ctx).
		Model(&types.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       types.OutboxStatusCompleted,
			"processed_at": now,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, "outbox mark completed failed", "", res.Error)
	}
	if res.RowsAffected == 0 {
		r.log.Warn("Outbox entry not found for marking completed", "id", id)
	}
	return nil
}

func (r *outboxRepo) IncrementRetry(ctx context.Context, tx *gorm.DB, id uuid.UUID, publishErr string) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if err := t.WithContext(ctx).
		Model(&types.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      types.OutboxStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  publishErr,
		}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, "outbox retry increment failed", "", err)
	}
	r.log.Warn("Outbox entry retry incremented", "id", id, "error", publishErr)
	return nil
}

func (r *outboxRepo) SweepDeadLetter(ctx context.Context, tx *gorm.DB, maxRetries int) (int64, int64, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var promoted, requeued int64
	err := t.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Model(&types.OutboxEntry{}).
			Where("status = ? AND retry_count >= ?", types.OutboxStatusFailed, maxRetries).
			Update("status", types.OutboxStatusDeadLetter)
		if res.Error != nil {
			return res.Error
		}
		promoted = res.RowsAffected

		res = txx.Model(&types.OutboxEntry{}).
			Where("status = ? AND retry_count < ?", types.OutboxStatusFailed, maxRetries).
			Update("status", types.OutboxStatusPending)
		if res.Error != nil {
			return res.Error
		}
		requeued = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, pkgerrors.Wrap(pkgerrors.CodeDatabase, "outbox dead-letter sweep failed", "", err)
	}
	if promoted > 0 {
		r.log.Warn("Outbox entries promoted to dead letter", "count", promoted, "max_retries", maxRetries)
	}
	return promoted, requeued, nil
}

func (r *outboxRepo) PendingCount(ctx context.Context, tx *gorm.DB) (int64, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var count int64
	if err := t.WithContext(ctx).
		Model(&types.OutboxEntry{}).
		Where("status = ?", types.OutboxStatusPending).
		Count(&count).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDatabase, "outbox pending count failed", "", err)
	}
	return count, nil
}

func (r *outboxRepo) StuckCount(ctx context.Context, tx *gorm.DB, maxRetries int) (int64, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var count int64
	if err := t.WithContext(ctx).
		Model(&types.OutboxEntry{}).
		Where("status IN ? AND retry_count >= ?", []string{types.OutboxStatusFailed, types.OutboxStatusDeadLetter}, maxRetries).
		Count(&count).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDatabase, "outbox stuck count failed", "", err)
	}
	return count, nil
}
