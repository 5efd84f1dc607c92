package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/carelane/pagw-core/internal/data/repos/testutil"
	types "github.com/carelane/pagw-core/internal/domain"
)

func newTracker(pagwID string) *types.RequestTracker {
	now := time.Now().UTC()
	return &types.RequestTracker{
		PagwID:      pagwID,
		Status:      types.RequestStatusReceived,
		Tenant:      "acme",
		RequestType: "PRIOR_AUTH",
		ReceivedAt:  &now,
	}
}

func TestRequestTrackerDuplicateCreateIsNoop(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewRequestTrackerRepo(db, testutil.Logger(t))
	ctx := context.Background()
	pagwID := testPagwID()

	inserted, err := repo.Create(ctx, tx, newTracker(pagwID))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !inserted {
		t.Fatal("first create reported not inserted")
	}

	dup := newTracker(pagwID)
	dup.Status = types.RequestStatusProcessing
	inserted, err = repo.Create(ctx, tx, dup)
	if err != nil {
		t.Fatalf("duplicate Create: %v", err)
	}
	if inserted {
		t.Fatal("duplicate create reported inserted")
	}

	// The original row is untouched.
	got, err := repo.GetByPagwID(ctx, tx, pagwID)
	if err != nil {
		t.Fatalf("GetByPagwID: %v", err)
	}
	if got == nil || got.Status != types.RequestStatusReceived {
		t.Fatalf("got = %+v, want original RECEIVED row", got)
	}
}

func TestRequestTrackerCreateRequiresPagwID(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewRequestTrackerRepo(db, testutil.Logger(t))

	if _, err := repo.Create(context.Background(), tx, &types.RequestTracker{}); err == nil {
		t.Fatal("expected error for missing pagw id")
	}
}

func TestRequestTrackerAsyncQueuedLatch(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewRequestTrackerRepo(db, testutil.Logger(t))
	ctx := context.Background()
	pagwID := testPagwID()

	if _, err := repo.Create(ctx, tx, newTracker(pagwID)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	won, err := repo.TryMarkAsyncQueued(ctx, tx, pagwID)
	if err != nil {
		t.Fatalf("TryMarkAsyncQueued: %v", err)
	}
	if !won {
		t.Fatal("first latch attempt should win")
	}

	won, err = repo.TryMarkAsyncQueued(ctx, tx, pagwID)
	if err != nil {
		t.Fatalf("TryMarkAsyncQueued: %v", err)
	}
	if won {
		t.Fatal("second latch attempt should lose")
	}

	// The sync path can still finish after the async latch is taken.
	if err := repo.MarkSyncProcessed(ctx, tx, pagwID); err != nil {
		t.Fatalf("MarkSyncProcessed after async latch: %v", err)
	}
	got, err := repo.GetByPagwID(ctx, tx, pagwID)
	if err != nil {
		t.Fatalf("GetByPagwID: %v", err)
	}
	if !got.SyncProcessed || !got.AsyncQueued {
		t.Fatalf("latches = sync:%v async:%v, want both set", got.SyncProcessed, got.AsyncQueued)
	}

	won, err = repo.TryMarkAsyncQueued(ctx, tx, pagwID)
	if err != nil {
		t.Fatalf("TryMarkAsyncQueued: %v", err)
	}
	if won {
		t.Fatal("latch attempt after sync completion should lose")
	}
}

func TestRequestTrackerSyncBlocksAsync(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewRequestTrackerRepo(db, testutil.Logger(t))
	ctx := context.Background()
	pagwID := testPagwID()

	if _, err := repo.Create(ctx, tx, newTracker(pagwID)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.MarkSyncProcessed(ctx, tx, pagwID); err != nil {
		t.Fatalf("MarkSyncProcessed: %v", err)
	}

	won, err := repo.TryMarkAsyncQueued(ctx, tx, pagwID)
	if err != nil {
		t.Fatalf("TryMarkAsyncQueued: %v", err)
	}
	if won {
		t.Fatal("async latch should lose after sync processing")
	}

	got, err := repo.GetByPagwID(ctx, tx, pagwID)
	if err != nil {
		t.Fatalf("GetByPagwID: %v", err)
	}
	if !got.SyncProcessed || got.SyncProcessedAt == nil {
		t.Fatalf("sync latch not recorded: %+v", got)
	}
	if got.AsyncQueued {
		t.Fatal("async_queued set despite losing the race")
	}
}

func TestRequestTrackerRecordError(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewRequestTrackerRepo(db, testutil.Logger(t))
	ctx := context.Background()
	pagwID := testPagwID()

	if _, err := repo.Create(ctx, tx, newTracker(pagwID)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.RecordError(ctx, tx, pagwID, "PAGW-6001", "insert failed"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	if err := repo.RecordError(ctx, tx, pagwID, "PAGW-6001", "insert failed again"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}

	got, err := repo.GetByPagwID(ctx, tx, pagwID)
	if err != nil {
		t.Fatalf("GetByPagwID: %v", err)
	}
	if got.Status != types.RequestStatusError {
		t.Fatalf("status = %q, want ERROR", got.Status)
	}
	if got.RetryCount != 2 {
		t.Fatalf("retry_count = %d, want 2", got.RetryCount)
	}
	if got.LastErrorCode != "PAGW-6001" || got.LastErrorMsg != "insert failed again" {
		t.Fatalf("error fields = %q / %q", got.LastErrorCode, got.LastErrorMsg)
	}
}

func TestRequestTrackerMarkCompleted(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewRequestTrackerRepo(db, testutil.Logger(t))
	ctx := context.Background()
	pagwID := testPagwID()

	if _, err := repo.Create(ctx, tx, newTracker(pagwID)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.MarkCompleted(ctx, tx, pagwID, "pagw-final", "responses/"+pagwID+".json"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	got, err := repo.GetByPagwID(ctx, tx, pagwID)
	if err != nil {
		t.Fatalf("GetByPagwID: %v", err)
	}
	if got.Status != types.RequestStatusCompleted || got.CompletedAt == nil {
		t.Fatalf("after complete: status=%q completed_at=%v", got.Status, got.CompletedAt)
	}
	if got.FinalBucket != "pagw-final" {
		t.Fatalf("final bucket = %q", got.FinalBucket)
	}
}

func TestRequestTrackerLookups(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewRequestTrackerRepo(db, testutil.Logger(t))
	ctx := context.Background()
	pagwID := testPagwID()

	tracker := newTracker(pagwID)
	tracker.IdempotencyKey = "idem-" + uuid.NewString()
	if _, err := repo.Create(ctx, tx, tracker); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byKey, err := repo.FindByIdempotencyKey(ctx, tx, tracker.IdempotencyKey)
	if err != nil {
		t.Fatalf("FindByIdempotencyKey: %v", err)
	}
	if byKey == nil || byKey.PagwID != pagwID {
		t.Fatalf("FindByIdempotencyKey = %+v", byKey)
	}

	extRef := "X12-" + uuid.NewString()
	if err := repo.UpdateExternalReference(ctx, tx, pagwID, extRef); err != nil {
		t.Fatalf("UpdateExternalReference: %v", err)
	}
	byRef, err := repo.FindByExternalReference(ctx, tx, extRef)
	if err != nil {
		t.Fatalf("FindByExternalReference: %v", err)
	}
	if byRef == nil || byRef.PagwID != pagwID {
		t.Fatalf("FindByExternalReference = %+v", byRef)
	}

	missing, err := repo.GetByPagwID(ctx, tx, testPagwID())
	if err != nil {
		t.Fatalf("GetByPagwID(missing): %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing id, got %+v", missing)
	}
}

func TestRequestTrackerPatientProviderLookup(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewRequestTrackerRepo(db, testutil.Logger(t))
	ctx := context.Background()
	pagwID := testPagwID()

	member := "M-" + uuid.NewString()
	npi := "1234567893"
	if _, err := repo.Create(ctx, tx, newTracker(pagwID)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.UpdateFhirMetadata(ctx, tx, pagwID, member, npi, datatypes.JSON(`["E11.9","I10"]`)); err != nil {
		t.Fatalf("UpdateFhirMetadata: %v", err)
	}

	got, err := repo.FindByPatientAndProvider(ctx, tx, member, npi, nil, nil)
	if err != nil {
		t.Fatalf("FindByPatientAndProvider: %v", err)
	}
	if got == nil || got.PagwID != pagwID {
		t.Fatalf("FindByPatientAndProvider = %+v", got)
	}

	// Window that excludes the row's received_at.
	from := time.Now().UTC().Add(1 * time.Hour)
	got, err = repo.FindByPatientAndProvider(ctx, tx, member, npi, &from, nil)
	if err != nil {
		t.Fatalf("FindByPatientAndProvider(window): %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil outside window, got %+v", got)
	}
}
