package outbox

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	repos "github.com/carelane/pagw-core/internal/data/repos/pipeline"
	"github.com/carelane/pagw-core/internal/pkg/logger"
	"github.com/carelane/pagw-core/internal/utils"
)

// Publisher delivers an outbox payload to its destination queue. The relay
// treats a nil error as an acknowledged publish.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
}

type Config struct {
	BatchSize          int
	MaxRetries         int
	Concurrency        int
	PublishParallelism int
	PollInterval       time.Duration
	SweepInterval      time.Duration
}

func ConfigFromEnv(log *logger.Logger) Config {
	return Config{
		BatchSize:          utils.GetEnvAsInt("OUTBOX_BATCH_SIZE", 25, log),
		MaxRetries:         utils.GetEnvAsInt("OUTBOX_MAX_RETRIES", 5, log),
		Concurrency:        utils.GetEnvAsInt("OUTBOX_RELAY_CONCURRENCY", 2, log),
		PublishParallelism: utils.GetEnvAsInt("OUTBOX_PUBLISH_PARALLELISM", 4, log),
		PollInterval:       time.Duration(utils.GetEnvAsInt("OUTBOX_POLL_INTERVAL_MS", 1000, log)) * time.Millisecond,
		SweepInterval:      time.Duration(utils.GetEnvAsInt("OUTBOX_SWEEP_INTERVAL_MS", 60000, log)) * time.Millisecond,
	}
}

// Relay drains the outbox: fetch a locked batch, publish each entry, mark
// completed on ack or increment retry on failure. Publish-then-mark is two
// steps, so a crash between them re-delivers on the next sweep; destinations
// must tolerate duplicates. A periodic sweep promotes entries past the retry
// ceiling to DEAD_LETTER and re-queues the rest.
type Relay struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.OutboxRepo
	pub  Publisher
	cfg  Config
}

func NewRelay(db *gorm.DB, baseLog *logger.Logger, repo repos.OutboxRepo, pub Publisher, cfg Config) *Relay {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 25
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 5
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PublishParallelism < 1 {
		cfg.PublishParallelism = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Relay{
		db:   db,
		log:  baseLog.With("component", "OutboxRelay"),
		repo: repo,
		pub:  pub,
		cfg:  cfg,
	}
}

func (r *Relay) Start(ctx context.Context) {
	r.log.Info("Starting outbox relay", "concurrency", r.cfg.Concurrency, "batch_size", r.cfg.BatchSize)
	for i := 0; i < r.cfg.Concurrency; i++ {
		workerID := i + 1
		go r.runLoop(ctx, workerID)
	}
	go r.sweepLoop(ctx)
}

func (r *Relay) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Relay loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			if _, err := r.drainOnce(ctx, workerID); err != nil {
				r.log.Warn("Relay pass failed", "worker_id", workerID, "error", err)
			}
		}
	}
}

// drainOnce runs one fetch-publish-mark pass in a single transaction. The
// skip-locked fetch keeps concurrent relay workers on disjoint rows; the row
// locks are held until the marks commit, so no other worker can double-publish
// a row that is mid-flight here.
func (r *Relay) drainOnce(ctx context.Context, workerID int) (int, error) {
	processed := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries, err := r.repo.FetchBatch(ctx, tx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		// Publishes fan out; the tx is only touched again after Wait since
		// a gorm transaction is not safe for concurrent use.
		pubErrs := make([]error, len(entries))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.PublishParallelism)
		for i, e := range entries {
			i, e := i, e
			g.Go(func() error {
				pubErrs[i] = r.pub.Publish(gctx, e.DestinationQueue, e.Payload)
				return nil
			})
		}
		_ = g.Wait()

		for i, e := range entries {
			if pubErrs[i] != nil {
				if err := r.repo.IncrementRetry(ctx, tx, e.ID, pubErrs[i].Error()); err != nil {
					return err
				}
				continue
			}
			if err := r.repo.MarkCompleted(ctx, tx, e.ID); err != nil {
				return err
			}
			processed++
		}

		r.log.Debug("Relay batch processed", "worker_id", workerID, "fetched", len(entries), "published", processed)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("relay pass: %w", err)
	}
	return processed, nil
}

func (r *Relay) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Relay sweep stopped")
			return
		case <-ticker.C:
			promoted, requeued, err := r.repo.SweepDeadLetter(ctx, nil, r.cfg.MaxRetries)
			if err != nil {
				r.log.Warn("Dead-letter sweep failed", "error", err)
				continue
			}
			if promoted > 0 || requeued > 0 {
				r.log.Info("Dead-letter sweep done", "promoted", promoted, "requeued", requeued)
			}

			pending, err := r.repo.PendingCount(ctx, nil)
			if err != nil {
				continue
			}
			stuck, err := r.repo.StuckCount(ctx, nil, r.cfg.MaxRetries)
			if err != nil {
				continue
			}
			if stuck > 0 {
				r.log.Warn("Outbox entries stuck at retry ceiling", "stuck", stuck, "pending", pending)
			}
		}
	}
}
