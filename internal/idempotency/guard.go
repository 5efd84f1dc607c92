package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/carelane/pagw-core/internal/pkg/logger"
	"github.com/carelane/pagw-core/internal/utils"
)

// Lock statuses. absent -> PROCESSING -> {COMPLETED | absent}. A PROCESSING
// entry with no terminal transition reverts to absent when the TTL fires, so
// a crashed holder cannot block the key forever.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
)

const defaultTTLSeconds = 86400 // 24h

type entry struct {
	Owner       string     `json:"owner"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Guard grants at-most-one-in-flight processing per idempotency key via a
// redis conditional put with TTL.
//
// Availability trade-off, deliberate and alertable: when redis is unreachable
// TryAcquire fails OPEN (returns true). Duplicate suppression here is a
// best-effort optimization layered on idempotent downstream consumers; a
// store outage must not halt the pipeline. The error-level log line is the
// alerting hook.
type Guard struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// New constructs a Guard from REDIS_ADDR / IDEMPOTENCY_TTL_SECONDS.
func New(log *logger.Logger) (*Guard, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ttlSeconds := utils.GetEnvAsInt("IDEMPOTENCY_TTL_SECONDS", defaultTTLSeconds, log)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewWithClient(log, rdb, time.Duration(ttlSeconds)*time.Second), nil
}

// NewWithClient wires an existing client (tests, shared pools).
func NewWithClient(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = defaultTTLSeconds * time.Second
	}
	return &Guard{
		log:    log.With("service", "IdempotencyGuard"),
		rdb:    rdb,
		prefix: "pagw:idem:",
		ttl:    ttl,
	}
}

// TryAcquire attempts the conditional insert. True means this caller owns the
// key and should proceed; false means another attempt is in flight or already
// completed. Fails open on store errors.
func (g *Guard) TryAcquire(ctx context.Context, key, owner string) bool {
	raw, err := json.Marshal(entry{
		Owner:     owner,
		Status:    StatusProcessing,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		g.log.Error("Idempotency entry marshal failed", "key", key, "error", err)
		return true
	}
	ok, err := g.rdb.SetNX(ctx, g.prefix+key, raw, g.ttl).Result()
	if err != nil {
		g.log.Error("Idempotency check failed, failing open", "key", key, "error", err)
		return true
	}
	if ok {
		g.log.Debug("Acquired idempotency lock", "key", key, "owner", owner)
	} else {
		g.log.Debug("Idempotency key already exists", "key", key)
	}
	return ok
}

// MarkCompleted stores the result for idempotent read-back by duplicate
// callers. The owner and created_at recorded at acquire time are carried
// forward so the audit trail survives completion. The original TTL keeps
// running; completion does not extend it.
func (g *Guard) MarkCompleted(ctx context.Context, key, result string) {
	now := time.Now().UTC()
	e := entry{
		Status:      StatusCompleted,
		Result:      result,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if existing, err := g.rdb.Get(ctx, g.prefix+key).Result(); err == nil {
		var prev entry
		if json.Unmarshal([]byte(existing), &prev) == nil {
			e.Owner = prev.Owner
			if !prev.CreatedAt.IsZero() {
				e.CreatedAt = prev.CreatedAt
			}
		}
	}
	raw, err := json.Marshal(e)
	if err != nil {
		g.log.Error("Idempotency entry marshal failed", "key", key, "error", err)
		return
	}
	if err := g.rdb.Set(ctx, g.prefix+key, raw, goredis.KeepTTL).Err(); err != nil {
		g.log.Error("Failed to mark idempotency key completed", "key", key, "error", err)
		return
	}
	g.log.Debug("Marked idempotency key completed", "key", key)
}

// MarkFailed removes the lock so a legitimate retry can acquire it.
func (g *Guard) MarkFailed(ctx context.Context, key string) {
	if err := g.rdb.Del(ctx, g.prefix+key).Err(); err != nil {
		g.log.Error("Failed to remove idempotency key", "key", key, "error", err)
		return
	}
	g.log.Debug("Removed failed idempotency key (allowing retry)", "key", key)
}

// GetResult returns the stored result of a completed attempt, for callers
// that lost the TryAcquire race.
func (g *Guard) GetResult(ctx context.Context, key string) (string, bool) {
	raw, err := g.rdb.Get(ctx, g.prefix+key).Result()
	if err == goredis.Nil {
		return "", false
	}
	if err != nil {
		g.log.Error("Failed to get idempotency result", "key", key, "error", err)
		return "", false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		g.log.Warn("Bad idempotency entry payload", "key", key, "error", err)
		return "", false
	}
	if e.Status != StatusCompleted {
		return "", false
	}
	return e.Result, true
}

func (g *Guard) Close() error {
	if g == nil || g.rdb == nil {
		return nil
	}
	return g.rdb.Close()
}
