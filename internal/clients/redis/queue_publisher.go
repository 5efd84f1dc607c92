package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/carelane/pagw-core/internal/pkg/logger"
	"github.com/carelane/pagw-core/internal/utils"
)

// QueuePublisher pushes outbox payloads onto per-queue redis lists. Stage
// consumers BLPOP their queue. Delivery is at-least-once end to end (the relay
// can re-publish after a crash), so consumers dedupe via the idempotency guard.
type QueuePublisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
	Close() error
}

type queuePublisher struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func NewQueuePublisher(log *logger.Logger) (QueuePublisher, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	prefix := strings.TrimSpace(utils.GetEnv("REDIS_QUEUE_PREFIX", "pagw:queue:", log))

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

	return &queuePublisher{
		log:    log.With("service", "RedisQueuePublisher"),
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

// NewQueuePublisherWithClient wires an existing client (tests, shared pools).
func NewQueuePublisherWithClient(log *logger.Logger, rdb *goredis.Client, prefix string) QueuePublisher {
	if prefix == "" {
		prefix = "pagw:queue:"
	}
	return &queuePublisher{
		log:    log.With("service", "RedisQueuePublisher"),
		rdb:    rdb,
		prefix: prefix,
	}
}

func (p *queuePublisher) Publish(ctx context.Context, queue string, payload []byte) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("queue publisher not initialized")
	}
	if queue == "" {
		return fmt.Errorf("destination queue required")
	}
	return p.rdb.RPush(ctx, p.prefix+queue, payload).Err()
}

func (p *queuePublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
