package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// DefaultQueueKey is the Redis list asynchronous deliveries wait on.
const DefaultQueueKey = "drip:delivery:queue"

// Queue is a Redis-backed asynchronous delivery queue. Enqueue pushes the
// mailing ID; a Consumer pops IDs and completes the delivery through the
// engine, which is when sent_at gets written.
type Queue struct {
	client *redis.Client
	key    string
}

// NewQueue creates a queue on the given Redis client. An empty key uses
// DefaultQueueKey.
func NewQueue(client *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{client: client, key: key}
}

// Enqueue pushes a mailing ID onto the queue. The mailing counts as
// processed for this perform cycle once the push succeeds.
func (q *Queue) Enqueue(ctx context.Context, mailingID uuid.UUID) error {
	return q.client.LPush(ctx, q.key, mailingID.String()).Err()
}

// Len returns the queue depth.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Consumer drains the queue and hands each mailing ID to the complete
// function (the engine's DeliverQueued).
type Consumer struct {
	queue    *Queue
	complete func(ctx context.Context, mailingID uuid.UUID) error
}

// NewConsumer creates a consumer for q.
func NewConsumer(q *Queue, complete func(ctx context.Context, mailingID uuid.UUID) error) *Consumer {
	return &Consumer{queue: q, complete: complete}
}

// Run blocks popping mailing IDs until ctx is cancelled. A failed delivery
// is logged and dropped from the queue; the mailing stays unsent, so the
// next perform cycle re-enqueues it.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := c.queue.client.BRPop(ctx, 5*time.Second, c.queue.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("delivery queue pop failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}

		id, err := uuid.Parse(res[1])
		if err != nil {
			logger.Warn("discarding malformed queue entry", "entry", res[1])
			continue
		}
		if err := c.complete(ctx, id); err != nil {
			logger.Error("queued delivery failed", "mailing_id", id, "error", err)
		}
	}
}
