// Package queue hands work items to the worker pool with at-least-once
// delivery: Redis Streams with a consumer group for live items, a ZSET for
// delayed retries moved back onto the stream by a background goroutine, and a
// dead-letter stream for exhausted items.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/docmill/internal/jobs"
)

// Redis implements the work queue on Redis Streams.
type Redis struct {
	client *redis.Client

	Stream     string
	Group      string
	DelayedKey string
	DLQStream  string

	pollInterval time.Duration
	stop         chan struct{}
}

// NewRedis connects to Redis, ensures the stream and consumer group exist,
// and starts the delayed-item mover.
func NewRedis(redisURL, stream, group string, poll time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q := &Redis{
		client:       c,
		Stream:       stream,
		Group:        group,
		DelayedKey:   stream + ":delayed",
		DLQStream:    stream + ":dlq",
		pollInterval: poll,
		stop:         make(chan struct{}),
	}
	if err := c.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	go q.mover()
	return q, nil
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *Redis) Close() error {
	close(q.stop)
	return q.client.Close()
}

// Ping checks redis connectivity.
func (q *Redis) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue adds a work item to the stream as a single-field entry {data: <json>}.
func (q *Redis) Enqueue(ctx context.Context, item jobs.WorkItem) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(item.Encode())},
	}).Err()
	if err != nil {
		return jobs.Wrap(jobs.ErrQueueUnavailable, err, "enqueue")
	}
	return nil
}

// EnqueueDelayed schedules an item for later delivery via the ZSET.
func (q *Redis) EnqueueDelayed(ctx context.Context, item jobs.WorkItem, executeAt time.Time) error {
	err := q.client.ZAdd(ctx, q.DelayedKey, redis.Z{
		Score:  float64(executeAt.Unix()),
		Member: string(item.Encode()),
	}).Err()
	if err != nil {
		return jobs.Wrap(jobs.ErrQueueUnavailable, err, "enqueue delayed")
	}
	return nil
}

// Dequeue reads one item from the consumer group. A zero item with empty
// message ID means the block timed out with nothing to do.
func (q *Redis) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, jobs.WorkItem, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return "", jobs.WorkItem{}, nil
		}
		return "", jobs.WorkItem{}, jobs.Wrap(jobs.ErrQueueUnavailable, err, "dequeue")
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", jobs.WorkItem{}, nil
	}
	msg := res[0].Messages[0]
	raw, _ := msg.Values["data"].(string)
	item, err := jobs.DecodeWorkItem([]byte(raw))
	if err != nil {
		return msg.ID, jobs.WorkItem{}, fmt.Errorf("decode work item: %w", err)
	}
	return msg.ID, item, nil
}

// Ack marks a delivered message as processed.
func (q *Redis) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// AddDLQ parks an exhausted item on the dead-letter stream with a reason.
func (q *Redis) AddDLQ(ctx context.Context, item jobs.WorkItem, reason string) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DLQStream,
		Values: map[string]any{"data": string(item.Encode()), "reason": reason},
	}).Err()
}

// Depths returns approximate stream/delayed/dlq lengths for metrics.
func (q *Redis) Depths(ctx context.Context) (int64, int64, int64, error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	zcard := pipe.ZCard(ctx, q.DelayedKey)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return xlen.Val(), zcard.Val(), dxlen.Val(), nil
}

// mover periodically moves due delayed items from the ZSET into the stream.
func (q *Redis) mover() {
	if q.pollInterval <= 0 {
		q.pollInterval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveOnce()
		}
	}
}

func (q *Redis) moveOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	now := time.Now().Unix()
	vals, err := q.client.ZRangeByScoreWithScores(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: 100,
	}).Result()
	if err != nil || len(vals) == 0 {
		return
	}
	pipe := q.client.TxPipeline()
	for _, z := range vals {
		s, _ := z.Member.(string)
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": s}})
		pipe.ZRem(ctx, q.DelayedKey, s)
	}
	_, _ = pipe.Exec(ctx)
}
