// Package dispatcher runs the worker pool: it pulls work items off the
// queue, hands them to the orchestrator and decides what happens to items
// that fail, delayed redelivery with exponential backoff for transient
// errors, the dead letter stream for everything else.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docmill/internal/jobs"
	"github.com/local/docmill/internal/metrics"
)

// Queue is the consume side of the work queue.
type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, jobs.WorkItem, error)
	Ack(ctx context.Context, msgID string) error
	EnqueueDelayed(ctx context.Context, item jobs.WorkItem, executeAt time.Time) error
	AddDLQ(ctx context.Context, item jobs.WorkItem, reason string) error
	Depths(ctx context.Context) (stream, delayed, dlq int64, err error)
}

// Processor executes work items and terminally fails abandoned ones.
type Processor interface {
	Process(ctx context.Context, item jobs.WorkItem) error
	FailItem(ctx context.Context, item jobs.WorkItem, cause error)
}

// Config bounds the pool and its retry policy.
type Config struct {
	Concurrency       int
	ConversionTimeout time.Duration
	RetryMax          int
	RetryBase         time.Duration
}

// Worker is the pool. One goroutine per concurrency slot plus a queue depth
// monitor.
type Worker struct {
	cfg  Config
	q    Queue
	proc Processor

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a worker pool.
func New(cfg Config, q Queue, proc Processor) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Minute
	}
	if cfg.ConversionTimeout <= 0 {
		cfg.ConversionTimeout = 5 * time.Minute
	}
	return &Worker{cfg: cfg, q: q, proc: proc, stop: make(chan struct{})}
}

// Start launches the pool.
func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
	w.wg.Add(1)
	go w.monitor()
}

// Stop signals the pool and waits for in-flight items to finish or ctx to
// expire.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	host, _ := os.Hostname()
	consumer := fmt.Sprintf("%s-%d", host, id)
	log.Info().Str("consumer", consumer).Msg("worker started")

	for {
		select {
		case <-w.stop:
			log.Info().Str("consumer", consumer).Msg("worker stopped")
			return
		default:
		}

		msgID, item, err := w.q.Dequeue(context.Background(), consumer, 2*time.Second)
		if err != nil {
			if msgID != "" {
				// Poison payload: the message was delivered but its body does
				// not decode. Park it and ack, otherwise it clogs the pending
				// list forever.
				w.park(msgID, "undecodable payload: "+err.Error())
				continue
			}
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if msgID == "" {
			continue
		}

		w.handle(item)
		if err := w.q.Ack(context.Background(), msgID); err != nil {
			log.Error().Err(err).Str("msg_id", msgID).Msg("ack failed")
		}
	}
}

// handle runs one item under the conversion timeout and routes failures. The
// item is always acked by the caller; redelivery happens through the delayed
// set, not through unacked stream entries.
func (w *Worker) handle(item jobs.WorkItem) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ConversionTimeout)
	defer cancel()

	err := w.proc.Process(ctx, item)
	if err == nil {
		return
	}

	if !jobs.Retriable(err) {
		w.abandon(item, err)
		return
	}
	if item.Attempt >= w.cfg.RetryMax {
		w.abandon(item, fmt.Errorf("retries exhausted: %w", err))
		return
	}

	next := item
	next.Attempt++
	delay := w.cfg.RetryBase << (item.Attempt - 1)
	if err2 := w.q.EnqueueDelayed(context.Background(), next, time.Now().Add(delay)); err2 != nil {
		w.abandon(item, fmt.Errorf("delayed requeue failed after %v: %w", err2, err))
		return
	}
	log.Warn().Err(err).Str("kind", string(item.Kind)).Str("job_id", item.MainID).
		Int("attempt", item.Attempt).Dur("delay", delay).Msg("work item scheduled for retry")
}

// park moves an undecodable message out of the way: a zero item on the dead
// letter stream carrying the decode error, then an ack on the original.
func (w *Worker) park(msgID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.q.AddDLQ(ctx, jobs.WorkItem{}, reason); err != nil {
		log.Error().Err(err).Str("msg_id", msgID).Msg("dlq write failed")
	}
	if err := w.q.Ack(ctx, msgID); err != nil {
		log.Error().Err(err).Str("msg_id", msgID).Msg("ack failed")
	}
	log.Warn().Str("msg_id", msgID).Str("reason", reason).Msg("work item parked")
}

func (w *Worker) abandon(item jobs.WorkItem, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.q.AddDLQ(ctx, item, cause.Error()); err != nil {
		log.Error().Err(err).Str("kind", string(item.Kind)).Msg("dlq write failed")
	}
	w.proc.FailItem(ctx, item, cause)
}

// monitor exports queue depths every few seconds.
func (w *Worker) monitor() {
	defer w.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			stream, delayed, dlq, err := w.q.Depths(ctx)
			cancel()
			if err != nil {
				continue
			}
			metrics.SetQueueDepth("stream", stream)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}
}
