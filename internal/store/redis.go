package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/docmill/internal/jobs"
)

// Redis implements Store on a single Redis instance.
//
// Key layout:
//
//	job:{id}:status                    job record (JSON, status TTL)
//	job:{id}:result                    result record (JSON, result TTL)
//	job:{mainID}:pages                 list of page job IDs in creation order
//	job:{mainID}:counter:completed     integer fan-in counter
//	job:{mainID}:counter:failed        integer fan-in counter
//	job:{mainID}:merge_latch           merge job ID, set once via SETNX
//	owner:{ownerID}:jobs               list of the owner's job IDs, newest first
type Redis struct {
	client *redis.Client
	opts   Options
}

// NewRedis connects and pings.
func NewRedis(redisURL string, opts Options) (*Redis, error) {
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
	opts.defaults()
	return &Redis{client: c, opts: opts}, nil
}

func (s *Redis) Close() error { return s.client.Close() }

func (s *Redis) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func statusKey(id string) string { return fmt.Sprintf("job:%s:status", id) }

func resultKey(id string) string { return fmt.Sprintf("job:%s:result", id) }

func pagesKey(mainID string) string { return fmt.Sprintf("job:%s:pages", mainID) }

func latchKey(mainID string) string { return fmt.Sprintf("job:%s:merge_latch", mainID) }

func ownerKey(ownerID string) string { return fmt.Sprintf("owner:%s:jobs", ownerID) }

func counterKey(mainID string, f CounterField) string {
	return fmt.Sprintf("job:%s:counter:%s", mainID, f)
}

func (s *Redis) PutJob(ctx context.Context, job jobs.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	isNew, err := s.client.SetNX(ctx, statusKey(job.ID), b, s.opts.StatusTTL).Result()
	if err != nil {
		return jobs.Wrap(jobs.ErrStoreUnavailable, err, "put job")
	}
	if !isNew {
		if err := s.client.Set(ctx, statusKey(job.ID), b, s.opts.StatusTTL).Err(); err != nil {
			return jobs.Wrap(jobs.ErrStoreUnavailable, err, "put job")
		}
		return nil
	}
	// First write of this record: index it for the owner.
	if job.OwnerID != "" {
		if err := s.client.LPush(ctx, ownerKey(job.OwnerID), job.ID).Err(); err != nil {
			return jobs.Wrap(jobs.ErrStoreUnavailable, err, "index job for owner")
		}
		s.client.Expire(ctx, ownerKey(job.OwnerID), s.opts.StatusTTL)
	}
	return nil
}

func (s *Redis) GetJob(ctx context.Context, id string) (jobs.Job, bool, error) {
	b, err := s.client.Get(ctx, statusKey(id)).Bytes()
	if err == redis.Nil {
		return jobs.Job{}, false, nil
	}
	if err != nil {
		return jobs.Job{}, false, jobs.Wrap(jobs.ErrStoreUnavailable, err, "get job")
	}
	var j jobs.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return jobs.Job{}, false, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	if j.Type == jobs.TypeMain {
		// The pages list is the authoritative membership; hydrate it.
		ids, err := s.client.LRange(ctx, pagesKey(id), 0, -1).Result()
		if err == nil && len(ids) > 0 {
			j.Children.PageJobIDs = ids
		}
	}
	return j, true, nil
}

func (s *Redis) AddChild(ctx context.Context, parentID string, kind jobs.Type, childID string) error {
	if kind == jobs.TypePage {
		// RPUSH is atomic; this list is the authoritative page membership.
		if err := s.client.RPush(ctx, pagesKey(parentID), childID).Err(); err != nil {
			return jobs.Wrap(jobs.ErrStoreUnavailable, err, "add page child")
		}
		s.client.Expire(ctx, pagesKey(parentID), s.opts.StatusTTL)
		return nil
	}
	// split/merge are each written by exactly one handler, so a plain
	// read-modify-write of the parent record is safe.
	parent, ok, err := s.GetJob(ctx, parentID)
	if err != nil {
		return err
	}
	if !ok {
		return jobs.Ef(jobs.ErrNotFound, "parent job %s not found", parentID)
	}
	switch kind {
	case jobs.TypeSplit:
		parent.Children.SplitJobID = childID
	case jobs.TypeMerge:
		parent.Children.MergeJobID = childID
	default:
		return jobs.Ef(jobs.ErrInternal, "unknown child kind %q", kind)
	}
	return s.PutJob(ctx, parent)
}

func (s *Redis) IncPageCounter(ctx context.Context, mainID string, field CounterField, delta int) (int64, error) {
	key := counterKey(mainID, field)
	n, err := s.client.IncrBy(ctx, key, int64(delta)).Result()
	if err != nil {
		return 0, jobs.Wrap(jobs.ErrStoreUnavailable, err, "inc page counter")
	}
	s.client.Expire(ctx, key, s.opts.StatusTTL)
	return n, nil
}

func (s *Redis) GetPageCounters(ctx context.Context, mainID string) (int, int, error) {
	pipe := s.client.Pipeline()
	c := pipe.Get(ctx, counterKey(mainID, CounterCompleted))
	f := pipe.Get(ctx, counterKey(mainID, CounterFailed))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, jobs.Wrap(jobs.ErrStoreUnavailable, err, "get page counters")
	}
	completed, _ := c.Int()
	failed, _ := f.Int()
	return completed, failed, nil
}

func (s *Redis) ListPages(ctx context.Context, mainID string) ([]jobs.Job, error) {
	ids, err := s.client.LRange(ctx, pagesKey(mainID), 0, -1).Result()
	if err != nil {
		return nil, jobs.Wrap(jobs.ErrStoreUnavailable, err, "list pages")
	}
	out := make([]jobs.Job, 0, len(ids))
	for _, id := range ids {
		j, ok, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, j)
		}
	}
	sortPages(out)
	return out, nil
}

// sortPages orders by page number, keeping creation order within a number so
// that a retried replacement follows the record it superseded.
func sortPages(pages []jobs.Job) {
	sort.SliceStable(pages, func(i, k int) bool {
		return pages[i].PageNumber < pages[k].PageNumber
	})
}

func (s *Redis) PutResult(ctx context.Context, res jobs.Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.client.Set(ctx, resultKey(res.JobID), b, s.opts.ResultTTL).Err(); err != nil {
		return jobs.Wrap(jobs.ErrStoreUnavailable, err, "put result")
	}
	return nil
}

func (s *Redis) GetResult(ctx context.Context, jobID string) (jobs.Result, bool, error) {
	b, err := s.client.Get(ctx, resultKey(jobID)).Bytes()
	if err == redis.Nil {
		return jobs.Result{}, false, nil
	}
	if err != nil {
		return jobs.Result{}, false, jobs.Wrap(jobs.ErrStoreUnavailable, err, "get result")
	}
	var r jobs.Result
	if err := json.Unmarshal(b, &r); err != nil {
		return jobs.Result{}, false, fmt.Errorf("unmarshal result %s: %w", jobID, err)
	}
	return r, true, nil
}

func (s *Redis) SetMergeLatch(ctx context.Context, mainID, mergeID string) (bool, error) {
	won, err := s.client.SetNX(ctx, latchKey(mainID), mergeID, s.opts.StatusTTL).Result()
	if err != nil {
		return false, jobs.Wrap(jobs.ErrStoreUnavailable, err, "set merge latch")
	}
	return won, nil
}

func (s *Redis) ClearMergeLatch(ctx context.Context, mainID string) error {
	if err := s.client.Del(ctx, latchKey(mainID)).Err(); err != nil {
		return jobs.Wrap(jobs.ErrStoreUnavailable, err, "clear merge latch")
	}
	return nil
}

func (s *Redis) DeleteSubtree(ctx context.Context, mainID string) error {
	main, ok, err := s.GetJob(ctx, mainID)
	if err != nil {
		return err
	}
	if !ok {
		return jobs.Ef(jobs.ErrNotFound, "job %s not found", mainID)
	}

	ids := []string{mainID}
	if main.Children.SplitJobID != "" {
		ids = append(ids, main.Children.SplitJobID)
	}
	if main.Children.MergeJobID != "" {
		ids = append(ids, main.Children.MergeJobID)
	}
	ids = append(ids, main.Children.PageJobIDs...)

	keys := []string{
		pagesKey(mainID),
		latchKey(mainID),
		counterKey(mainID, CounterCompleted),
		counterKey(mainID, CounterFailed),
	}
	for _, id := range ids {
		keys = append(keys, statusKey(id), resultKey(id))
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	for _, id := range ids {
		pipe.LRem(ctx, ownerKey(main.OwnerID), 0, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return jobs.Wrap(jobs.ErrStoreUnavailable, err, "delete subtree")
	}
	return nil
}

func (s *Redis) ListJobsByOwner(ctx context.Context, ownerID string, f ListFilter) (JobPage, error) {
	ids, err := s.client.LRange(ctx, ownerKey(ownerID), 0, -1).Result()
	if err != nil {
		return JobPage{}, jobs.Wrap(jobs.ErrStoreUnavailable, err, "list owner jobs")
	}
	matched := make([]jobs.Job, 0, len(ids))
	for _, id := range ids {
		j, ok, err := s.GetJob(ctx, id)
		if err != nil {
			return JobPage{}, err
		}
		if !ok {
			continue // expired record still indexed
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		matched = append(matched, j)
	}
	return paginate(matched, f), nil
}

func paginate(matched []jobs.Job, f ListFilter) JobPage {
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	if size > 100 {
		size = 100
	}
	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return JobPage{Total: len(matched), Jobs: matched[start:end]}
}
