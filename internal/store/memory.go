package store

import (
	"context"
	"sync"
	"time"

	"github.com/local/docmill/internal/jobs"
)

// Memory is an in-process Store with the same TTL and atomicity semantics as
// the Redis backend. Used by tests and STORE_BACKEND=memory dev runs.
type Memory struct {
	mu sync.Mutex

	opts Options
	// Now is injectable so TTL expiry is testable.
	Now func() time.Time

	jobRecords map[string]memRecord
	results    map[string]memResult
	pages      map[string][]string
	counters   map[string]int64
	latches    map[string]string
	ownerIndex map[string][]string
}

type memRecord struct {
	job       jobs.Job
	expiresAt time.Time
}

type memResult struct {
	result    jobs.Result
	expiresAt time.Time
}

// NewMemory builds an empty store.
func NewMemory(opts Options) *Memory {
	opts.defaults()
	return &Memory{
		opts:       opts,
		Now:        time.Now,
		jobRecords: map[string]memRecord{},
		results:    map[string]memResult{},
		pages:      map[string][]string{},
		counters:   map[string]int64{},
		latches:    map[string]string{},
		ownerIndex: map[string][]string{},
	}
}

func (s *Memory) Ping(ctx context.Context) error { return nil }

func (s *Memory) PutJob(ctx context.Context, job jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.jobRecords[job.ID]
	s.jobRecords[job.ID] = memRecord{job: job, expiresAt: s.Now().Add(s.opts.StatusTTL)}
	if !existed && job.OwnerID != "" {
		// newest first, matching the Redis LPUSH index
		s.ownerIndex[job.OwnerID] = append([]string{job.ID}, s.ownerIndex[job.OwnerID]...)
	}
	return nil
}

func (s *Memory) getJobLocked(id string) (jobs.Job, bool) {
	rec, ok := s.jobRecords[id]
	if !ok || s.Now().After(rec.expiresAt) {
		return jobs.Job{}, false
	}
	j := rec.job
	if j.Type == jobs.TypeMain {
		if ids := s.pages[id]; len(ids) > 0 {
			j.Children.PageJobIDs = append([]string(nil), ids...)
		}
	}
	return j, true
}

func (s *Memory) GetJob(ctx context.Context, id string) (jobs.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.getJobLocked(id)
	return j, ok, nil
}

func (s *Memory) AddChild(ctx context.Context, parentID string, kind jobs.Type, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == jobs.TypePage {
		s.pages[parentID] = append(s.pages[parentID], childID)
		return nil
	}
	rec, ok := s.jobRecords[parentID]
	if !ok {
		return jobs.Ef(jobs.ErrNotFound, "parent job %s not found", parentID)
	}
	switch kind {
	case jobs.TypeSplit:
		rec.job.Children.SplitJobID = childID
	case jobs.TypeMerge:
		rec.job.Children.MergeJobID = childID
	default:
		return jobs.Ef(jobs.ErrInternal, "unknown child kind %q", kind)
	}
	s.jobRecords[parentID] = rec
	return nil
}

func (s *Memory) IncPageCounter(ctx context.Context, mainID string, field CounterField, delta int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mainID + ":" + string(field)
	s.counters[key] += int64(delta)
	return s.counters[key], nil
}

func (s *Memory) GetPageCounters(ctx context.Context, mainID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.counters[mainID+":"+string(CounterCompleted)]),
		int(s.counters[mainID+":"+string(CounterFailed)]), nil
}

func (s *Memory) ListPages(ctx context.Context, mainID string) ([]jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jobs.Job, 0, len(s.pages[mainID]))
	for _, id := range s.pages[mainID] {
		if j, ok := s.getJobLocked(id); ok {
			out = append(out, j)
		}
	}
	sortPages(out)
	return out, nil
}

func (s *Memory) PutResult(ctx context.Context, res jobs.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.JobID] = memResult{result: res, expiresAt: s.Now().Add(s.opts.ResultTTL)}
	return nil
}

func (s *Memory) GetResult(ctx context.Context, jobID string) (jobs.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.results[jobID]
	if !ok || s.Now().After(rec.expiresAt) {
		return jobs.Result{}, false, nil
	}
	return rec.result, true, nil
}

func (s *Memory) SetMergeLatch(ctx context.Context, mainID, mergeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.latches[mainID]; taken {
		return false, nil
	}
	s.latches[mainID] = mergeID
	return true, nil
}

func (s *Memory) ClearMergeLatch(ctx context.Context, mainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latches, mainID)
	return nil
}

func (s *Memory) DeleteSubtree(ctx context.Context, mainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobRecords[mainID]
	if !ok {
		return jobs.Ef(jobs.ErrNotFound, "job %s not found", mainID)
	}
	main := rec.job
	ids := append([]string{mainID}, s.pages[mainID]...)
	if main.Children.SplitJobID != "" {
		ids = append(ids, main.Children.SplitJobID)
	}
	if main.Children.MergeJobID != "" {
		ids = append(ids, main.Children.MergeJobID)
	}
	for _, id := range ids {
		delete(s.jobRecords, id)
		delete(s.results, id)
	}
	delete(s.pages, mainID)
	delete(s.latches, mainID)
	delete(s.counters, mainID+":"+string(CounterCompleted))
	delete(s.counters, mainID+":"+string(CounterFailed))

	kept := s.ownerIndex[main.OwnerID][:0]
	for _, id := range s.ownerIndex[main.OwnerID] {
		removed := false
		for _, gone := range ids {
			if id == gone {
				removed = true
				break
			}
		}
		if !removed {
			kept = append(kept, id)
		}
	}
	s.ownerIndex[main.OwnerID] = kept
	return nil
}

func (s *Memory) ListJobsByOwner(ctx context.Context, ownerID string, f ListFilter) (JobPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := []jobs.Job{}
	for _, id := range s.ownerIndex[ownerID] {
		j, ok := s.getJobLocked(id)
		if !ok {
			continue
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
