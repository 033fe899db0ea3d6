// Package store is the single source of truth for job records, page records
// and results. Two backends share one contract: Redis for production and an
// in-process map store for tests and single-binary dev runs.
package store

import (
	"context"
	"time"

	"github.com/local/docmill/internal/jobs"
)

// CounterField selects one of the fan-in counters on a main job.
type CounterField string

const (
	CounterCompleted CounterField = "completed"
	CounterFailed    CounterField = "failed"
)

// ListFilter narrows and pages ListJobsByOwner. Page is 1-based.
type ListFilter struct {
	Type     jobs.Type
	Status   jobs.Status
	Page     int
	PageSize int
}

// JobPage is one page of an owner's job listing, newest first.
type JobPage struct {
	Total int
	Jobs  []jobs.Job
}

// Store is the authoritative persistence contract. All operations are
// idempotent when retried with the same inputs; AddChild, IncPageCounter and
// SetMergeLatch are atomic with respect to concurrent callers.
type Store interface {
	PutJob(ctx context.Context, job jobs.Job) error
	GetJob(ctx context.Context, id string) (jobs.Job, bool, error)

	// AddChild appends childID to the parent's membership for the given kind.
	// Page membership is the authoritative child list used by ListPages.
	AddChild(ctx context.Context, parentID string, kind jobs.Type, childID string) error

	// IncPageCounter atomically adjusts a fan-in counter and returns the new
	// value. Delta is +1 on page termination and -1 when a retry supersedes a
	// failure.
	IncPageCounter(ctx context.Context, mainID string, field CounterField, delta int) (int64, error)
	GetPageCounters(ctx context.Context, mainID string) (completed, failed int, err error)

	// ListPages returns every page job ever created for the main job,
	// ordered by page number (retried replacements after their originals).
	ListPages(ctx context.Context, mainID string) ([]jobs.Job, error)

	PutResult(ctx context.Context, res jobs.Result) error
	GetResult(ctx context.Context, jobID string) (jobs.Result, bool, error)

	// SetMergeLatch claims the merge for mainID. Exactly one caller wins.
	SetMergeLatch(ctx context.Context, mainID, mergeID string) (bool, error)

	// ClearMergeLatch releases the latch so a later completion cycle (page
	// retry on a finished job) can claim a fresh merge.
	ClearMergeLatch(ctx context.Context, mainID string) error

	// DeleteSubtree removes the main job, all children, counters, the latch
	// and all results.
	DeleteSubtree(ctx context.Context, mainID string) error

	ListJobsByOwner(ctx context.Context, ownerID string, f ListFilter) (JobPage, error)

	Ping(ctx context.Context) error
}

// Options control record retention.
type Options struct {
	StatusTTL time.Duration
	ResultTTL time.Duration
}

func (o *Options) defaults() {
	if o.StatusTTL <= 0 {
		o.StatusTTL = 24 * time.Hour
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = time.Hour
	}
}
