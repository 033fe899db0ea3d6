// Package orchestrator owns the job tree: it creates main jobs, decides
// between whole-document and split conversion, fans page work out onto the
// queue and fans results back in through the state store.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docmill/internal/convert"
	"github.com/local/docmill/internal/jobs"
	"github.com/local/docmill/internal/metrics"
	"github.com/local/docmill/internal/store"
)

// Queue is the enqueue side of the work queue. Redelivery and dead-lettering
// live in the dispatcher.
type Queue interface {
	Enqueue(ctx context.Context, item jobs.WorkItem) error
}

// Fetcher materializes a source spec as a local file under destDir.
type Fetcher interface {
	Fetch(ctx context.Context, src jobs.SourceSpec, destDir string) (string, error)
}

// Splitter decomposes a PDF into one file per page.
type Splitter interface {
	PageCount(path string) (int, error)
	Split(ctx context.Context, pdfPath, dir string) ([]jobs.PageFile, int, error)
}

// Converter turns one local document or page into markdown.
type Converter interface {
	Convert(ctx context.Context, path string, opts jobs.ConvertOptions) (convert.Output, error)
}

// Dependencies wires the orchestrator to its collaborators.
type Dependencies struct {
	Store   store.Store
	Queue   Queue
	Fetch   Fetcher
	Split   Splitter
	Convert Converter
}

// Config holds the orchestration knobs.
type Config struct {
	TempDir string
	// MinSplitPages is the smallest PDF that fans out to page jobs; anything
	// shorter converts in one piece.
	MinSplitPages int
}

// Orchestrator drives the main/split/page/merge lifecycle.
type Orchestrator struct {
	deps Dependencies
	cfg  Config
}

// New builds an orchestrator.
func New(deps Dependencies, cfg Config) *Orchestrator {
	if cfg.MinSplitPages < 2 {
		cfg.MinSplitPages = 2
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// jobDir is the per-job scratch directory; the janitor sweeps stale ones.
func (o *Orchestrator) jobDir(mainID string) string {
	return filepath.Join(o.cfg.TempDir, mainID)
}

// Submit validates the request, persists a queued main job and puts the
// initial work item on the queue.
func (o *Orchestrator) Submit(ctx context.Context, ownerID string, src jobs.SourceSpec, opts jobs.ConvertOptions) (jobs.Job, error) {
	if src.Ref == "" {
		return jobs.Job{}, jobs.E(jobs.ErrValidation, "source reference is required")
	}
	switch src.Type {
	case jobs.SourceFile, jobs.SourceURL, jobs.SourceS3:
	default:
		return jobs.Job{}, jobs.Ef(jobs.ErrValidation, "unknown source type %q", src.Type)
	}

	main := jobs.Job{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Type:      jobs.TypeMain,
		Status:    jobs.StatusQueued,
		Name:      src.Name,
		CreatedAt: time.Now().UTC(),
		Source:    &src,
		Options:   opts,
	}
	if err := o.deps.Store.PutJob(ctx, main); err != nil {
		return jobs.Job{}, err
	}

	item := jobs.WorkItem{
		Kind:    jobs.KindConvertWhole,
		MainID:  main.ID,
		Attempt: 1,
		Source:  &src,
		Options: opts,
	}
	if err := o.deps.Queue.Enqueue(ctx, item); err != nil {
		main.Status = jobs.StatusFailed
		main.Error = "queue unavailable at submission"
		_ = o.deps.Store.PutJob(ctx, main)
		return jobs.Job{}, err
	}

	metrics.IncSubmitted(string(src.Type))
	log.Info().Str("job_id", main.ID).Str("owner", ownerID).
		Str("source_type", string(src.Type)).Msg("job submitted")
	return main, nil
}

// GetJob returns the job if it exists and belongs to ownerID. Ownership
// mismatches are indistinguishable from missing jobs.
func (o *Orchestrator) GetJob(ctx context.Context, ownerID, id string) (jobs.Job, error) {
	j, ok, err := o.deps.Store.GetJob(ctx, id)
	if err != nil {
		return jobs.Job{}, err
	}
	if !ok || j.OwnerID != ownerID {
		return jobs.Job{}, jobs.Ef(jobs.ErrNotFound, "job %s not found", id)
	}
	if j.Type == jobs.TypeMain && j.Status == jobs.StatusProcessing {
		// Page completions bump counters without rewriting the main record
		// every time, so recompute progress on read.
		completed, failed, err := o.deps.Store.GetPageCounters(ctx, id)
		if err == nil {
			j.Progress = progressFor(j, completed, failed)
		}
	}
	return j, nil
}

// JobStatus bundles a job record with its fan-in counters.
type JobStatus struct {
	Job            jobs.Job
	PagesCompleted int
	PagesFailed    int
}

// GetStatus returns the job together with page counters (zero for non-main
// jobs).
func (o *Orchestrator) GetStatus(ctx context.Context, ownerID, id string) (JobStatus, error) {
	j, err := o.GetJob(ctx, ownerID, id)
	if err != nil {
		return JobStatus{}, err
	}
	st := JobStatus{Job: j}
	if j.Type == jobs.TypeMain {
		completed, failed, err := o.deps.Store.GetPageCounters(ctx, id)
		if err != nil {
			return JobStatus{}, err
		}
		st.PagesCompleted, st.PagesFailed = completed, failed
	}
	return st, nil
}

// GetResult returns the stored result for a completed job.
func (o *Orchestrator) GetResult(ctx context.Context, ownerID, id string) (jobs.Result, error) {
	j, err := o.GetJob(ctx, ownerID, id)
	if err != nil {
		return jobs.Result{}, err
	}
	switch j.Status {
	case jobs.StatusCompleted:
	case jobs.StatusFailed:
		return jobs.Result{}, jobs.Ef(jobs.ErrInternal, "job failed: %s", j.Error)
	default:
		return jobs.Result{}, jobs.Ef(jobs.ErrValidation, "job is %s, result not ready", j.Status)
	}
	res, ok, err := o.deps.Store.GetResult(ctx, id)
	if err != nil {
		return jobs.Result{}, err
	}
	if !ok {
		return jobs.Result{}, jobs.Ef(jobs.ErrNotFound, "result for job %s expired", id)
	}
	return res, nil
}

// ListPages returns every page job of the main job, including superseded
// records, ordered by page number.
func (o *Orchestrator) ListPages(ctx context.Context, ownerID, mainID string) ([]jobs.Job, error) {
	if _, err := o.GetJob(ctx, ownerID, mainID); err != nil {
		return nil, err
	}
	return o.deps.Store.ListPages(ctx, mainID)
}

// GetPage returns the current (latest non-superseded) page job for a page
// number.
func (o *Orchestrator) GetPage(ctx context.Context, ownerID, mainID string, pageNumber int) (jobs.Job, error) {
	pages, err := o.ListPages(ctx, ownerID, mainID)
	if err != nil {
		return jobs.Job{}, err
	}
	cur, ok := currentPage(pages, pageNumber)
	if !ok {
		return jobs.Job{}, jobs.Ef(jobs.ErrNotFound, "page %d not found", pageNumber)
	}
	return cur, nil
}

// GetPageResult returns the stored markdown for one completed page.
func (o *Orchestrator) GetPageResult(ctx context.Context, ownerID, mainID string, pageNumber int) (jobs.Result, error) {
	page, err := o.GetPage(ctx, ownerID, mainID, pageNumber)
	if err != nil {
		return jobs.Result{}, err
	}
	if page.Status != jobs.StatusCompleted {
		return jobs.Result{}, jobs.Ef(jobs.ErrValidation, "page %d is %s, result not ready", pageNumber, page.Status)
	}
	res, ok, err := o.deps.Store.GetResult(ctx, page.ID)
	if err != nil {
		return jobs.Result{}, err
	}
	if !ok {
		return jobs.Result{}, jobs.Ef(jobs.ErrNotFound, "result for page %d expired", pageNumber)
	}
	return res, nil
}

// ListJobs pages through the owner's jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, ownerID string, f store.ListFilter) (store.JobPage, error) {
	return o.deps.Store.ListJobsByOwner(ctx, ownerID, f)
}

// RetryPage supersedes the latest failed record for a page number with a
// fresh queued page job. On a main job that already completed with
// placeholders this reopens it: the merge latch is released so fan-in can
// claim a new merge once the retried page lands.
func (o *Orchestrator) RetryPage(ctx context.Context, ownerID, mainID string, pageNumber int) (jobs.Job, error) {
	main, err := o.GetJob(ctx, ownerID, mainID)
	if err != nil {
		return jobs.Job{}, err
	}
	if main.Type != jobs.TypeMain {
		return jobs.Job{}, jobs.Ef(jobs.ErrConflict, "job %s is not a main job", mainID)
	}
	pages, err := o.deps.Store.ListPages(ctx, mainID)
	if err != nil {
		return jobs.Job{}, err
	}
	old, ok := currentPage(pages, pageNumber)
	if !ok {
		return jobs.Job{}, jobs.Ef(jobs.ErrNotFound, "page %d not found", pageNumber)
	}
	if old.Status != jobs.StatusFailed {
		return jobs.Job{}, jobs.Ef(jobs.ErrConflict, "page %d is %s, only failed pages can be retried", pageNumber, old.Status)
	}

	replacement := jobs.Job{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Type:         jobs.TypePage,
		Status:       jobs.StatusQueued,
		CreatedAt:    time.Now().UTC(),
		ParentID:     mainID,
		PageNumber:   pageNumber,
		PageFilePath: old.PageFilePath,
	}
	if err := o.deps.Store.PutJob(ctx, replacement); err != nil {
		return jobs.Job{}, err
	}
	if err := o.deps.Store.AddChild(ctx, mainID, jobs.TypePage, replacement.ID); err != nil {
		return jobs.Job{}, err
	}

	old.Status = jobs.StatusSuperseded
	if err := o.deps.Store.PutJob(ctx, old); err != nil {
		return jobs.Job{}, err
	}
	// The superseded failure no longer counts toward fan-in; the replacement
	// will re-add itself on termination.
	if _, err := o.deps.Store.IncPageCounter(ctx, mainID, store.CounterFailed, -1); err != nil {
		return jobs.Job{}, err
	}

	if main.Status == jobs.StatusCompleted || main.Status == jobs.StatusFailed {
		if err := o.deps.Store.ClearMergeLatch(ctx, mainID); err != nil {
			return jobs.Job{}, err
		}
		main.Status = jobs.StatusProcessing
		main.CompletedAt = nil
		main.Error = ""
		completed, failed, _ := o.deps.Store.GetPageCounters(ctx, mainID)
		main.Progress = progressFor(main, completed, failed)
		if err := o.deps.Store.PutJob(ctx, main); err != nil {
			return jobs.Job{}, err
		}
	}

	item := jobs.WorkItem{
		Kind:              jobs.KindRetryPage,
		MainID:            mainID,
		Attempt:           1,
		PageJobID:         replacement.ID,
		PageNumber:        pageNumber,
		PagePath:          old.PageFilePath,
		OriginalPageJobID: old.ID,
	}
	if err := o.deps.Queue.Enqueue(ctx, item); err != nil {
		return jobs.Job{}, err
	}

	metrics.IncRetry()
	log.Info().Str("job_id", mainID).Int("page", pageNumber).
		Str("page_job_id", replacement.ID).Str("superseded", old.ID).Msg("page retry enqueued")
	return replacement, nil
}

// Delete removes the whole job subtree, its results and its scratch files.
func (o *Orchestrator) Delete(ctx context.Context, ownerID, mainID string) error {
	main, err := o.GetJob(ctx, ownerID, mainID)
	if err != nil {
		return err
	}
	if main.Type != jobs.TypeMain {
		return jobs.Ef(jobs.ErrConflict, "job %s is not a main job", mainID)
	}
	if err := o.deps.Store.DeleteSubtree(ctx, mainID); err != nil {
		return err
	}
	if err := os.RemoveAll(o.jobDir(mainID)); err != nil {
		log.Warn().Err(err).Str("job_id", mainID).Msg("scratch dir removal failed")
	}
	log.Info().Str("job_id", mainID).Str("owner", ownerID).Msg("job deleted")
	return nil
}

// currentPage picks the latest non-superseded record for a page number.
// ListPages keeps replacements after the records they superseded, so the last
// match wins.
func currentPage(pages []jobs.Job, pageNumber int) (jobs.Job, bool) {
	var cur jobs.Job
	found := false
	for _, p := range pages {
		if p.PageNumber != pageNumber || p.Status == jobs.StatusSuperseded {
			continue
		}
		cur = p
		found = true
	}
	return cur, found
}
