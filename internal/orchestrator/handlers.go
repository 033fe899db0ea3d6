package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docmill/internal/filetype"
	"github.com/local/docmill/internal/jobs"
	"github.com/local/docmill/internal/metrics"
	"github.com/local/docmill/internal/store"
)

// pageSeparator joins page markdown in the merged result.
const pageSeparator = "\n\n---\n\n"

// Process executes one dequeued work item. A nil return means the item is
// done (successfully or terminally failed on the job record) and must be
// acked; an error means the dispatcher decides between redelivery and the
// dead letter stream.
func (o *Orchestrator) Process(ctx context.Context, item jobs.WorkItem) error {
	start := time.Now()
	defer func() { metrics.ObserveHandler(string(item.Kind), time.Since(start)) }()

	switch item.Kind {
	case jobs.KindConvertWhole:
		return o.handleConvertWhole(ctx, item)
	case jobs.KindSplitPDF:
		return o.handleSplit(ctx, item)
	case jobs.KindConvertPage, jobs.KindRetryPage:
		return o.handleConvertPage(ctx, item)
	case jobs.KindMergePages:
		return o.handleMerge(ctx, item)
	default:
		return jobs.Ef(jobs.ErrInternal, "unknown work kind %q", item.Kind)
	}
}

// FailItem terminally fails the job behind an item the dispatcher gave up on
// (retries exhausted or permanent error surfaced outside the handler).
func (o *Orchestrator) FailItem(ctx context.Context, item jobs.WorkItem, cause error) {
	log.Error().Err(cause).Str("kind", string(item.Kind)).Str("job_id", item.MainID).
		Int("attempt", item.Attempt).Msg("work item abandoned")

	switch item.Kind {
	case jobs.KindConvertWhole:
		o.failMain(ctx, item.MainID, cause)
	case jobs.KindSplitPDF:
		if main, ok, _ := o.deps.Store.GetJob(ctx, item.MainID); ok && main.Children.SplitJobID != "" {
			o.failChild(ctx, main.Children.SplitJobID, cause)
		}
		o.failMain(ctx, item.MainID, cause)
	case jobs.KindConvertPage, jobs.KindRetryPage:
		page, ok, _ := o.deps.Store.GetJob(ctx, item.PageJobID)
		if ok && !page.Status.Terminal() {
			if err := o.failPage(ctx, page, cause); err != nil {
				log.Error().Err(err).Str("page_job_id", page.ID).Msg("page finalization failed")
			}
		}
	case jobs.KindMergePages:
		if main, ok, _ := o.deps.Store.GetJob(ctx, item.MainID); ok && main.Children.MergeJobID != "" {
			o.failChild(ctx, main.Children.MergeJobID, cause)
		}
		o.failMain(ctx, item.MainID, cause)
	}
}

// handleConvertWhole fetches the source, inspects it and either converts it
// in one piece or hands a multi-page PDF to the split stage.
func (o *Orchestrator) handleConvertWhole(ctx context.Context, item jobs.WorkItem) error {
	main, ok, err := o.deps.Store.GetJob(ctx, item.MainID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn().Str("job_id", item.MainID).Msg("work item for missing job, dropping")
		return nil
	}
	if main.Status.Terminal() {
		return nil
	}

	src := item.Source
	if src == nil {
		src = main.Source
	}
	if src == nil {
		o.failMain(ctx, main.ID, jobs.E(jobs.ErrInternal, "work item carries no source"))
		return nil
	}

	now := time.Now().UTC()
	main.Status = jobs.StatusProcessing
	if main.StartedAt == nil {
		main.StartedAt = &now
	}
	if err := o.deps.Store.PutJob(ctx, main); err != nil {
		return err
	}

	local, err := o.deps.Fetch.Fetch(ctx, *src, o.jobDir(main.ID))
	if err != nil {
		if jobs.Retriable(err) {
			return err
		}
		o.failMain(ctx, main.ID, err)
		return nil
	}

	info, err := filetype.Detect(local)
	if err != nil {
		o.failMain(ctx, main.ID, jobs.Wrap(jobs.ErrConvertFailed, err, "detect format"))
		return nil
	}
	if !info.Supported {
		o.failMain(ctx, main.ID, jobs.Ef(jobs.ErrConvertFailed, "unsupported format %s", info.MIMEType))
		return nil
	}
	fi, err := os.Stat(local)
	if err != nil {
		o.failMain(ctx, main.ID, jobs.Wrap(jobs.ErrInternal, err, "stat fetched file"))
		return nil
	}

	filename := src.Name
	if filename == "" {
		filename = filepath.Base(local)
	}
	main.Document = &jobs.DocumentInfo{
		MIMEType:  info.MIMEType,
		SizeBytes: fi.Size(),
		Filename:  filename,
	}

	if info.Format == "pdf" {
		pages, err := o.deps.Split.PageCount(local)
		if err != nil {
			o.failMain(ctx, main.ID, err)
			return nil
		}
		main.Document.PageCount = pages
		if pages >= o.cfg.MinSplitPages {
			return o.startSplit(ctx, main, local)
		}
	}
	return o.convertDirect(ctx, main, local)
}

// startSplit records the split child and queues the split stage. The main
// record is written before AddChild so the child link set in the store is not
// clobbered by a stale in-memory copy.
func (o *Orchestrator) startSplit(ctx context.Context, main jobs.Job, local string) error {
	if err := o.deps.Store.PutJob(ctx, main); err != nil {
		return err
	}
	if main.Children.SplitJobID == "" {
		split := jobs.Job{
			ID:        uuid.NewString(),
			OwnerID:   main.OwnerID,
			Type:      jobs.TypeSplit,
			Status:    jobs.StatusQueued,
			CreatedAt: time.Now().UTC(),
			ParentID:  main.ID,
		}
		if err := o.deps.Store.PutJob(ctx, split); err != nil {
			return err
		}
		if err := o.deps.Store.AddChild(ctx, main.ID, jobs.TypeSplit, split.ID); err != nil {
			return err
		}
	}
	item := jobs.WorkItem{
		Kind:      jobs.KindSplitPDF,
		MainID:    main.ID,
		Attempt:   1,
		LocalPath: local,
		Options:   main.Options,
	}
	if err := o.deps.Queue.Enqueue(ctx, item); err != nil {
		return err
	}
	log.Info().Str("job_id", main.ID).Int("pages", main.Document.PageCount).Msg("pdf queued for split")
	return nil
}

// convertDirect converts the whole document inline and completes the main job.
func (o *Orchestrator) convertDirect(ctx context.Context, main jobs.Job, local string) error {
	main.Progress = 50
	if err := o.deps.Store.PutJob(ctx, main); err != nil {
		return err
	}

	out, err := o.deps.Convert.Convert(ctx, local, main.Options)
	if err != nil {
		if jobs.Retriable(err) {
			return err
		}
		o.failMain(ctx, main.ID, err)
		return nil
	}

	res := jobs.Result{
		JobID:     main.ID,
		Markdown:  out.Markdown,
		Metadata:  out.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.deps.Store.PutResult(ctx, res); err != nil {
		return err
	}
	return o.completeMain(ctx, main)
}

// handleSplit splits the PDF, persists every page record, then fans the
// conversion items out. Page records exist before any page item is on the
// queue so fan-in always knows the full membership.
func (o *Orchestrator) handleSplit(ctx context.Context, item jobs.WorkItem) error {
	main, ok, err := o.deps.Store.GetJob(ctx, item.MainID)
	if err != nil {
		return err
	}
	if !ok || main.Status.Terminal() {
		return nil
	}
	splitJob, ok, err := o.deps.Store.GetJob(ctx, main.Children.SplitJobID)
	if err != nil {
		return err
	}
	if !ok || splitJob.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	splitJob.Status = jobs.StatusProcessing
	splitJob.StartedAt = &now
	if err := o.deps.Store.PutJob(ctx, splitJob); err != nil {
		return err
	}

	// TotalPages doubles as the fan-out marker: once set, page records exist
	// and a redelivered split item only re-queues pages still waiting.
	if main.TotalPages == nil {
		pageFiles, total, err := o.deps.Split.Split(ctx, item.LocalPath, filepath.Join(o.jobDir(main.ID), "pages"))
		if err != nil {
			if jobs.Retriable(err) {
				return err
			}
			o.failChild(ctx, splitJob.ID, err)
			o.failMain(ctx, main.ID, err)
			return nil
		}
		for _, pf := range pageFiles {
			page := jobs.Job{
				ID:           uuid.NewString(),
				OwnerID:      main.OwnerID,
				Type:         jobs.TypePage,
				Status:       jobs.StatusQueued,
				CreatedAt:    time.Now().UTC(),
				ParentID:     main.ID,
				PageNumber:   pf.Number,
				PageFilePath: pf.Path,
			}
			if err := o.deps.Store.PutJob(ctx, page); err != nil {
				return err
			}
			if err := o.deps.Store.AddChild(ctx, main.ID, jobs.TypePage, page.ID); err != nil {
				return err
			}
		}
		// Refresh before writing so the child links added above survive.
		main, ok, err = o.deps.Store.GetJob(ctx, main.ID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		main.TotalPages = &total
		main.Progress = 10
		if main.Document != nil {
			main.Document.PageCount = total
		}
		if err := o.deps.Store.PutJob(ctx, main); err != nil {
			return err
		}
	}

	pages, err := o.deps.Store.ListPages(ctx, main.ID)
	if err != nil {
		return err
	}
	for _, page := range pages {
		if page.Status != jobs.StatusQueued {
			continue
		}
		pageItem := jobs.WorkItem{
			Kind:       jobs.KindConvertPage,
			MainID:     main.ID,
			Attempt:    1,
			Options:    main.Options,
			PageJobID:  page.ID,
			PageNumber: page.PageNumber,
			PagePath:   page.PageFilePath,
		}
		if err := o.deps.Queue.Enqueue(ctx, pageItem); err != nil {
			return err
		}
	}

	done := time.Now().UTC()
	splitJob.Status = jobs.StatusCompleted
	splitJob.Progress = 100
	splitJob.CompletedAt = &done
	if err := o.deps.Store.PutJob(ctx, splitJob); err != nil {
		return err
	}
	log.Info().Str("job_id", main.ID).Int("pages", len(pages)).Msg("pages fanned out")
	return nil
}

// handleConvertPage converts one page file and finalizes the page record. A
// redelivered item whose page already terminated still re-checks fan-in, so a
// crash between the counter bump and the merge latch cannot strand the job.
func (o *Orchestrator) handleConvertPage(ctx context.Context, item jobs.WorkItem) error {
	page, ok, err := o.deps.Store.GetJob(ctx, item.PageJobID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn().Str("page_job_id", item.PageJobID).Msg("page item for missing record, dropping")
		return nil
	}
	if page.Status.Terminal() {
		return o.maybeMerge(ctx, item.MainID)
	}

	now := time.Now().UTC()
	page.Status = jobs.StatusProcessing
	if page.StartedAt == nil {
		page.StartedAt = &now
	}
	if err := o.deps.Store.PutJob(ctx, page); err != nil {
		return err
	}

	path := item.PagePath
	if path == "" {
		path = page.PageFilePath
	}
	out, err := o.deps.Convert.Convert(ctx, path, item.Options)
	if err != nil {
		if jobs.Retriable(err) {
			return err
		}
		return o.failPage(ctx, page, err)
	}

	out.Metadata.Pages = 1
	res := jobs.Result{
		JobID:     page.ID,
		Markdown:  out.Markdown,
		Metadata:  out.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.deps.Store.PutResult(ctx, res); err != nil {
		return err
	}

	done := time.Now().UTC()
	page.Status = jobs.StatusCompleted
	page.Progress = 100
	page.CharCount = len(out.Markdown)
	page.CompletedAt = &done
	if err := o.deps.Store.PutJob(ctx, page); err != nil {
		return err
	}
	metrics.IncPageProcessed("completed")

	if _, err := o.deps.Store.IncPageCounter(ctx, page.ParentID, store.CounterCompleted, 1); err != nil {
		return err
	}
	return o.maybeMerge(ctx, page.ParentID)
}

// failPage terminally fails one page record and runs fan-in accounting.
func (o *Orchestrator) failPage(ctx context.Context, page jobs.Job, cause error) error {
	done := time.Now().UTC()
	page.Status = jobs.StatusFailed
	page.Error = cause.Error()
	page.CompletedAt = &done
	if err := o.deps.Store.PutJob(ctx, page); err != nil {
		return err
	}
	metrics.IncPageProcessed("failed")
	log.Warn().Err(cause).Str("page_job_id", page.ID).Int("page", page.PageNumber).
		Str("job_id", page.ParentID).Msg("page conversion failed")

	if _, err := o.deps.Store.IncPageCounter(ctx, page.ParentID, store.CounterFailed, 1); err != nil {
		return err
	}
	return o.maybeMerge(ctx, page.ParentID)
}

// maybeMerge checks fan-in and, when every page is accounted for, claims the
// merge latch. The latch guarantees at most one merge job per completion
// cycle no matter how many page handlers race here.
func (o *Orchestrator) maybeMerge(ctx context.Context, mainID string) error {
	main, ok, err := o.deps.Store.GetJob(ctx, mainID)
	if err != nil {
		return err
	}
	if !ok || main.Status.Terminal() || main.TotalPages == nil {
		return nil
	}
	completed, failed, err := o.deps.Store.GetPageCounters(ctx, mainID)
	if err != nil {
		return err
	}
	if completed+failed < *main.TotalPages {
		return nil
	}

	mergeID := uuid.NewString()
	won, err := o.deps.Store.SetMergeLatch(ctx, mainID, mergeID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	merge := jobs.Job{
		ID:        mergeID,
		OwnerID:   main.OwnerID,
		Type:      jobs.TypeMerge,
		Status:    jobs.StatusQueued,
		CreatedAt: time.Now().UTC(),
		ParentID:  mainID,
	}
	if err := o.deps.Store.PutJob(ctx, merge); err != nil {
		return err
	}
	if err := o.deps.Store.AddChild(ctx, mainID, jobs.TypeMerge, mergeID); err != nil {
		return err
	}
	if err := o.deps.Queue.Enqueue(ctx, jobs.WorkItem{
		Kind:    jobs.KindMergePages,
		MainID:  mainID,
		Attempt: 1,
	}); err != nil {
		return err
	}
	log.Info().Str("job_id", mainID).Str("merge_job_id", mergeID).
		Int("completed", completed).Int("failed", failed).Msg("merge claimed")
	return nil
}

// handleMerge concatenates page results in page order and completes the main
// job. Failed pages contribute a placeholder and a per-page error entry
// instead of sinking the whole document.
func (o *Orchestrator) handleMerge(ctx context.Context, item jobs.WorkItem) error {
	main, ok, err := o.deps.Store.GetJob(ctx, item.MainID)
	if err != nil {
		return err
	}
	if !ok || main.Status.Terminal() || main.TotalPages == nil {
		return nil
	}
	merge, ok, err := o.deps.Store.GetJob(ctx, main.Children.MergeJobID)
	if err != nil {
		return err
	}
	if !ok || merge.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	merge.Status = jobs.StatusProcessing
	merge.StartedAt = &now
	if err := o.deps.Store.PutJob(ctx, merge); err != nil {
		return err
	}

	pages, err := o.deps.Store.ListPages(ctx, main.ID)
	if err != nil {
		return err
	}
	total := *main.TotalPages

	// A non-terminal current page means a retry raced this merge: its
	// replacement was queued after fan-in fired. Rendering now would freeze a
	// placeholder over content that is about to arrive, so step aside, release
	// the latch and re-check fan-in. The replacement's own termination (or the
	// re-check below, if it already landed) claims a fresh merge.
	for n := 1; n <= total; n++ {
		cur, found := currentPage(pages, n)
		if !found || cur.Status.Terminal() {
			continue
		}
		if err := o.deps.Store.ClearMergeLatch(ctx, main.ID); err != nil {
			return err
		}
		yielded := time.Now().UTC()
		merge.Status = jobs.StatusCancelled
		merge.Error = fmt.Sprintf("page %d retried before merge ran", n)
		merge.CompletedAt = &yielded
		if err := o.deps.Store.PutJob(ctx, merge); err != nil {
			return err
		}
		log.Info().Str("job_id", main.ID).Int("page", n).Msg("merge yielded to in-flight page retry")
		return o.maybeMerge(ctx, main.ID)
	}

	parts := make([]string, 0, total)
	var pageErrors []jobs.PageError
	for n := 1; n <= total; n++ {
		cur, found := currentPage(pages, n)
		if !found {
			parts = append(parts, fmt.Sprintf("<!-- page %d missing -->", n))
			pageErrors = append(pageErrors, jobs.PageError{PageNumber: n, Error: "page record missing"})
			continue
		}
		if cur.Status == jobs.StatusCompleted {
			res, ok, err := o.deps.Store.GetResult(ctx, cur.ID)
			if err != nil {
				return err
			}
			if ok {
				parts = append(parts, res.Markdown)
				continue
			}
			parts = append(parts, fmt.Sprintf("<!-- page %d result expired -->", n))
			pageErrors = append(pageErrors, jobs.PageError{PageNumber: n, Error: "page result expired"})
			continue
		}
		parts = append(parts, fmt.Sprintf("<!-- page %d conversion failed -->", n))
		pageErrors = append(pageErrors, jobs.PageError{PageNumber: n, Error: cur.Error})
	}

	markdown := strings.Join(parts, pageSeparator)
	meta := jobs.ResultMetadata{
		Pages:      total,
		Words:      len(strings.Fields(markdown)),
		Format:     "pdf",
		PageErrors: pageErrors,
	}
	if main.Document != nil {
		meta.SizeBytes = main.Document.SizeBytes
		meta.Title = strings.TrimSuffix(main.Document.Filename, filepath.Ext(main.Document.Filename))
	}
	if err := o.deps.Store.PutResult(ctx, jobs.Result{
		JobID:     main.ID,
		Markdown:  markdown,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	done := time.Now().UTC()
	merge.Status = jobs.StatusCompleted
	merge.Progress = 100
	merge.CompletedAt = &done
	if err := o.deps.Store.PutJob(ctx, merge); err != nil {
		return err
	}

	// Refresh to keep the child links written since our read.
	main, ok, err = o.deps.Store.GetJob(ctx, main.ID)
	if err != nil || !ok {
		return err
	}
	if err := o.completeMain(ctx, main); err != nil {
		return err
	}
	log.Info().Str("job_id", main.ID).Int("pages", total).
		Int("failed_pages", len(pageErrors)).Msg("pages merged")
	return nil
}

// completeMain writes the terminal completed state on a main job.
func (o *Orchestrator) completeMain(ctx context.Context, main jobs.Job) error {
	done := time.Now().UTC()
	main.Status = jobs.StatusCompleted
	main.Progress = 100
	main.Error = ""
	main.CompletedAt = &done
	if err := o.deps.Store.PutJob(ctx, main); err != nil {
		return err
	}
	metrics.IncFinished("completed")
	return nil
}

// failMain writes the terminal failed state on a main job. Already-terminal
// jobs are left alone.
func (o *Orchestrator) failMain(ctx context.Context, mainID string, cause error) {
	main, ok, err := o.deps.Store.GetJob(ctx, mainID)
	if err != nil || !ok || main.Status.Terminal() {
		return
	}
	done := time.Now().UTC()
	main.Status = jobs.StatusFailed
	main.Error = cause.Error()
	main.CompletedAt = &done
	if err := o.deps.Store.PutJob(ctx, main); err != nil {
		log.Error().Err(err).Str("job_id", mainID).Msg("writing failed state failed")
		return
	}
	metrics.IncFinished("failed")
	log.Error().Err(cause).Str("job_id", mainID).Msg("job failed")
}

// failChild marks a split or merge record failed.
func (o *Orchestrator) failChild(ctx context.Context, childID string, cause error) {
	child, ok, err := o.deps.Store.GetJob(ctx, childID)
	if err != nil || !ok || child.Status.Terminal() {
		return
	}
	done := time.Now().UTC()
	child.Status = jobs.StatusFailed
	child.Error = cause.Error()
	child.CompletedAt = &done
	if err := o.deps.Store.PutJob(ctx, child); err != nil {
		log.Error().Err(err).Str("job_id", childID).Msg("writing failed state failed")
	}
}
