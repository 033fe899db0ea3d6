package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docmill/internal/convert"
	"github.com/local/docmill/internal/jobs"
	"github.com/local/docmill/internal/store"
)

type fakeQueue struct {
	mu       sync.Mutex
	items    []jobs.WorkItem
	enqueued map[jobs.WorkKind]int
	failNext bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, item jobs.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext {
		q.failNext = false
		return jobs.E(jobs.ErrQueueUnavailable, "queue down")
	}
	q.items = append(q.items, item)
	if q.enqueued == nil {
		q.enqueued = map[jobs.WorkKind]int{}
	}
	q.enqueued[item.Kind]++
	return nil
}

func (q *fakeQueue) pop() (jobs.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return jobs.WorkItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *fakeQueue) count(kind jobs.WorkKind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued[kind]
}

type fakeFetcher struct{ path string }

func (f *fakeFetcher) Fetch(ctx context.Context, src jobs.SourceSpec, destDir string) (string, error) {
	return f.path, nil
}

type fakeSplitter struct{ pages int }

func (s *fakeSplitter) PageCount(path string) (int, error) { return s.pages, nil }

func (s *fakeSplitter) Split(ctx context.Context, pdfPath, dir string) ([]jobs.PageFile, int, error) {
	out := make([]jobs.PageFile, 0, s.pages)
	for i := 1; i <= s.pages; i++ {
		out = append(out, jobs.PageFile{Number: i, Path: fmt.Sprintf("page-%d", i)})
	}
	return out, s.pages, nil
}

type fakeConverter struct {
	mu      sync.Mutex
	failing map[string]error
}

func (c *fakeConverter) failOn(path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing == nil {
		c.failing = map[string]error{}
	}
	c.failing[path] = err
}

func (c *fakeConverter) fixed(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failing, path)
}

func (c *fakeConverter) Convert(ctx context.Context, path string, opts jobs.ConvertOptions) (convert.Output, error) {
	c.mu.Lock()
	err := c.failing[filepath.Base(path)]
	c.mu.Unlock()
	if err != nil {
		return convert.Output{}, err
	}
	md := "text of " + filepath.Base(path)
	return convert.Output{
		Markdown: md,
		Metadata: jobs.ResultMetadata{Words: len(strings.Fields(md)), Format: "pdf"},
	}, nil
}

type env struct {
	t     *testing.T
	store *store.Memory
	queue *fakeQueue
	conv  *fakeConverter
	orch  *Orchestrator
}

func newEnv(t *testing.T, pages int) *env {
	t.Helper()
	dir := t.TempDir()
	pdf := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 test content"), 0o644))

	q := &fakeQueue{}
	conv := &fakeConverter{}
	st := store.NewMemory(store.Options{})
	orch := New(Dependencies{
		Store:   st,
		Queue:   q,
		Fetch:   &fakeFetcher{path: pdf},
		Split:   &fakeSplitter{pages: pages},
		Convert: conv,
	}, Config{TempDir: t.TempDir(), MinSplitPages: 2})
	return &env{t: t, store: st, queue: q, conv: conv, orch: orch}
}

func (e *env) submit(owner string) jobs.Job {
	e.t.Helper()
	main, err := e.orch.Submit(context.Background(), owner,
		jobs.SourceSpec{Type: jobs.SourceFile, Ref: "doc.pdf", Name: "doc.pdf"}, jobs.ConvertOptions{})
	require.NoError(e.t, err)
	return main
}

// drain runs queued work items to completion, like a single synchronous
// worker would.
func (e *env) drain() {
	e.t.Helper()
	for {
		item, ok := e.queue.pop()
		if !ok {
			return
		}
		require.NoError(e.t, e.orch.Process(context.Background(), item))
	}
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()

	t.Run("empty ref rejected", func(t *testing.T) {
		_, err := e.orch.Submit(ctx, "alice", jobs.SourceSpec{Type: jobs.SourceFile}, jobs.ConvertOptions{})
		assert.Equal(t, jobs.ErrValidation, jobs.KindOf(err))
	})

	t.Run("unknown source type rejected", func(t *testing.T) {
		_, err := e.orch.Submit(ctx, "alice", jobs.SourceSpec{Type: "ftp", Ref: "x"}, jobs.ConvertOptions{})
		assert.Equal(t, jobs.ErrValidation, jobs.KindOf(err))
	})

	t.Run("queue outage fails the job", func(t *testing.T) {
		e.queue.failNext = true
		_, err := e.orch.Submit(ctx, "alice", jobs.SourceSpec{Type: jobs.SourceFile, Ref: "doc.pdf"}, jobs.ConvertOptions{})
		assert.Equal(t, jobs.ErrQueueUnavailable, jobs.KindOf(err))
	})
}

func TestDirectConversion(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	main := e.submit("alice")
	e.drain()

	got, err := e.orch.GetJob(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Nil(t, got.TotalPages)
	assert.Empty(t, got.Children.SplitJobID)

	res, err := e.orch.GetResult(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, "text of doc.pdf", res.Markdown)

	// single-page documents never fan out
	assert.Zero(t, e.queue.count(jobs.KindSplitPDF))
	assert.Zero(t, e.queue.count(jobs.KindMergePages))
}

func TestSplitFanOutFanIn(t *testing.T) {
	e := newEnv(t, 3)
	ctx := context.Background()
	main := e.submit("alice")
	e.drain()

	st, err := e.orch.GetStatus(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, st.Job.Status)
	assert.Equal(t, 100, st.Job.Progress)
	require.NotNil(t, st.Job.TotalPages)
	assert.Equal(t, 3, *st.Job.TotalPages)
	assert.Equal(t, 3, st.PagesCompleted)
	assert.Zero(t, st.PagesFailed)

	res, err := e.orch.GetResult(ctx, "alice", main.ID)
	require.NoError(t, err)
	want := strings.Join([]string{"text of page-1", "text of page-2", "text of page-3"}, pageSeparator)
	assert.Equal(t, want, res.Markdown)
	assert.Equal(t, 3, res.Metadata.Pages)
	assert.Empty(t, res.Metadata.PageErrors)

	assert.Equal(t, 1, e.queue.count(jobs.KindMergePages))

	splitJob, err := e.orch.GetJob(ctx, "alice", st.Job.Children.SplitJobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, splitJob.Status)
	mergeJob, err := e.orch.GetJob(ctx, "alice", st.Job.Children.MergeJobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, mergeJob.Status)

	pages, err := e.orch.ListPages(ctx, "alice", main.ID)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.Equal(t, jobs.StatusCompleted, p.Status)
		assert.NotZero(t, p.CharCount)
	}
}

func TestFailedPageGetsPlaceholder(t *testing.T) {
	e := newEnv(t, 3)
	ctx := context.Background()
	e.conv.failOn("page-2", jobs.E(jobs.ErrConvertFailed, "glyph table corrupt"))
	main := e.submit("alice")
	e.drain()

	st, err := e.orch.GetStatus(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, st.Job.Status)
	assert.Equal(t, 2, st.PagesCompleted)
	assert.Equal(t, 1, st.PagesFailed)

	res, err := e.orch.GetResult(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "text of page-1")
	assert.Contains(t, res.Markdown, "<!-- page 2 conversion failed -->")
	assert.Contains(t, res.Markdown, "text of page-3")
	require.Len(t, res.Metadata.PageErrors, 1)
	assert.Equal(t, 2, res.Metadata.PageErrors[0].PageNumber)

	page, err := e.orch.GetPage(ctx, "alice", main.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, page.Status)
	assert.Contains(t, page.Error, "glyph table corrupt")
}

func TestAllPagesFailStillCompletes(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	e.conv.failOn("page-1", jobs.E(jobs.ErrConvertFailed, "bad page"))
	e.conv.failOn("page-2", jobs.E(jobs.ErrConvertFailed, "bad page"))
	main := e.submit("alice")
	e.drain()

	st, err := e.orch.GetStatus(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, st.Job.Status)
	assert.Zero(t, st.PagesCompleted)
	assert.Equal(t, 2, st.PagesFailed)

	res, err := e.orch.GetResult(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "<!-- page 1 conversion failed -->")
	assert.Contains(t, res.Markdown, "<!-- page 2 conversion failed -->")
	assert.Len(t, res.Metadata.PageErrors, 2)

	// retrying both pages one by one recovers the document
	e.conv.fixed("page-1")
	e.conv.fixed("page-2")
	_, err = e.orch.RetryPage(ctx, "alice", main.ID, 1)
	require.NoError(t, err)
	e.drain()
	_, err = e.orch.RetryPage(ctx, "alice", main.ID, 2)
	require.NoError(t, err)
	e.drain()

	st, err = e.orch.GetStatus(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, st.Job.Status)
	assert.Equal(t, 2, st.PagesCompleted)
	assert.Zero(t, st.PagesFailed)
	res, err = e.orch.GetResult(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.NotContains(t, res.Markdown, "conversion failed")
}

func TestRetryAfterCompletion(t *testing.T) {
	e := newEnv(t, 3)
	ctx := context.Background()
	e.conv.failOn("page-2", jobs.E(jobs.ErrConvertFailed, "glyph table corrupt"))
	main := e.submit("alice")
	e.drain()

	e.conv.fixed("page-2")
	replacement, err := e.orch.RetryPage(ctx, "alice", main.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, replacement.Status)

	// the job reopened
	got, err := e.orch.GetJob(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, got.Status)

	e.drain()

	st, err := e.orch.GetStatus(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, st.Job.Status)
	assert.Equal(t, 3, st.PagesCompleted)
	assert.Zero(t, st.PagesFailed)

	res, err := e.orch.GetResult(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "text of page-2")
	assert.NotContains(t, res.Markdown, "conversion failed")
	assert.Empty(t, res.Metadata.PageErrors)

	// one merge per completion cycle
	assert.Equal(t, 2, e.queue.count(jobs.KindMergePages))

	// history keeps the superseded record
	pages, err := e.orch.ListPages(ctx, "alice", main.ID)
	require.NoError(t, err)
	require.Len(t, pages, 4)
	cur, err := e.orch.GetPage(ctx, "alice", main.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, cur.ID)
	assert.Equal(t, jobs.StatusCompleted, cur.Status)
}

func TestMergeYieldsToInFlightRetry(t *testing.T) {
	e := newEnv(t, 3)
	ctx := context.Background()
	e.conv.failOn("page-2", jobs.E(jobs.ErrConvertFailed, "glyph table corrupt"))
	main := e.submit("alice")

	// run everything up to the merge, then hold the merge item
	item, _ := e.queue.pop()
	require.NoError(t, e.orch.Process(ctx, item)) // convert_whole
	item, _ = e.queue.pop()
	require.NoError(t, e.orch.Process(ctx, item)) // split
	for i := 0; i < 3; i++ {
		item, _ = e.queue.pop()
		require.NoError(t, e.orch.Process(ctx, item))
	}
	mergeItem, ok := e.queue.pop()
	require.True(t, ok)
	require.Equal(t, jobs.KindMergePages, mergeItem.Kind)

	// retry lands while the merge item is still on the queue
	e.conv.fixed("page-2")
	replacement, err := e.orch.RetryPage(ctx, "alice", main.ID, 2)
	require.NoError(t, err)

	// the stale merge must not freeze a placeholder over the queued replacement
	require.NoError(t, e.orch.Process(ctx, mergeItem))
	got, err := e.orch.GetJob(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, got.Status, "main must stay open for the retried page")
	_, err = e.orch.GetResult(ctx, "alice", main.ID)
	assert.Error(t, err, "no result may be frozen yet")

	e.drain()

	st, err := e.orch.GetStatus(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, st.Job.Status)
	assert.Equal(t, 3, st.PagesCompleted)
	assert.Zero(t, st.PagesFailed)

	res, err := e.orch.GetResult(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "text of page-2")
	assert.NotContains(t, res.Markdown, "conversion failed")

	cur, err := e.orch.GetPage(ctx, "alice", main.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, cur.ID)
	assert.Equal(t, 2, e.queue.count(jobs.KindMergePages), "exactly one fresh merge after the yield")
}

func TestRetryRejectedForNonFailedPage(t *testing.T) {
	e := newEnv(t, 3)
	ctx := context.Background()
	main := e.submit("alice")
	e.drain()

	_, err := e.orch.RetryPage(ctx, "alice", main.ID, 1)
	assert.Equal(t, jobs.ErrConflict, jobs.KindOf(err))

	_, err = e.orch.RetryPage(ctx, "alice", main.ID, 99)
	assert.Equal(t, jobs.ErrNotFound, jobs.KindOf(err))
}

func TestConcurrentFanInMergesOnce(t *testing.T) {
	const pages = 8
	e := newEnv(t, pages)
	ctx := context.Background()
	main := e.submit("alice")

	// run the whole-document and split stages synchronously
	item, ok := e.queue.pop()
	require.True(t, ok)
	require.Equal(t, jobs.KindConvertWhole, item.Kind)
	require.NoError(t, e.orch.Process(ctx, item))
	item, ok = e.queue.pop()
	require.True(t, ok)
	require.Equal(t, jobs.KindSplitPDF, item.Kind)
	require.NoError(t, e.orch.Process(ctx, item))

	pageItems := make([]jobs.WorkItem, 0, pages)
	for {
		it, ok := e.queue.pop()
		if !ok {
			break
		}
		pageItems = append(pageItems, it)
	}
	require.Len(t, pageItems, pages)

	var wg sync.WaitGroup
	for _, it := range pageItems {
		wg.Add(1)
		go func(it jobs.WorkItem) {
			defer wg.Done()
			assert.NoError(t, e.orch.Process(ctx, it))
		}(it)
	}
	wg.Wait()

	assert.Equal(t, 1, e.queue.count(jobs.KindMergePages))
	e.drain()

	got, err := e.orch.GetJob(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
}

func TestRedeliveredPageItemCountsOnce(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	main := e.submit("alice")

	item, _ := e.queue.pop()
	require.NoError(t, e.orch.Process(ctx, item)) // convert_whole
	item, _ = e.queue.pop()
	require.NoError(t, e.orch.Process(ctx, item)) // split

	first, ok := e.queue.pop()
	require.True(t, ok)
	require.NoError(t, e.orch.Process(ctx, first))
	// at-least-once delivery replays the same item
	require.NoError(t, e.orch.Process(ctx, first))

	st, err := e.orch.GetStatus(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PagesCompleted)
	assert.Zero(t, e.queue.count(jobs.KindMergePages))

	e.drain()
	st, err = e.orch.GetStatus(ctx, "alice", main.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.PagesCompleted)
	assert.Equal(t, 1, e.queue.count(jobs.KindMergePages))
}

func TestOwnershipIsolation(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	main := e.submit("alice")
	e.drain()

	_, err := e.orch.GetJob(ctx, "bob", main.ID)
	assert.Equal(t, jobs.ErrNotFound, jobs.KindOf(err))
	_, err = e.orch.GetResult(ctx, "bob", main.ID)
	assert.Equal(t, jobs.ErrNotFound, jobs.KindOf(err))
	err = e.orch.Delete(ctx, "bob", main.ID)
	assert.Equal(t, jobs.ErrNotFound, jobs.KindOf(err))
}

func TestDeleteRemovesSubtree(t *testing.T) {
	e := newEnv(t, 3)
	ctx := context.Background()
	main := e.submit("alice")
	e.drain()

	require.NoError(t, e.orch.Delete(ctx, "alice", main.ID))

	_, err := e.orch.GetJob(ctx, "alice", main.ID)
	assert.Equal(t, jobs.ErrNotFound, jobs.KindOf(err))

	page, err := e.orch.ListJobs(ctx, "alice", store.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestResultNotReady(t *testing.T) {
	e := newEnv(t, 3)
	ctx := context.Background()
	main := e.submit("alice")
	// nothing processed yet

	_, err := e.orch.GetResult(ctx, "alice", main.ID)
	assert.Equal(t, jobs.ErrValidation, jobs.KindOf(err))
}
