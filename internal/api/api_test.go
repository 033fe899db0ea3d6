package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docmill/internal/jobs"
	"github.com/local/docmill/internal/orchestrator"
	"github.com/local/docmill/internal/store"
)

type fakeService struct {
	lastOwner string
	lastSrc   jobs.SourceSpec
	submitted int

	submitErr error
	status    orchestrator.JobStatus
	statusErr error
	result    jobs.Result
	resultErr error
	pages     []jobs.Job
	retryJob  jobs.Job
	retryErr  error
	deleteErr error
	list      store.JobPage
}

func (f *fakeService) Submit(ctx context.Context, ownerID string, src jobs.SourceSpec, opts jobs.ConvertOptions) (jobs.Job, error) {
	f.lastOwner, f.lastSrc = ownerID, src
	f.submitted++
	if f.submitErr != nil {
		return jobs.Job{}, f.submitErr
	}
	return jobs.Job{ID: "job-1", OwnerID: ownerID, Status: jobs.StatusQueued}, nil
}

func (f *fakeService) GetStatus(ctx context.Context, ownerID, id string) (orchestrator.JobStatus, error) {
	f.lastOwner = ownerID
	return f.status, f.statusErr
}

func (f *fakeService) GetResult(ctx context.Context, ownerID, id string) (jobs.Result, error) {
	return f.result, f.resultErr
}

func (f *fakeService) ListPages(ctx context.Context, ownerID, mainID string) ([]jobs.Job, error) {
	return f.pages, f.statusErr
}

func (f *fakeService) GetPage(ctx context.Context, ownerID, mainID string, n int) (jobs.Job, error) {
	for _, p := range f.pages {
		if p.PageNumber == n {
			return p, nil
		}
	}
	return jobs.Job{}, jobs.Ef(jobs.ErrNotFound, "page %d not found", n)
}

func (f *fakeService) GetPageResult(ctx context.Context, ownerID, mainID string, n int) (jobs.Result, error) {
	return f.result, f.resultErr
}

func (f *fakeService) RetryPage(ctx context.Context, ownerID, mainID string, n int) (jobs.Job, error) {
	return f.retryJob, f.retryErr
}

func (f *fakeService) Delete(ctx context.Context, ownerID, mainID string) error { return f.deleteErr }

func (f *fakeService) ListJobs(ctx context.Context, ownerID string, filter store.ListFilter) (store.JobPage, error) {
	return f.list, nil
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

func newTestServer(t *testing.T, svc *fakeService, keys map[string]string) *Server {
	t.Helper()
	return New(svc, Config{MaxFileSizeMB: 1, UploadDir: t.TempDir(), APIKeys: keys}, &fakePinger{}, &fakePinger{})
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestAuth(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, map[string]string{"secret": "alice"})

	t.Run("missing key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		rec := doRequest(s, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "auth", decodeError(t, rec).Code)
	})

	t.Run("unknown key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.Header.Set("X-API-Key", "wrong")
		rec := doRequest(s, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid key resolves the owner", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/abc", nil)
		req.Header.Set("X-API-Key", "secret")
		doRequest(s, req)
		assert.Equal(t, "alice", svc.lastOwner)
	})

	t.Run("keyless config is single-owner dev mode", func(t *testing.T) {
		dev := newTestServer(t, svc, nil)
		req := httptest.NewRequest(http.MethodGet, "/jobs/abc", nil)
		doRequest(dev, req)
		assert.Equal(t, "default", svc.lastOwner)
	})
}

func TestUpload(t *testing.T) {
	t.Run("pdf accepted", func(t *testing.T) {
		svc := &fakeService{}
		s := newTestServer(t, svc, nil)
		body, ct := multipartBody(t, "report.pdf", []byte("%PDF-1.4 content"))
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := doRequest(s, req)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp submitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "job-1", resp.JobID)
		assert.Equal(t, jobs.SourceFile, svc.lastSrc.Type)
		assert.Equal(t, "report.pdf", svc.lastSrc.Name)
		assert.True(t, strings.HasSuffix(svc.lastSrc.Ref, "_report.pdf"))
	})

	t.Run("unsupported extension rejected before job creation", func(t *testing.T) {
		svc := &fakeService{}
		s := newTestServer(t, svc, nil)
		body, ct := multipartBody(t, "weird.xyz", []byte("whatever"))
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := doRequest(s, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "validation", decodeError(t, rec).Code)
		assert.Zero(t, svc.submitted, "no job may be created")
	})

	t.Run("empty file rejected", func(t *testing.T) {
		svc := &fakeService{}
		s := newTestServer(t, svc, nil)
		body, ct := multipartBody(t, "empty.pdf", nil)
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := doRequest(s, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, svc.submitted, "no job may be created")
	})

	t.Run("oversized upload rejected", func(t *testing.T) {
		svc := &fakeService{}
		s := newTestServer(t, svc, nil) // limit is 1 MB
		body, ct := multipartBody(t, "big.pdf", bytes.Repeat([]byte("a"), 3<<20))
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := doRequest(s, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Zero(t, svc.submitted)
	})

	t.Run("missing file field", func(t *testing.T) {
		svc := &fakeService{}
		s := newTestServer(t, svc, nil)
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		require.NoError(t, w.WriteField("name", "x.pdf"))
		require.NoError(t, w.Close())
		req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		rec := doRequest(s, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConvert(t *testing.T) {
	t.Run("json url source", func(t *testing.T) {
		svc := &fakeService{}
		s := newTestServer(t, svc, nil)
		body := `{"source_type":"url","source":"https://example.com/doc.pdf"}`
		req := httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader(body))
		rec := doRequest(s, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, jobs.SourceURL, svc.lastSrc.Type)
		assert.Equal(t, "https://example.com/doc.pdf", svc.lastSrc.Ref)
	})

	t.Run("invalid json", func(t *testing.T) {
		svc := &fakeService{}
		s := newTestServer(t, svc, nil)
		req := httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader("{"))
		rec := doRequest(s, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("queue outage maps to 503", func(t *testing.T) {
		svc := &fakeService{submitErr: jobs.E(jobs.ErrQueueUnavailable, "queue down")}
		s := newTestServer(t, svc, nil)
		body := `{"source_type":"url","source":"https://example.com/doc.pdf"}`
		req := httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader(body))
		rec := doRequest(s, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestJobRoutes(t *testing.T) {
	total := 2
	svc := &fakeService{
		status: orchestrator.JobStatus{
			Job: jobs.Job{
				ID: "job-1", OwnerID: "default", Type: jobs.TypeMain,
				Status: jobs.StatusProcessing, TotalPages: &total,
			},
			PagesCompleted: 1,
		},
		pages: []jobs.Job{
			{ID: "p1", PageNumber: 1, Status: jobs.StatusCompleted},
			{ID: "p2", PageNumber: 2, Status: jobs.StatusProcessing},
		},
		result:   jobs.Result{JobID: "job-1", Markdown: "# hi"},
		retryJob: jobs.Job{ID: "p2-retry"},
		list:     store.JobPage{Total: 1, Jobs: []jobs.Job{{ID: "job-1"}}},
	}
	s := newTestServer(t, svc, nil)

	t.Run("status includes counters", func(t *testing.T) {
		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp jobStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "job-1", resp.ID)
		assert.Equal(t, 1, resp.PagesCompleted)
	})

	t.Run("unknown job maps to 404", func(t *testing.T) {
		missing := &fakeService{statusErr: jobs.Ef(jobs.ErrNotFound, "job x not found")}
		rec := doRequest(newTestServer(t, missing, nil), httptest.NewRequest(http.MethodGet, "/jobs/x", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeError(t, rec).Code)
	})

	t.Run("result", func(t *testing.T) {
		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/jobs/job-1/result", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var res jobs.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, "# hi", res.Markdown)
	})

	t.Run("pages listing", func(t *testing.T) {
		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/jobs/job-1/pages", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp pagesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.TotalPages)
		assert.Equal(t, 1, resp.PagesCompleted)
		require.Len(t, resp.Pages, 2)
		assert.Equal(t, "/jobs/job-1/pages/1/result", resp.Pages[0].URL)
	})

	t.Run("page status by number", func(t *testing.T) {
		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/jobs/job-1/pages/2/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var page jobs.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, "p2", page.ID)
	})

	t.Run("retry returns 202 with the replacement id", func(t *testing.T) {
		rec := doRequest(s, httptest.NewRequest(http.MethodPost, "/jobs/job-1/pages/2/retry", nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "p2-retry", resp["new_job_id"])
	})

	t.Run("retry conflict for non-failed page", func(t *testing.T) {
		conflicted := &fakeService{retryErr: jobs.Ef(jobs.ErrConflict, "page 2 is completed")}
		rec := doRequest(newTestServer(t, conflicted, nil),
			httptest.NewRequest(http.MethodPost, "/jobs/job-1/pages/2/retry", nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("delete returns 204", func(t *testing.T) {
		rec := doRequest(s, httptest.NewRequest(http.MethodDelete, "/jobs/job-1", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("listing", func(t *testing.T) {
		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/jobs?status=completed&page=1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp listResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Total)
	})
}

func TestHealth(t *testing.T) {
	svc := &fakeService{}

	t.Run("all backends up", func(t *testing.T) {
		s := newTestServer(t, svc, nil)
		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
	})

	t.Run("store down reports degraded", func(t *testing.T) {
		s := New(svc, Config{MaxFileSizeMB: 1, UploadDir: t.TempDir()},
			&fakePinger{err: errors.New("conn refused")}, &fakePinger{})
		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "unreachable", resp.Store)
	})
}
