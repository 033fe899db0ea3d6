package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/local/docmill/internal/filetype"
	"github.com/local/docmill/internal/jobs"
	"github.com/local/docmill/internal/store"
)

type submitResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
}

// handleUpload accepts a multipart file upload and creates a conversion job.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, ownerID string) {
	maxBytes := int64(s.cfg.MaxFileSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, jobs.ErrValidation,
				fmt.Sprintf("upload exceeds %d MB", s.cfg.MaxFileSizeMB))
			return
		}
		writeError(w, http.StatusBadRequest, jobs.ErrValidation, "invalid multipart form")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, jobs.ErrValidation, "missing file field")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = hdr.Filename
	}
	if !filetype.AllowedExt(name) {
		writeError(w, http.StatusUnprocessableEntity, jobs.ErrValidation,
			fmt.Sprintf("unsupported file type %s", filepath.Ext(name)))
		return
	}
	if hdr.Size == 0 {
		writeError(w, http.StatusBadRequest, jobs.ErrValidation, "uploaded file is empty")
		return
	}
	if hdr.Size > maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, jobs.ErrValidation,
			fmt.Sprintf("upload exceeds %d MB", s.cfg.MaxFileSizeMB))
		return
	}

	local, err := s.saveUpload(file, name)
	if err != nil {
		fail(w, err)
		return
	}

	src := jobs.SourceSpec{Type: jobs.SourceFile, Ref: local, Name: name}
	s.submit(w, r, ownerID, src, optionsFromForm(r))
}

// saveUpload writes the multipart file into the upload scratch area.
func (s *Server) saveUpload(file io.Reader, name string) (string, error) {
	dir := filepath.Join(s.cfg.UploadDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", jobs.Wrap(jobs.ErrInternal, err, "create upload dir")
	}
	local := filepath.Join(dir, uuid.NewString()+"_"+filepath.Base(name))
	out, err := os.Create(local)
	if err != nil {
		return "", jobs.Wrap(jobs.ErrInternal, err, "create upload file")
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		os.Remove(local)
		return "", jobs.Wrap(jobs.ErrInternal, err, "write upload file")
	}
	return local, nil
}

type convertRequest struct {
	SourceType string              `json:"source_type"`
	Source     string              `json:"source"`
	Name       string              `json:"name,omitempty"`
	Options    jobs.ConvertOptions `json:"options,omitempty"`
}

// handleConvert accepts a JSON body for url/s3 sources, or delegates to the
// upload flow when the client sent multipart.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request, ownerID string) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		s.handleUpload(w, r, ownerID)
		return
	}
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, jobs.ErrValidation, "invalid json body")
		return
	}
	src := jobs.SourceSpec{Type: jobs.SourceType(req.SourceType), Ref: req.Source, Name: req.Name}
	s.submit(w, r, ownerID, src, req.Options)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, ownerID string, src jobs.SourceSpec, opts jobs.ConvertOptions) {
	job, err := s.svc.Submit(r.Context(), ownerID, src, opts)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		Message:   "conversion job created",
	})
}

func optionsFromForm(r *http.Request) jobs.ConvertOptions {
	formBool := func(key string) bool {
		v := r.FormValue(key)
		return v == "true" || v == "1" || v == "on"
	}
	return jobs.ConvertOptions{
		Format:          r.FormValue("format"),
		IncludeImages:   formBool("include_images"),
		PreserveTables:  formBool("preserve_tables"),
		ExtractMetadata: formBool("extract_metadata"),
	}
}

type jobStatusResponse struct {
	jobs.Job
	PagesCompleted int `json:"pages_completed"`
	PagesFailed    int `json:"pages_failed"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, ownerID string) {
	id := mux.Vars(r)["id"]
	st, err := s.svc.GetStatus(r.Context(), ownerID, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		Job:            st.Job,
		PagesCompleted: st.PagesCompleted,
		PagesFailed:    st.PagesFailed,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request, ownerID string) {
	id := mux.Vars(r)["id"]
	res, err := s.svc.GetResult(r.Context(), ownerID, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type pageEntry struct {
	PageNumber int    `json:"page_number"`
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	URL        string `json:"url"`
}

type pagesResponse struct {
	TotalPages     int         `json:"total_pages"`
	PagesCompleted int         `json:"pages_completed"`
	PagesFailed    int         `json:"pages_failed"`
	Pages          []pageEntry `json:"pages"`
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request, ownerID string) {
	id := mux.Vars(r)["id"]
	st, err := s.svc.GetStatus(r.Context(), ownerID, id)
	if err != nil {
		fail(w, err)
		return
	}
	pages, err := s.svc.ListPages(r.Context(), ownerID, id)
	if err != nil {
		fail(w, err)
		return
	}

	resp := pagesResponse{
		PagesCompleted: st.PagesCompleted,
		PagesFailed:    st.PagesFailed,
		Pages:          []pageEntry{},
	}
	if st.Job.TotalPages != nil {
		resp.TotalPages = *st.Job.TotalPages
	}
	for _, p := range pages {
		if p.Status == jobs.StatusSuperseded {
			continue
		}
		resp.Pages = append(resp.Pages, pageEntry{
			PageNumber: p.PageNumber,
			JobID:      p.ID,
			Status:     string(p.Status),
			URL:        fmt.Sprintf("/jobs/%s/pages/%d/result", id, p.PageNumber),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePageStatus(w http.ResponseWriter, r *http.Request, ownerID string) {
	vars := mux.Vars(r)
	n, _ := strconv.Atoi(vars["n"])
	page, err := s.svc.GetPage(r.Context(), ownerID, vars["id"], n)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handlePageResult(w http.ResponseWriter, r *http.Request, ownerID string) {
	vars := mux.Vars(r)
	n, _ := strconv.Atoi(vars["n"])
	res, err := s.svc.GetPageResult(r.Context(), ownerID, vars["id"], n)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePageRetry(w http.ResponseWriter, r *http.Request, ownerID string) {
	vars := mux.Vars(r)
	n, _ := strconv.Atoi(vars["n"])
	replacement, err := s.svc.RetryPage(r.Context(), ownerID, vars["id"], n)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"new_job_id": replacement.ID})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request, ownerID string) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Delete(r.Context(), ownerID, id); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listResponse struct {
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Jobs     []jobs.Job `json:"jobs"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request, ownerID string) {
	q := r.URL.Query()
	f := store.ListFilter{
		Type:     jobs.Type(q.Get("job_type")),
		Status:   jobs.Status(q.Get("status")),
		Page:     intQuery(q.Get("page"), 1),
		PageSize: intQuery(q.Get("page_size"), 50),
	}
	page, err := s.svc.ListJobs(r.Context(), ownerID, f)
	if err != nil {
		fail(w, err)
		return
	}
	if page.Jobs == nil {
		page.Jobs = []jobs.Job{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Total:    page.Total,
		Page:     f.Page,
		PageSize: f.PageSize,
		Jobs:     page.Jobs,
	})
}

func intQuery(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	// Workers reflects the work queue the pool consumes; if it is down, no
	// worker makes progress.
	Workers string `json:"workers"`
}

// handleHealth reports ok when both backends answer, degraded otherwise. The
// endpoint itself always answers 200 so load balancers can read the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok", Workers: "ok"}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			resp.Store = "unreachable"
			resp.Status = "degraded"
		}
	}
	if s.queue != nil {
		if err := s.queue.Ping(r.Context()); err != nil {
			resp.Workers = "unreachable"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
