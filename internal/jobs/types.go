package jobs

import (
	"time"
)

// Type identifies a node in the job tree.
type Type string

const (
	TypeMain  Type = "main"
	TypeSplit Type = "split"
	TypePage  Type = "page"
	TypeMerge Type = "merge"
)

// Status is the lifecycle state of a job. Superseded is reachable only from
// failed page jobs that were replaced by a retry; the old record is kept for
// history and excluded from fan-in.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusSuperseded Status = "superseded"
)

// Terminal reports whether s allows no further transition (except explicit
// page retry, which replaces the record rather than transitioning it).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSuperseded:
		return true
	}
	return false
}

// SourceType enumerates where a document comes from.
type SourceType string

const (
	SourceFile SourceType = "file"
	SourceURL  SourceType = "url"
	SourceS3   SourceType = "s3"
)

// SourceSpec describes the document to fetch. For SourceFile Ref is a local
// path already written by the upload handler; for SourceURL an http(s) URL;
// for SourceS3 an s3://bucket/key reference.
type SourceSpec struct {
	Type SourceType `json:"type"`
	Ref  string     `json:"ref"`
	Name string     `json:"name,omitempty"`
}

// ConvertOptions are passed through to the converter.
type ConvertOptions struct {
	Format          string `json:"format,omitempty"`
	IncludeImages   bool   `json:"include_images,omitempty"`
	PreserveTables  bool   `json:"preserve_tables,omitempty"`
	ExtractMetadata bool   `json:"extract_metadata,omitempty"`
}

// DocumentInfo is derived once from the fetched source file.
type DocumentInfo struct {
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Filename  string `json:"filename,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
}

// ChildJobs holds the main job's authoritative child membership. The page
// list contains every page job ever created for the parent, including
// retried replacements.
type ChildJobs struct {
	SplitJobID string   `json:"split_job_id,omitempty"`
	PageJobIDs []string `json:"page_job_ids,omitempty"`
	MergeJobID string   `json:"merge_job_id,omitempty"`
}

// Job is the single record shape for all four job kinds. Kind-specific fields
// are zero for kinds they do not apply to; serialization happens only at the
// state-store boundary.
type Job struct {
	ID       string `json:"job_id"`
	OwnerID  string `json:"owner_id"`
	Type     Type   `json:"type"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Name     string `json:"name,omitempty"`
	Error    string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Child jobs only.
	ParentID string `json:"parent_job_id,omitempty"`

	// Page jobs only.
	PageNumber   int    `json:"page_number,omitempty"`
	PageFilePath string `json:"page_file_path,omitempty"`
	CharCount    int    `json:"char_count,omitempty"`

	// Main jobs only. TotalPages stays nil until the split step completes.
	TotalPages *int           `json:"total_pages,omitempty"`
	Children   ChildJobs      `json:"child_jobs,omitempty"`
	Document   *DocumentInfo  `json:"document_info,omitempty"`
	Source     *SourceSpec    `json:"source,omitempty"`
	Options    ConvertOptions `json:"options,omitempty"`
}

// PageError records a failed page in an aggregated result.
type PageError struct {
	PageNumber int    `json:"page_number"`
	Error      string `json:"error"`
}

// ResultMetadata aggregates converter metadata.
type ResultMetadata struct {
	Pages      int         `json:"pages,omitempty"`
	Words      int         `json:"words"`
	SizeBytes  int64       `json:"size_bytes"`
	Format     string      `json:"format"`
	Title      string      `json:"title,omitempty"`
	Author     string      `json:"author,omitempty"`
	PageErrors []PageError `json:"per_page_errors,omitempty"`
}

// Result is stored only for main and page jobs, and only once the owning job
// is completed.
type Result struct {
	JobID     string         `json:"job_id"`
	Markdown  string         `json:"markdown"`
	Metadata  ResultMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// PageFile is one page produced by the splitter, 1-based.
type PageFile struct {
	Number int
	Path   string
}
