package jobs

import "encoding/json"

// WorkKind tags a queue work item.
type WorkKind string

const (
	KindConvertWhole WorkKind = "convert_whole"
	KindSplitPDF     WorkKind = "split_pdf"
	KindConvertPage  WorkKind = "convert_page"
	KindMergePages   WorkKind = "merge_pages"
	KindRetryPage    WorkKind = "retry_page"
)

// WorkItem is the envelope carried on the queue. Unused fields are omitted
// per kind; Attempt starts at 1 and is bumped by the dispatcher on redelivery.
type WorkItem struct {
	Kind    WorkKind `json:"kind"`
	MainID  string   `json:"main_id"`
	Attempt int      `json:"attempt"`

	// convert_whole
	Source  *SourceSpec    `json:"source,omitempty"`
	Options ConvertOptions `json:"options,omitempty"`

	// split_pdf
	LocalPath string `json:"local_path,omitempty"`

	// convert_page / retry_page
	PageJobID  string `json:"page_job_id,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
	PagePath   string `json:"page_path,omitempty"`
	// retry_page only: the superseded record, kept for traceability.
	OriginalPageJobID string `json:"original_page_job_id,omitempty"`
}

// Encode marshals the item for the queue.
func (w WorkItem) Encode() []byte {
	b, _ := json.Marshal(w)
	return b
}

// DecodeWorkItem parses a queue payload.
func DecodeWorkItem(data []byte) (WorkItem, error) {
	var w WorkItem
	err := json.Unmarshal(data, &w)
	return w, err
}
