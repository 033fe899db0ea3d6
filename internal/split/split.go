// Package split decomposes a PDF into single-page files for parallel
// conversion.
package split

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/docmill/internal/jobs"
)

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, jobs.Wrap(jobs.ErrSplitFailed, err, "pdf page count")
	}
	return n, nil
}

// Splitter implements the split contract on pdfcpu.
type Splitter struct{}

// New returns a pdfcpu-backed splitter.
func New() *Splitter { return &Splitter{} }

// PageCount reports how many pages the PDF at path has.
func (s *Splitter) PageCount(path string) (int, error) { return PageCount(path) }

// Split writes one PDF per page into dir, named page_0001.pdf onward, and
// returns the page files in order plus the total count. Encrypted or corrupt
// PDFs fail with split_failed.
func (s *Splitter) Split(ctx context.Context, pdfPath, dir string) ([]jobs.PageFile, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	total, err := PageCount(pdfPath)
	if err != nil {
		return nil, 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, 0, jobs.Wrap(jobs.ErrInternal, err, "create split dir")
	}

	pages := make([]jobs.PageFile, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		out := filepath.Join(dir, fmt.Sprintf("page_%04d.pdf", i))
		if err := api.TrimFile(pdfPath, out, []string{fmt.Sprintf("%d", i)}, nil); err != nil {
			return nil, 0, jobs.Wrap(jobs.ErrSplitFailed, err, fmt.Sprintf("extract page %d", i))
		}
		pages = append(pages, jobs.PageFile{Number: i, Path: out})
	}
	log.Info().Str("pdf", filepath.Base(pdfPath)).Int("pages", total).Msg("split pdf into pages")
	return pages, total, nil
}
