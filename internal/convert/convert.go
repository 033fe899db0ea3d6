// Package convert turns a local document into markdown. The orchestrator
// treats this as a black box; format routing happens here based on magic-byte
// detection.
package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/local/docmill/internal/filetype"
	"github.com/local/docmill/internal/jobs"
)

// Output is one converted document or page.
type Output struct {
	Markdown string
	Metadata jobs.ResultMetadata
}

// Converter routes a document to the right backend by detected format.
type Converter struct{}

// New builds the default converter.
func New() *Converter { return &Converter{} }

// Convert converts the file at path to markdown. Unsupported formats fail
// with convert_failed.
func (c *Converter) Convert(ctx context.Context, path string, opts jobs.ConvertOptions) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	info, err := filetype.Detect(path)
	if err != nil {
		return Output{}, jobs.Wrap(jobs.ErrConvertFailed, err, "detect format")
	}
	if !info.Supported {
		return Output{}, jobs.Ef(jobs.ErrConvertFailed, "unsupported format %s", info.MIMEType)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return Output{}, jobs.Wrap(jobs.ErrConvertFailed, err, "stat source")
	}

	var markdown string
	var pages int
	switch info.Format {
	case "pdf":
		markdown, pages, err = convertPDF(path)
	case "html":
		markdown, err = convertHTML(path)
	case "txt", "markdown":
		markdown, err = readPlain(path)
	case "docx", "pptx", "xlsx", "rtf", "odt":
		// mupdf opens the office formats go-fitz was built with; anything it
		// rejects surfaces as convert_failed with the library's message.
		markdown, pages, err = convertPDF(path)
	default:
		return Output{}, jobs.Ef(jobs.ErrConvertFailed, "no converter for format %s", info.Format)
	}
	if err != nil {
		return Output{}, err
	}

	out := Output{
		Markdown: markdown,
		Metadata: jobs.ResultMetadata{
			Pages:     pages,
			Words:     countWords(markdown),
			SizeBytes: fi.Size(),
			Format:    info.Format,
			Title:     titleFromPath(path),
		},
	}
	return out, nil
}

func readPlain(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", jobs.Wrap(jobs.ErrConvertFailed, err, "read source")
	}
	return string(b), nil
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
