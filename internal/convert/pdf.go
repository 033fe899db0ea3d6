package convert

import (
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/docmill/internal/jobs"
)

// convertPDF extracts text page by page via mupdf and emits it as markdown
// with page separators. Returns the page count alongside the text.
func convertPDF(path string) (string, int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", 0, jobs.Wrap(jobs.ErrConvertFailed, err, "open document")
	}
	defer doc.Close()

	total := doc.NumPage()
	var b strings.Builder
	for i := 0; i < total; i++ {
		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Str("file", path).Msg("page text extraction failed")
			continue
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(normalizePage(text))
	}
	return b.String(), total, nil
}

// normalizePage trims trailing whitespace per line and collapses runs of
// blank lines, which mupdf emits generously around columns.
func normalizePage(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
