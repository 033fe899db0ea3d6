package convert

import (
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/local/docmill/internal/jobs"
)

// convertHTML converts an HTML document to markdown.
func convertHTML(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", jobs.Wrap(jobs.ErrConvertFailed, err, "read html")
	}
	conv := md.NewConverter("", true, nil)
	out, err := conv.ConvertString(string(b))
	if err != nil {
		return "", jobs.Wrap(jobs.ErrConvertFailed, err, "html to markdown")
	}
	return strings.TrimSpace(out), nil
}
