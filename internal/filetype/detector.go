package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Info contains detected file type information.
type Info struct {
	MIMEType  string
	Extension string
	Format    string // short format name: pdf, docx, html, ...
	Supported bool
}

// IsPDF reports whether the detected type is a PDF document.
func (i *Info) IsPDF() bool { return i.MIMEType == "application/pdf" }

// supported maps MIME types to the short format names the converter accepts.
var supported = map[string]string{
	"application/pdf": "pdf",
	"text/html":       "html",
	"text/plain":      "txt",
	"text/markdown":   "markdown",
	"application/rtf": "rtf",
	"text/rtf":        "rtf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.oasis.opendocument.text":                                   "odt",
}

// zipOverrides re-labels ZIP containers by extension. Modern Office formats
// are ZIP files with a specific internal structure, so magic bytes alone say
// "application/zip".
var zipOverrides = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".odt":  "application/vnd.oasis.opendocument.text",
}

// Detect detects the actual file type using magic bytes, not filename.
func Detect(filePath string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("detect file type: %w", err)
	}

	mimeType := stripParams(mtype.String())
	extension := mtype.Extension()

	if mimeType == "application/zip" || strings.Contains(mimeType, "application/x-zip") {
		ext := strings.ToLower(filepath.Ext(filePath))
		if override, ok := zipOverrides[ext]; ok {
			log.Debug().Str("ext", ext).Str("override", override).Msg("re-labeling ZIP container by extension")
			mimeType = override
			extension = ext
		}
	}

	format, ok := supported[mimeType]
	info := &Info{
		MIMEType:  mimeType,
		Extension: extension,
		Format:    format,
		Supported: ok,
	}
	log.Debug().Str("mime", mimeType).Str("format", format).Str("file", filepath.Base(filePath)).Msg("detected file type")
	return info, nil
}

// AllowedExt reports whether a filename extension belongs to a format this
// service converts. Used for the cheap pre-upload check; Detect remains the
// authority once bytes are on disk.
func AllowedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".docx", ".html", ".htm", ".pptx", ".xlsx", ".rtf", ".odt", ".txt", ".md":
		return true
	}
	return false
}

func stripParams(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		return strings.TrimSpace(mime[:i])
	}
	return mime
}
