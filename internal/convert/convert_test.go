package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docmill/internal/jobs"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConvertPlainText(t *testing.T) {
	c := New()
	path := writeTemp(t, "notes.txt", "hello converted world\n")
	out, err := c.Convert(context.Background(), path, jobs.ConvertOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello converted world\n", out.Markdown)
	assert.Equal(t, 3, out.Metadata.Words)
	assert.Equal(t, "txt", out.Metadata.Format)
	assert.Equal(t, "notes", out.Metadata.Title)
	assert.EqualValues(t, len("hello converted world\n"), out.Metadata.SizeBytes)
}

func TestConvertHTML(t *testing.T) {
	c := New()
	path := writeTemp(t, "page.html",
		"<!DOCTYPE html><html><body><h1>Title</h1><p>Some <strong>bold</strong> text.</p></body></html>")
	out, err := c.Convert(context.Background(), path, jobs.ConvertOptions{})
	require.NoError(t, err)
	assert.Contains(t, out.Markdown, "# Title")
	assert.Contains(t, out.Markdown, "**bold**")
	assert.Equal(t, "html", out.Metadata.Format)
}

func TestConvertUnsupported(t *testing.T) {
	c := New()
	path := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0}, 0o644))
	_, err := c.Convert(context.Background(), path, jobs.ConvertOptions{})
	assert.Equal(t, jobs.ErrConvertFailed, jobs.KindOf(err))
}

func TestConvertHonorsContext(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Convert(ctx, writeTemp(t, "x.txt", "abc"), jobs.ConvertOptions{})
	assert.Error(t, err)
}

func TestNormalizePage(t *testing.T) {
	in := "line one   \n\n\n\nline two\t\n\n"
	assert.Equal(t, "line one\n\nline two", normalizePage(in))
}
