package janitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)

	// stale job scratch dir
	staleJob := filepath.Join(dir, "job-old")
	require.NoError(t, os.MkdirAll(staleJob, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staleJob, "page_0001.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(staleJob, old, old))

	// fresh job scratch dir
	freshJob := filepath.Join(dir, "job-new")
	require.NoError(t, os.MkdirAll(freshJob, 0o755))

	// uploads swept file by file
	uploads := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(uploads, 0o755))
	staleUpload := filepath.Join(uploads, "a_old.pdf")
	require.NoError(t, os.WriteFile(staleUpload, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(staleUpload, old, old))
	freshUpload := filepath.Join(uploads, "b_new.pdf")
	require.NoError(t, os.WriteFile(freshUpload, []byte("x"), 0o644))

	j := New(dir, time.Hour)
	removed := j.Sweep()
	assert.Equal(t, 2, removed)

	_, err := os.Stat(staleJob)
	assert.True(t, os.IsNotExist(err), "stale job dir removed")
	_, err = os.Stat(freshJob)
	assert.NoError(t, err, "fresh job dir kept")
	_, err = os.Stat(staleUpload)
	assert.True(t, os.IsNotExist(err), "stale upload removed")
	_, err = os.Stat(freshUpload)
	assert.NoError(t, err, "fresh upload kept")
	_, err = os.Stat(uploads)
	assert.NoError(t, err, "uploads dir itself kept")
}

func TestSweepMissingDir(t *testing.T) {
	j := New(filepath.Join(t.TempDir(), "does-not-exist"), time.Hour)
	assert.Zero(t, j.Sweep())
}
