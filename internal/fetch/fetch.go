// Package fetch materializes a SourceSpec as a local file. Supported sources:
// already-local uploads, http(s) URLs and s3://bucket/key references.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/local/docmill/internal/jobs"
)

// Fetcher downloads conversion sources into a job's temp directory.
type Fetcher struct {
	maxBytes int64
	client   *http.Client
}

// New builds a Fetcher enforcing the given size limit on remote sources.
func New(maxFileSizeMB int) *Fetcher {
	return &Fetcher{
		maxBytes: int64(maxFileSizeMB) << 20,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

// Fetch resolves src into a file under destDir and returns its path.
func (f *Fetcher) Fetch(ctx context.Context, src jobs.SourceSpec, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", jobs.Wrap(jobs.ErrInternal, err, "create job temp dir")
	}
	switch src.Type {
	case jobs.SourceFile:
		return f.fetchLocal(src.Ref)
	case jobs.SourceURL:
		return f.fetchURL(ctx, src.Ref, destDir)
	case jobs.SourceS3:
		return f.fetchS3(ctx, src.Ref, destDir)
	default:
		return "", jobs.Ef(jobs.ErrValidation, "unknown source type %q", src.Type)
	}
}

func (f *Fetcher) fetchLocal(ref string) (string, error) {
	fi, err := os.Stat(ref)
	if err != nil {
		return "", jobs.Wrap(jobs.ErrFetchFailed, err, "uploaded file missing")
	}
	if fi.IsDir() {
		return "", jobs.Ef(jobs.ErrValidation, "source %s is a directory", ref)
	}
	return ref, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, rawURL, destDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", jobs.Ef(jobs.ErrValidation, "source URL must be http(s): %s", rawURL)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "downloaded_file"
	}
	dest := filepath.Join(destDir, name)

	err = retry.Do(
		func() error { return f.downloadOnce(ctx, rawURL, dest) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return jobs.KindOf(err) != jobs.ErrValidation }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if jobs.KindOf(err) == jobs.ErrValidation {
			return "", err
		}
		return "", jobs.Wrap(jobs.ErrFetchFailed, err, "download from url")
	}
	log.Info().Str("url", rawURL).Str("dest", dest).Msg("downloaded source")
	return dest, nil
}

func (f *Fetcher) downloadOnce(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return err
	}
	if n > f.maxBytes {
		os.Remove(dest)
		return jobs.Ef(jobs.ErrValidation, "remote file exceeds %d bytes", f.maxBytes)
	}
	return nil
}

// splitS3Ref splits s3://bucket/key.
func splitS3Ref(ref string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(ref, "s3://")
	if trimmed == ref {
		return "", "", jobs.Ef(jobs.ErrValidation, "not an s3 reference: %s", ref)
	}
	slash := strings.Index(trimmed, "/")
	if slash <= 0 || slash == len(trimmed)-1 {
		return "", "", jobs.Ef(jobs.ErrValidation, "invalid s3 reference: %s", ref)
	}
	return trimmed[:slash], trimmed[slash+1:], nil
}
