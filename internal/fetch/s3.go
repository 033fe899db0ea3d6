package fetch

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/docmill/internal/jobs"
)

func (f *Fetcher) fetchS3(ctx context.Context, ref, destDir string) (string, error) {
	bucket, key, err := splitS3Ref(ref)
	if err != nil {
		return "", err
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return "", jobs.Wrap(jobs.ErrFetchFailed, err, "load aws config")
	}
	cli := s3.NewFromConfig(cfg)

	head, err := cli.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return "", jobs.Wrap(jobs.ErrFetchFailed, err, "head s3 object")
	}
	if head.ContentLength != nil && *head.ContentLength > f.maxBytes {
		return "", jobs.Ef(jobs.ErrValidation, "s3 object exceeds %d bytes", f.maxBytes)
	}

	dest := filepath.Join(destDir, path.Base(key))
	out, err := os.Create(dest)
	if err != nil {
		return "", jobs.Wrap(jobs.ErrInternal, err, "create temp file")
	}
	defer out.Close()

	dl := manager.NewDownloader(cli)
	n, err := dl.Download(ctx, out, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		os.Remove(dest)
		return "", jobs.Wrap(jobs.ErrFetchFailed, err, "download s3 object")
	}
	log.Info().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Msg("downloaded s3 source")
	return dest, nil
}
