// Package source downloads the indexed document from remote storage into
// the local path the index is built from.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/docqa/internal/config"
)

// objectGetter is the subset of the S3 client used here.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 keeps a local copy of one S3 object current. The object's ETag is
// stored next to the copy so unchanged objects are not downloaded again.
type S3 struct {
	client objectGetter
	bucket string
	key    string
	dest   string
}

// NewS3 creates a source for cfg that writes to dest.
func NewS3(awsCfg aws.Config, cfg config.S3SourceConfig, dest string) (*S3, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	key := strings.TrimPrefix(strings.TrimSpace(cfg.Key), "/")
	if bucket == "" || key == "" {
		return nil, errors.New("s3 source: bucket and key are required")
	}
	if strings.TrimSpace(dest) == "" {
		return nil, errors.New("s3 source: destination path is required")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3{client: client, bucket: bucket, key: key, dest: dest}, nil
}

// URI returns the object location.
func (s *S3) URI() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func (s *S3) etagPath() string {
	return s.dest + ".etag"
}

// Fetch downloads the object when it differs from the local copy and
// reports whether the local file changed.
func (s *S3) Fetch(ctx context.Context) (bool, error) {
	input := &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key)}
	if etag, err := os.ReadFile(s.etagPath()); err == nil {
		if _, statErr := os.Stat(s.dest); statErr == nil && len(etag) > 0 {
			input.IfNoneMatch = aws.String(string(etag))
		}
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		if notModified(err) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", s.URI(), err)
	}
	defer out.Body.Close()

	if err := s.write(out.Body); err != nil {
		return false, err
	}
	if etag := aws.ToString(out.ETag); etag != "" {
		if err := os.WriteFile(s.etagPath(), []byte(etag), 0o644); err != nil {
			return true, fmt.Errorf("record etag: %w", err)
		}
	}
	return true, nil
}

// write replaces dest atomically so a concurrent index build never reads a
// partial file.
func (s *S3) write(body io.Reader) error {
	dir := filepath.Dir(s.dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", s.URI(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.dest); err != nil {
		return fmt.Errorf("replace %s: %w", s.dest, err)
	}
	return nil
}

func notModified(err error) bool {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotModified {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotModified"
}
