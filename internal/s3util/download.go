// Package s3util fetches source videos stored in S3 for local processing.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ErrTooLarge is returned when an object exceeds the caller's size ceiling.
var ErrTooLarge = errors.New("object exceeds size limit")

// ObjectGetter is the subset of the S3 client used for downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// IsURI reports whether s uses the s3:// scheme.
func IsURI(s string) bool {
	return strings.HasPrefix(s, "s3://")
}

// ParseURI splits s3://bucket/key into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 URI: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an S3 URI: %s", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("S3 URI must be s3://bucket/key: %s", uri)
	}
	return u.Host, key, nil
}

// Object describes a downloaded file.
type Object struct {
	Path        string
	SizeBytes   int64
	ContentType string
}

// DownloadToDir downloads the object at uri into dir, keeping the key's base
// name. Objects larger than maxBytes are rejected and the partial file removed.
func DownloadToDir(ctx context.Context, client ObjectGetter, uri, dir string, maxBytes int64) (*Object, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Str("dir", dir).Msg("Downloading from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	if result.ContentLength != nil && maxBytes > 0 && *result.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, *result.ContentLength, maxBytes)
	}

	localPath := filepath.Join(dir, path.Base(key))
	f, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	var body io.Reader = result.Body
	if maxBytes > 0 {
		body = io.LimitReader(result.Body, maxBytes+1)
	}
	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && maxBytes > 0 && n > maxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	if err != nil {
		os.Remove(localPath)
		return nil, fmt.Errorf("download: %w", err)
	}

	log.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int64("size_bytes", n).
		Msg("Downloaded video from S3")

	return &Object{
		Path:        localPath,
		SizeBytes:   n,
		ContentType: aws.ToString(result.ContentType),
	}, nil
}
