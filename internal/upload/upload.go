// Package upload copies finished archives to S3-compatible object storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/logging"
	"github.com/stackinspector/teo-utils/internal/retry"
)

// DigestMetadataKey holds the BLAKE3 digest of the archive in object
// metadata.
const DigestMetadataKey = "blake3"

// S3API is the subset of the S3 client the uploader needs.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the S3 client.
type Options struct {
	Region string
	// Endpoint overrides the service endpoint for S3-compatible stores.
	Endpoint  string
	PathStyle bool
}

// NewS3Client loads the default AWS credential chain and builds a client.
func NewS3Client(ctx context.Context, opts Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Retries are done by Uploader so the file can be rewound.
		o.RetryMaxAttempts = 1
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// Uploader puts archive files into a bucket under a key prefix.
type Uploader struct {
	Client S3API
	Bucket string
	Prefix string
	Retry  retry.Policy
	// Timeout bounds each PutObject attempt. Zero means no limit.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Key returns the object key for a local archive path.
func (u *Uploader) Key(p string) string {
	return path.Join(strings.Trim(u.Prefix, "/"), filepath.Base(p))
}

// Upload copies the file at p unless an object with the same key already
// exists, in which case skipped is true. digest, when set, is stored as
// object metadata.
func (u *Uploader) Upload(ctx context.Context, p, digest string) (key string, skipped bool, err error) {
	key = u.Key(p)
	logger := logging.OrNop(u.Logger).With(logging.Bucket(u.Bucket), logging.Key(key))

	exists, err := u.exists(ctx, key)
	if err != nil {
		return key, false, err
	}
	if exists {
		logger.Info("object already present, skipping upload")
		return key, true, nil
	}

	f, err := os.Open(p)
	if err != nil {
		return key, false, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return key, false, fmt.Errorf("stat archive: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.Bucket),
		Key:           aws.String(key),
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(p)),
	}
	if digest != "" {
		input.Metadata = map[string]string{DigestMetadataKey: digest}
	}

	err = u.Retry.Do(ctx, func(attempt int) error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return retry.Permanent(fmt.Errorf("rewind archive: %w", err))
		}
		input.Body = f

		putCtx := ctx
		if u.Timeout > 0 {
			var cancel context.CancelFunc
			putCtx, cancel = context.WithTimeout(ctx, u.Timeout)
			defer cancel()
		}
		if _, err := u.Client.PutObject(putCtx, input); err != nil {
			logger.Warn("put object failed", logging.Attempt(attempt), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return key, false, fmt.Errorf("put object %s: %w", key, err)
	}

	logger.Info("archive uploaded", logging.Bytes(info.Size()))
	return key, false, nil
}

func (u *Uploader) exists(ctx context.Context, key string) (bool, error) {
	_, err := u.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s: %w", key, err)
}

func contentType(p string) string {
	switch {
	case strings.HasSuffix(p, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(p, ".zst"):
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}
