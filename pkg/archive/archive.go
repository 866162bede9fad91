package archive

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	kitlog "github.com/go-kit/kit/log"
	gzip "github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adeverne/kiwiglider/pkg/deployment"
	"github.com/adeverne/kiwiglider/pkg/metrics"
)

var (
	// uploadCounter counts objects uploaded to the archive bucket.
	uploadCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "archive",
			Name:      "uploads_total",
			Help:      "Count of datasets uploaded to the archive",
		},
	)

	// uploadErrorCounter counts failed put attempts, including retried ones.
	uploadErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "archive",
			Name:      "upload_errors_total",
			Help:      "Count of failed archive put attempts",
		},
	)

	// uploadBytes counts compressed bytes shipped to the archive.
	uploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "archive",
			Name:      "upload_bytes_total",
			Help:      "Compressed bytes shipped to the archive",
		},
	)
)

func init() {
	metrics.MustRegister(uploadCounter)
	metrics.MustRegister(uploadErrorCounter)
	metrics.MustRegister(uploadBytes)
}

// Config carries the archive destination and retry policy.
type Config struct {
	// Bucket is the S3 bucket finalized datasets are published into.
	Bucket string

	// Prefix is the key prefix within the bucket, typically the operator's
	// DAC identifier.
	Prefix string

	// Region is the bucket's AWS region.
	Region string

	// Retries is how many put attempts to make before giving up. Zero means
	// the default of 5.
	Retries int

	// Timeout bounds each individual put attempt. Zero means 30 seconds.
	Timeout time.Duration
}

func (c *Config) retries() int {
	if c.Retries <= 0 {
		return 5
	}
	return c.Retries
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// Uploader is the interface the publish task talks to. The real implementation
// ships to S3; tests substitute a mock.
type Uploader interface {
	// Upload publishes the file at srcPath under the deployment's key space
	// and returns the object key it landed at.
	Upload(ctx context.Context, name string, mode deployment.Mode, srcPath string) (string, error)
}

// ObjectPutter is the slice of the S3 client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader publishes finalized datasets to an S3 bucket, gzip compressed,
// under <prefix>/<deployment>/<mode>/<file>.gz. Uploads retry with bounded
// exponential backoff and respect context cancellation between attempts. A
// failed publish never touches the local artefacts it was publishing.
type S3Uploader struct {
	config *Config
	client ObjectPutter
	logger kitlog.Logger
}

// New returns an uploader over an already constructed client. Tests use this
// to substitute a fake putter.
func New(config *Config, client ObjectPutter, logger kitlog.Logger) *S3Uploader {
	logger = kitlog.With(logger, "module", "archive")

	return &S3Uploader{
		config: config,
		client: client,
		logger: logger,
	}
}

// NewS3Uploader loads the ambient AWS configuration and returns an uploader
// over a real S3 client. SDK level retries are disabled; the uploader owns the
// retry policy so backoff behaviour is in one place.
func NewS3Uploader(ctx context.Context, config *Config, logger kitlog.Logger) (*S3Uploader, error) {
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aws configuration")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	return New(config, client, logger), nil
}

// Key returns the object key a file publishes under.
func (u *S3Uploader) Key(name string, mode deployment.Mode, srcPath string) string {
	return path.Join(u.config.Prefix, name, string(mode), filepath.Base(srcPath)+".gz")
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, name string, mode deployment.Mode, srcPath string) (string, error) {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", srcPath)
	}

	compressed, err := compress(raw)
	if err != nil {
		return "", errors.Wrapf(err, "failed to compress %s", srcPath)
	}

	key := u.Key(name, mode, srcPath)

	if err := u.putWithRetry(ctx, key, compressed); err != nil {
		return "", errors.Wrapf(err, "failed to upload %s", key)
	}

	uploadCounter.Inc()
	uploadBytes.Add(float64(len(compressed)))

	u.logger.Log(
		"bucket", u.config.Bucket,
		"key", key,
		"bytes", len(compressed),
		"msg", "uploaded dataset",
	)

	return key, nil
}

// putWithRetry attempts the put up to the configured retry count, doubling
// the backoff after each failure up to a two second ceiling. Cancellation is
// honoured both between attempts and during the backoff sleep.
func (u *S3Uploader) putWithRetry(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 0; attempt < u.config.retries(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := u.put(ctx, key, body); err == nil {
			return nil
		} else {
			lastErr = err
			uploadErrorCounter.Inc()
			u.logger.Log("key", key, "attempt", attempt+1, "err", err, "msg", "put attempt failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return lastErr
}

// put performs one bounded put attempt. The reader is rebuilt per attempt so
// a retried body always starts from the beginning.
func (u *S3Uploader) put(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, u.config.timeout())
	defer cancel()

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})

	return err
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}

	if _, err = w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}

	if err = w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
