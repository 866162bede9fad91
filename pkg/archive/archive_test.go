package archive_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	kitlog "github.com/go-kit/kit/log"
	gzip "github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeverne/kiwiglider/pkg/archive"
	"github.com/adeverne/kiwiglider/pkg/deployment"
)

// fakePutter records puts and can be told to fail the first n attempts.
type fakePutter struct {
	failures int
	calls    int
	bucket   string
	key      string
	body     []byte
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("simulated put failure")
	}

	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.bucket = *params.Bucket
	f.key = *params.Key
	f.body = body

	return &s3.PutObjectOutput{}, nil
}

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "GLD0040.kgd")
	require.Nil(t, os.WriteFile(path, []byte("finalized dataset bytes"), 0644))
	return path
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	src := writeDataset(t, dir)

	putter := &fakePutter{}
	uploader := archive.New(&archive.Config{
		Bucket: "glider-archive",
		Prefix: "dac",
	}, putter, kitlog.NewNopLogger())

	key, err := uploader.Upload(context.Background(), "GLD0040", deployment.Realtime, src)
	require.Nil(t, err)

	assert.Equal(t, "dac/GLD0040/realtime/GLD0040.kgd.gz", key)
	assert.Equal(t, "glider-archive", putter.bucket)
	assert.Equal(t, key, putter.key)

	// body round trips through gzip back to the original bytes
	r, err := gzip.NewReader(bytes.NewReader(putter.body))
	require.Nil(t, err)
	decompressed, err := io.ReadAll(r)
	require.Nil(t, err)
	assert.Equal(t, []byte("finalized dataset bytes"), decompressed)
}

func TestUploadRetriesUntilSuccess(t *testing.T) {
	dir := t.TempDir()
	src := writeDataset(t, dir)

	putter := &fakePutter{failures: 2}
	uploader := archive.New(&archive.Config{
		Bucket:  "glider-archive",
		Prefix:  "dac",
		Retries: 5,
	}, putter, kitlog.NewNopLogger())

	_, err := uploader.Upload(context.Background(), "GLD0040", deployment.Delayed, src)
	require.Nil(t, err)

	assert.Equal(t, 3, putter.calls)
}

func TestUploadGivesUpAfterRetries(t *testing.T) {
	dir := t.TempDir()
	src := writeDataset(t, dir)

	putter := &fakePutter{failures: 100}
	uploader := archive.New(&archive.Config{
		Bucket:  "glider-archive",
		Retries: 2,
	}, putter, kitlog.NewNopLogger())

	_, err := uploader.Upload(context.Background(), "GLD0040", deployment.Delayed, src)
	require.NotNil(t, err)

	assert.Equal(t, 2, putter.calls)
	assert.Contains(t, err.Error(), "simulated put failure")
}

func TestUploadHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	src := writeDataset(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	putter := &fakePutter{failures: 100}
	uploader := archive.New(&archive.Config{
		Bucket:  "glider-archive",
		Retries: 50,
	}, putter, kitlog.NewNopLogger())

	started := time.Now()
	_, err := uploader.Upload(ctx, "GLD0040", deployment.Realtime, src)
	require.NotNil(t, err)

	// cancellation short circuits the retry loop rather than sleeping it out
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestUploadMissingFile(t *testing.T) {
	uploader := archive.New(&archive.Config{Bucket: "glider-archive"}, &fakePutter{}, kitlog.NewNopLogger())

	_, err := uploader.Upload(context.Background(), "GLD0040", deployment.Realtime, "/does/not/exist.kgd")
	require.NotNil(t, err)
}
