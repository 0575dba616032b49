package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quantfold/polyarb/internal/domain"
)

// S3 rejects multipart parts below 5 MiB, except the final one.
const minPartSize int64 = 5 << 20

// Writer uploads objects into the client's bucket.
type Writer struct {
	s3     *s3.Client
	bucket string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter returns a Writer backed by c.
func NewWriter(c *Client) *Writer {
	return &Writer{s3: c.S3(), bucket: c.Bucket()}
}

// Put streams the payload as a single PutObject call. Archive batches stay
// well under the single-request ceiling, so this is the common path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &w.bucket,
		Key:         &path,
		Body:        data,
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart hands the payload to the SDK upload manager, which splits it
// into concurrently uploaded parts of partSize bytes. Sizes below the S3
// minimum are raised to it.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	up := manager.NewUploader(w.s3, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})

	if _, err := up.Upload(ctx, &s3.PutObjectInput{
		Bucket: &w.bucket,
		Key:    &path,
		Body:   data,
	}); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}
