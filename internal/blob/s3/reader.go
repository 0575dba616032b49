package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/quantfold/polyarb/internal/domain"
)

// Reader retrieves archive objects from the client's bucket.
type Reader struct {
	s3     *s3.Client
	bucket string
}

var _ domain.BlobReader = (*Reader)(nil)

// NewReader returns a Reader backed by c.
func NewReader(c *Client) *Reader {
	return &Reader{s3: c.S3(), bucket: c.Bucket()}
}

// Get returns the object body. The caller closes the returned reader.
// A missing object maps to domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: &r.bucket, Key: &path})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// Exists reports whether an object is stored at the given path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &r.bucket, Key: &path})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
}

// isNotFound reports whether err means the object does not exist. GetObject
// raises NoSuchKey; HeadObject raises a bare 404, which some S3-compatible
// providers only surface through the HTTP status.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
	)
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
