package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// multipartThreshold is the payload size above which Put switches to the
// multipart upload manager. It matches the S3 minimum part size (5 MiB).
const multipartThreshold = 5 * 1024 * 1024

// Writer implements domain.BlobWriter against an S3-compatible backend.
// Archive batches are usually small enough for a single PutObject; large
// backfills transparently go through the multipart uploader.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer that uploads objects to the given client's
// configured bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put uploads data to the given key. Payloads that buffer past the
// multipart threshold are uploaded in concurrent parts.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	// Peek one byte past the threshold to decide the upload strategy
	// without buffering an unbounded stream.
	head := make([]byte, multipartThreshold+1)
	n, err := io.ReadFull(data, head)
	switch err {
	case nil:
		return w.putMultipart(ctx, path, io.MultiReader(bytes.NewReader(head[:n]), data), contentType)
	case io.ErrUnexpectedEOF, io.EOF:
		return w.putSingle(ctx, path, bytes.NewReader(head[:n]), contentType)
	default:
		return fmt.Errorf("s3blob: read payload for %s: %w", path, err)
	}
}

func (w *Writer) putSingle(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

func (w *Writer) putMultipart(ctx context.Context, path string, data io.Reader, contentType string) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = multipartThreshold
	})

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)
