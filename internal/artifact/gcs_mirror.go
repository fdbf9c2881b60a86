package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSMirror copies artifacts to a Google Cloud Storage bucket. Grounded on
// the teacher's internal/storage.GCSUploader, adapted from a synchronous
// signed-URL uploader into a fire-and-forget Mirror.
type GCSMirror struct {
	client *storage.Client
	bucket string
}

// NewGCSMirror creates a GCSMirror for the given bucket. opts are passed
// through to the underlying client for credential injection in tests.
func NewGCSMirror(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSMirror, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to create GCS client: %w", err)
	}
	return &GCSMirror{client: client, bucket: bucket}, nil
}

// Mirror uploads data to objectName under the configured bucket.
func (m *GCSMirror) Mirror(ctx context.Context, objectName string, data []byte, contentType string) error {
	obj := m.client.Bucket(m.bucket).Object(objectName)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("artifact: mirror write failed for %q: %w", objectName, err)
	}
	return w.Close()
}
