package helpers

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// NewGCSClient creates a Google Cloud Storage client. If credsPath is empty, ADC is used.
func NewGCSClient(ctx context.Context, credsPath string) (*storage.Client, error) {
	if credsPath == "" {
		return storage.NewClient(ctx)
	}
	return storage.NewClient(ctx, option.WithCredentialsFile(credsPath))
}

// OpenObject opens bucket/objectPath for reading. The caller closes the reader.
func OpenObject(ctx context.Context, client *storage.Client, bucket, objectPath string) (io.ReadCloser, error) {
	return client.Bucket(bucket).Object(objectPath).NewReader(ctx)
}
