package breachlist

import (
	"context"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
)

// Store receives the parsed list.
type Store interface {
	Load(ctx context.Context, r io.Reader) (int, error)
}

// OpenFunc opens the source object.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// GCSObject opens bucket/object from Cloud Storage.
func GCSObject(client *storage.Client, bucket, object string) OpenFunc {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return helpers.OpenObject(ctx, client, bucket, object)
	}
}

// Loader copies the breach list from object storage into the shared store.
type Loader struct {
	open   OpenFunc
	store  Store
	logger *logrus.Logger
}

func NewLoader(open OpenFunc, store Store, logger *logrus.Logger) *Loader {
	return &Loader{open: open, store: store, logger: logger}
}

// Sync loads the list once.
func (l *Loader) Sync(ctx context.Context) (int, error) {
	rc, err := l.open(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()
	start := time.Now()
	n, err := l.store.Load(ctx, rc)
	if err != nil {
		return n, err
	}
	l.logger.WithFields(logrus.Fields{"entries": n, "took": time.Since(start).String()}).Info("breach list synced")
	return n, nil
}

// Run syncs every interval until ctx is done. Failures are logged and the
// previous list stays in place.
func (l *Loader) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := l.Sync(ctx); err != nil {
				l.logger.WithError(err).Warn("breach list sync failed")
			}
		}
	}
}
