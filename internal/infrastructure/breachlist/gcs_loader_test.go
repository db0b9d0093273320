package breachlist_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/breachlist"
)

type captureStore struct {
	loaded string
	err    error
}

func (s *captureStore) Load(_ context.Context, r io.Reader) (int, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.loaded = string(b)
	if s.err != nil {
		return 0, s.err
	}
	return len(strings.Fields(s.loaded)), nil
}

type trackingReader struct {
	io.Reader
	closed bool
}

func (r *trackingReader) Close() error {
	r.closed = true
	return nil
}

func TestLoaderSync(t *testing.T) {
	logger, hook := test.NewNullLogger()
	src := &trackingReader{Reader: strings.NewReader("Password1\nWelcome1\n")}
	store := &captureStore{}
	l := breachlist.NewLoader(func(context.Context) (io.ReadCloser, error) { return src, nil }, store, logger)

	n, err := l.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "Password1\nWelcome1\n", store.loaded)
	assert.True(t, src.closed)
	assert.Equal(t, "breach list synced", hook.LastEntry().Message)
}

func TestLoaderSyncFailures(t *testing.T) {
	logger, _ := test.NewNullLogger()

	openErr := errors.New("bucket missing")
	l := breachlist.NewLoader(func(context.Context) (io.ReadCloser, error) { return nil, openErr }, &captureStore{}, logger)
	_, err := l.Sync(context.Background())
	assert.ErrorIs(t, err, openErr)

	src := &trackingReader{Reader: strings.NewReader("x")}
	storeErr := errors.New("redis down")
	l = breachlist.NewLoader(func(context.Context) (io.ReadCloser, error) { return src, nil }, &captureStore{err: storeErr}, logger)
	_, err = l.Sync(context.Background())
	assert.ErrorIs(t, err, storeErr)
	assert.True(t, src.closed)
}
