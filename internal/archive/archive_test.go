package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/storage/memory"
)

type brokenStore struct{}

func (brokenStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestStoreWritesUnderCacheKey(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	a, err := New(blobs, Config{Prefix: "/dossiers/"}, nil)
	require.NoError(t, err)

	uri, err := a.Store(context.Background(), "abc123", "run-1", []byte(`{"run_id":"run-1"}`))
	require.NoError(t, err)
	require.Equal(t, "memory://dossiers/abc123/run-1.json", uri)

	obj, ok := blobs.Get("dossiers/abc123/run-1.json")
	require.True(t, ok)
	require.Equal(t, "application/json", obj.ContentType)
	require.JSONEq(t, `{"run_id":"run-1"}`, string(obj.Data))
}

func TestObjectPathRejectsTraversal(t *testing.T) {
	t.Parallel()

	a, err := New(memory.NewBlobStore(), Config{}, nil)
	require.NoError(t, err)

	p, err := a.ObjectPath("key", "run")
	require.NoError(t, err)
	require.Equal(t, "bundles/key/run.json", p)

	for _, bad := range [][2]string{{"", "run"}, {"key", ""}, {"../etc", "run"}, {"key", "a/b"}, {"..", "run"}} {
		_, err := a.ObjectPath(bad[0], bad[1])
		require.Error(t, err, "%q/%q", bad[0], bad[1])
	}
}

func TestStoreWrapsBackendError(t *testing.T) {
	t.Parallel()

	a, err := New(brokenStore{}, Config{}, nil)
	require.NoError(t, err)
	_, err = a.Store(context.Background(), "key", "run", []byte("{}"))
	require.ErrorContains(t, err, "bucket gone")
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
}
