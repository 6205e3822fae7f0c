package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	uri, err := s.PutObject(context.Background(), "bundles/k/run.json", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	require.Equal(t, "memory://bundles/k/run.json", uri)

	obj, ok := s.Get("bundles/k/run.json")
	require.True(t, ok)
	obj.Data[0] = '['
	again, _ := s.Get("bundles/k/run.json")
	require.Equal(t, "{}", string(again.Data))
	require.Equal(t, "application/json", again.ContentType)
	require.Equal(t, []string{"bundles/k/run.json"}, s.Paths())

	_, ok = s.Get("missing")
	require.False(t, ok)
}
