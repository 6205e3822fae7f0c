package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/notify"
	"github.com/JakeFAU/dossier-crawler/internal/publisher/memory"
)

func TestCompletedPublishesNotice(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	n, err := notify.New(pub, "dossier-complete", nil)
	require.NoError(t, err)

	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	id, err := n.Completed(context.Background(), notify.Notice{
		RunID:      "r1",
		CacheKey:   "k1",
		Sources:    []string{"https://a.example"},
		Successful: 1,
		Timestamp:  ts,
	})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "dossier-complete", msgs[0].Topic)
	require.Equal(t, "r1", msgs[0].Attributes["run_id"])
	require.Equal(t, "k1", msgs[0].Attributes["cache_key"])

	var got notify.Notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, []string{"https://a.example"}, got.Sources)
	require.True(t, ts.Equal(got.Timestamp))
}

func TestNewRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := notify.New(nil, "t", nil)
	require.Error(t, err)
}
