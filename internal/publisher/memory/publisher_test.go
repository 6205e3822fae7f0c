package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/notify"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), notify.Message{Topic: "a", Data: []byte("1"), Attributes: map[string]string{"k": "v"}})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), notify.Message{Topic: "b", Data: []byte("2")})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "a", msgs[0].Topic)

	msgs[0].Topic = "modified"
	msgs[0].Attributes["k"] = "changed"
	require.Equal(t, "a", pub.Messages()[0].Topic)
	require.Equal(t, "v", pub.Messages()[0].Attributes["k"])
}

func TestPublisherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, notify.Message{Topic: "a"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, New().Messages())
}
