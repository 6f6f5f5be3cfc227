package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "runs-a", map[string]string{"k": "v"}, map[string]string{"state": "exhausted"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "runs-b", "payload", nil)
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "runs-a", msgs[0].Topic)
	require.Equal(t, "exhausted", msgs[0].Attributes["state"])
	require.Equal(t, "runs-b", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "runs-a", pub.Messages()[0].Topic, "Messages() returns a copy")
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("broker down"))
	_, err := pub.Publish(context.Background(), "runs", "x", nil)
	require.EqualError(t, err, "broker down")
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "runs", "x", nil)
	require.NoError(t, err)
}
