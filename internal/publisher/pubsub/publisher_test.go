package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(context.Background(), "tracker-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "snapshots")
	require.NoError(t, err)

	pub, err := New(client, map[string]string{"source": "follower-tracker"})
	require.NoError(t, err)
	defer pub.Close()

	id, err := pub.Publish(ctx, "snapshots", map[string]any{"channel_id": "ch-1", "follower_count": 10})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "follower-tracker", msgs[0].Attributes["source"])
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "ch-1", decoded["channel_id"])
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newTestClient(t)
	pub, err := New(client, nil)
	require.NoError(t, err)
	defer pub.Close()

	_, err = pub.Publish(ctx, " ", "x")
	require.Error(t, err)

	_, err = pub.Publish(ctx, "snapshots", func() {})
	require.Error(t, err)

	_, err = pub.Publish(ctx, "missing-topic", "x")
	require.Error(t, err)

	_, err = New(nil, nil)
	require.Error(t, err)
}
