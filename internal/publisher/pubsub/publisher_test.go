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

func newTestTopic(t *testing.T) (*pubsub.Topic, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "crawl-runs")
	require.NoError(t, err)
	return topic, srv
}

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	topic, srv := newTestTopic(t)
	pub := New(topic)
	defer pub.Stop()

	id, err := pub.Publish(context.Background(), "crawl.completed", map[string]any{"run_id": "run-1", "processed": 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl.completed", msgs[0].Attributes["event"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "run-1", decoded["run_id"])
	require.InDelta(t, 3, decoded["processed"], 0)
}

func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "x", "payload")
	require.Error(t, err)
}

func TestPublisherRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	topic, _ := newTestTopic(t)
	pub := New(topic)
	defer pub.Stop()

	_, err := pub.Publish(context.Background(), "x", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
