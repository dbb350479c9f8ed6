package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type scoreEvent struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

func (e scoreEvent) OrderingKey() string { return e.EntityID }
func (e scoreEvent) EventType() string   { return "entity.score_changed" }

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/test-project/topics/entity-scores"})
	require.NoError(t, err)
	return srv, client
}

func TestPublishAddsOrderingKeyAndAttributes(t *testing.T) {
	t.Parallel()

	srv, client := newTestClient(t)
	pub := New(client, "entity-scores")
	defer pub.Stop()

	id, err := pub.Publish(context.Background(), "", scoreEvent{EntityID: "e-1", Score: 102.5})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "e-1", msgs[0].OrderingKey)
	require.Equal(t, "entity.score_changed", msgs[0].Attributes["event_type"])

	var got scoreEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, scoreEvent{EntityID: "e-1", Score: 102.5}, got)
}

func TestPublishPlainPayload(t *testing.T) {
	t.Parallel()

	srv, client := newTestClient(t)
	pub := New(client, "")
	defer pub.Stop()

	_, err := pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "entity-scores", map[string]int{"n": 1})
	require.NoError(t, err)
	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Empty(t, msgs[0].OrderingKey)
	require.JSONEq(t, `{"n":1}`, string(msgs[0].Data))
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "t").Publish(context.Background(), "", 1)
	require.Error(t, err)
}

func TestCarrierRoundTrip(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
