package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishDeliversJSON(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "corpus-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.CreateTopic(ctx, "chunks")
	require.NoError(t, err)

	pub, err := New(client, map[string]string{"source": "corpus-refinery"})
	require.NoError(t, err)
	defer pub.Close()

	id, err := pub.Publish(ctx, "chunks", map[string]int{"chunks": 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]int
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, 3, got["chunks"])
	require.Equal(t, "corpus-refinery", msgs[0].Attributes["source"])

	_, err = pub.Publish(ctx, "", nil)
	require.Error(t, err)
	_, err = pub.Publish(ctx, "chunks", func() {})
	require.ErrorContains(t, err, "marshal payload")
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	require.Error(t, err)
}
