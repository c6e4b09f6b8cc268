package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	pubmemory "github.com/JakeFAU/corpus-refinery/internal/publisher/memory"
	"github.com/JakeFAU/corpus-refinery/internal/storage/memory"
)

func sampleDelivery() corpus.Delivery {
	header := "Bewerbung"
	return corpus.Delivery{
		ID:          "0192f0c4-aaaa-7bbb-8ccc-000000000001",
		URL:         "https://uni.example/bewerbung",
		Category:    "static",
		ContentHash: "abc",
		CreatedAt:   time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
		Chunks: []corpus.Chunk{
			{Text: "Erster Teil <b>", Header: &header, HeaderLevel: 2, ChunkIndex: 0, TotalChunksInSection: 2},
			{Text: "Zweiter Teil", Header: &header, HeaderLevel: 2, ChunkIndex: 1, TotalChunksInSection: 2, Overlap: 4},
		},
	}
}

func TestMemorySink(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	require.NoError(t, m.Deliver(context.Background(), sampleDelivery()))
	require.Len(t, m.Deliveries(), 1)
	assert.Equal(t, 2, m.ChunkCount())
}

func TestBlobSinkWritesJSONL(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	b, err := NewBlob(store, "deliveries", nil)
	require.NoError(t, err)

	d := sampleDelivery()
	require.NoError(t, b.Deliver(context.Background(), d))

	path := "deliveries/2024/10/01/" + d.ID + ".jsonl"
	data, contentType, ok := store.Object(path)
	require.True(t, ok, "paths: %v", store.Paths())
	assert.Equal(t, ContentTypeJSONL, contentType)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines []map[string]any
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, d.URL, lines[0]["url"])
	assert.Equal(t, "Erster Teil <b>", lines[0]["text"])
	assert.Equal(t, "Bewerbung", lines[1]["header"])
	assert.EqualValues(t, 4, lines[1]["overlap"])
	assert.EqualValues(t, 1, lines[1]["chunk_index"])

	d.ID = ""
	require.Error(t, b.Deliver(context.Background(), d))
}

func TestPublisherSink(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	p, err := NewPublisher(pub, "chunks", nil)
	require.NoError(t, err)
	require.NoError(t, p.Deliver(context.Background(), sampleDelivery()))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "chunks", msgs[0].Topic)
	assert.Equal(t, sampleDelivery(), msgs[0].Payload)

	pub.FailWith(errors.New("quota"))
	require.ErrorContains(t, p.Deliver(context.Background(), sampleDelivery()), "quota")

	_, err = NewPublisher(pub, "", nil)
	require.Error(t, err)
}

type failingSink struct{ err error }

func (f failingSink) Deliver(context.Context, corpus.Delivery) error { return f.err }

func TestFanout(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	f := Fanout{failingSink{err: errors.New("first")}, m, failingSink{err: errors.New("second")}}
	err := f.Deliver(context.Background(), sampleDelivery())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
	assert.Len(t, m.Deliveries(), 1)
}
