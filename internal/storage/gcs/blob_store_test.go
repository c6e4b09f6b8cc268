package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, prefix string) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "corpus", Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler(), "/refined/")
	assert.Equal(t, "refined/2024/a.jsonl", store.ObjectName("2024/a.jsonl"))

	bare := newTestStore(t, http.NotFoundHandler(), "")
	assert.Equal(t, "2024/a.jsonl", bare.ObjectName("/2024/a.jsonl"))
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/corpus/o")
		assert.Equal(t, "refined/d/1.jsonl", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `{"text":"chunk"}`)
		fmt.Fprintln(w, `{"name":"refined/d/1.jsonl","bucket":"corpus"}`)
	})
	store := newTestStore(t, handler, "refined")

	uri, err := store.PutObject(context.Background(), "d/1.jsonl", "application/x-ndjson", strings.NewReader(`{"text":"chunk"}`+"\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://corpus/refined/d/1.jsonl", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), "")

	_, err := store.PutObject(context.Background(), "d/1.jsonl", "", strings.NewReader("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "path is required")
}
