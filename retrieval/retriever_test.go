// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubEmbedder returns a fixed vector, or an error when configured.
type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

// newTestWeaviateClient points a real client at an httptest server.
func newTestWeaviateClient(t *testing.T, serverURL string) *weaviate.Client {
	t.Helper()
	host := strings.TrimPrefix(serverURL, "http://")
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: "http"})
	require.NoError(t, err)
	return client
}

func fastRetryConfig() RetrieverConfig {
	return RetrieverConfig{
		ChunkLimit:        4,
		MaxRetries:        3,
		InitialRetryDelay: time.Millisecond,
		MaxEmbedLength:    8192,
	}
}

// =============================================================================
// Retrieve Tests
// =============================================================================

func TestWeaviateRetriever_Retrieve_PreservesIndexOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"Get":{"Document":[
			{"content":"Benedict is a developer.","source":"bio.md"},
			{"content":"He lives in Munich.","source":"bio.md"},
			{"content":"He likes climbing.","source":"hobbies.md"}
		]}}}`))
	}))
	defer server.Close()

	embedder := &stubEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	retriever := NewWeaviateRetriever(newTestWeaviateClient(t, server.URL), embedder, fastRetryConfig())

	chunks, err := retriever.Retrieve(context.Background(), "who is benedict")

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Benedict is a developer.", chunks[0].Content, "index order must be preserved")
	assert.Equal(t, "He lives in Munich.", chunks[1].Content)
	assert.Equal(t, "He likes climbing.", chunks[2].Content)
	assert.Equal(t, 1, embedder.calls)
}

func TestWeaviateRetriever_Retrieve_EmptyResultIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"Get":{"Document":[]}}}`))
	}))
	defer server.Close()

	embedder := &stubEmbedder{vector: []float32{0.1}}
	retriever := NewWeaviateRetriever(newTestWeaviateClient(t, server.URL), embedder, fastRetryConfig())

	chunks, err := retriever.Retrieve(context.Background(), "something off-topic")

	require.NoError(t, err, "an empty result set is a successful retrieval")
	assert.Empty(t, chunks)
}

func TestWeaviateRetriever_Retrieve_EmbedFailureIsRetrievalError(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("embedding service down")}
	// Client never gets called, any server works.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	retriever := NewWeaviateRetriever(newTestWeaviateClient(t, server.URL), embedder, fastRetryConfig())

	_, err := retriever.Retrieve(context.Background(), "who is benedict")

	require.Error(t, err)
	assert.True(t, IsRetrievalError(err), "embed failures must surface as retrieval errors")
}

func TestWeaviateRetriever_Retrieve_RetriesThenSucceeds(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"Get":{"Document":[{"content":"Benedict codes in Go.","source":"bio.md"}]}}}`))
	}))
	defer server.Close()

	embedder := &stubEmbedder{vector: []float32{0.5}}
	retriever := NewWeaviateRetriever(newTestWeaviateClient(t, server.URL), embedder, fastRetryConfig())

	chunks, err := retriever.Retrieve(context.Background(), "what does he code")

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 3, attempts, "transient failures must be retried")
}

func TestWeaviateRetriever_Retrieve_UnreachableIndex(t *testing.T) {
	// A closed server simulates an unreachable index.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	embedder := &stubEmbedder{vector: []float32{0.5}}
	retriever := NewWeaviateRetriever(newTestWeaviateClient(t, server.URL), embedder, fastRetryConfig())

	_, err := retriever.Retrieve(context.Background(), "who is benedict")

	require.Error(t, err)
	assert.True(t, IsRetrievalError(err))
}

// =============================================================================
// Error Helper Tests
// =============================================================================

func TestIsRetrievalError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetrievalError(&RetrievalError{StatusCode: 503, Message: "down"}))
	assert.False(t, IsRetrievalError(errors.New("plain error")))
	assert.False(t, IsRetrievalError(nil))
}

func TestIsRetryableStatusCode(t *testing.T) {
	t.Parallel()

	for _, code := range []int{502, 503, 504} {
		assert.True(t, isRetryableStatusCode(code), "status %d should be retryable", code)
	}
	for _, code := range []int{400, 401, 404, 500} {
		assert.False(t, isRetryableStatusCode(code), "status %d should not be retryable", code)
	}
}

func TestNewWeaviateRetriever_NilDependenciesPanic(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewWeaviateRetriever(nil, &stubEmbedder{}, fastRetryConfig())
	})
	client, err := weaviate.NewClient(weaviate.Config{Host: "localhost:8080", Scheme: "http"})
	require.NoError(t, err)
	assert.Panics(t, func() {
		NewWeaviateRetriever(client, nil, fastRetryConfig())
	})
}
