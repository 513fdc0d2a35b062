// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/benedictbihl/virtual-me-backend/datatypes"
)

var tracer = otel.Tracer("virtualme.retrieval")

// WeaviateRetriever searches the Document class by vector similarity.
type WeaviateRetriever struct {
	client   *weaviate.Client
	embedder Embedder
	config   RetrieverConfig
}

var _ DocumentRetriever = (*WeaviateRetriever)(nil)

// NewWeaviateRetriever creates a retriever backed by the given Weaviate
// client and embedder. Panics on nil dependencies since the service cannot
// run without them.
func NewWeaviateRetriever(client *weaviate.Client, embedder Embedder, config RetrieverConfig) *WeaviateRetriever {
	if client == nil {
		panic("retrieval: weaviate client must not be nil")
	}
	if embedder == nil {
		panic("retrieval: embedder must not be nil")
	}
	return &WeaviateRetriever{
		client:   client,
		embedder: embedder,
		config:   config,
	}
}

// documentQueryResponse mirrors the GraphQL shape of a Document search.
type documentQueryResponse struct {
	Get struct {
		Document []struct {
			Content string `json:"content"`
			Source  string `json:"source"`
		} `json:"Document"`
	} `json:"Get"`
}

// Retrieve implements DocumentRetriever. Transient index failures are
// retried with exponential backoff before the error is surfaced.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string) ([]datatypes.DocumentChunk, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.chunk_limit", r.config.ChunkLimit))

	// 1. Truncate oversized queries before embedding
	truncated := query
	if len(query) > r.config.MaxEmbedLength {
		truncated = query[:r.config.MaxEmbedLength]
		slog.Debug("Truncated query for embedding", "originalLen", len(query), "truncatedLen", len(truncated))
	}

	// 2. Embed the standalone question
	vector, err := r.embedder.Embed(ctx, truncated)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to embed query for retrieval", "error", err)
		return nil, &RetrievalError{
			StatusCode: 503,
			Message:    fmt.Sprintf("failed to embed query: %v", err),
			Retryable:  false,
		}
	}

	// 3. Search with retry on transient gateway errors
	var lastErr error
	delay := r.config.InitialRetryDelay
	for attempt := 1; attempt <= r.config.MaxRetries; attempt++ {
		chunks, err := r.search(ctx, vector)
		if err == nil {
			span.SetAttributes(attribute.Int("retrieval.chunks_found", len(chunks)))
			slog.Debug("Retrieved document chunks", "count", len(chunks))
			return chunks, nil
		}
		lastErr = err

		var re *RetrievalError
		if !errors.As(err, &re) || !re.Retryable || attempt == r.config.MaxRetries {
			break
		}

		slog.Warn("Retrieval attempt failed, retrying",
			"attempt", attempt,
			"maxRetries", r.config.MaxRetries,
			"delay", delay,
			"error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &RetrievalError{StatusCode: 503, Message: ctx.Err().Error(), Retryable: false}
		}
		delay *= 2
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (r *WeaviateRetriever) search(ctx context.Context, vector []float32) ([]datatypes.DocumentChunk, error) {
	nearVector := r.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(datatypes.DocumentClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(r.config.ChunkLimit).
		Do(ctx)
	if err != nil {
		return nil, &RetrievalError{
			StatusCode: 503,
			Message:    fmt.Sprintf("weaviate search failed: %v", err),
			Retryable:  true,
		}
	}
	if len(result.Errors) > 0 {
		return nil, &RetrievalError{
			StatusCode: 502,
			Message:    fmt.Sprintf("weaviate query error: %s", result.Errors[0].Message),
			Retryable:  isRetryableStatusCode(502),
		}
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, &RetrievalError{
			StatusCode: 500,
			Message:    fmt.Sprintf("failed to marshal search results: %v", err),
			Retryable:  false,
		}
	}
	var parsed documentQueryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &RetrievalError{
			StatusCode: 500,
			Message:    fmt.Sprintf("failed to parse search results: %v", err),
			Retryable:  false,
		}
	}

	// Index order is relevance order; keep it.
	chunks := make([]datatypes.DocumentChunk, 0, len(parsed.Get.Document))
	for _, doc := range parsed.Get.Document {
		chunks = append(chunks, datatypes.DocumentChunk{
			Content: doc.Content,
			Source:  doc.Source,
		})
	}
	return chunks, nil
}
