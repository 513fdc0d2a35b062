// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval fetches knowledge chunks from the vector index.
//
// # Description
//
// The index holds pre-built document chunks about Benedict. A retriever
// embeds the standalone question, runs a nearVector search against the
// Document class and returns the chunks exactly as the index ranked them.
// No re-sorting or filtering happens here; relevance ordering is the
// index's job.
//
// # Error Handling
//
// An unreachable index or a failed embedding call surfaces as a
// *RetrievalError so callers can distinguish "the index is down" from
// other pipeline failures. Transient gateway errors (502/503/504) are
// retried with exponential backoff before giving up. An empty result set
// is a successful retrieval, not an error.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/benedictbihl/virtual-me-backend/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	defaultChunkLimit        = 4
	defaultMaxRetries        = 3
	defaultInitialRetryDelay = 1 * time.Second
	defaultMaxEmbedLength    = 8192
)

// RetrieverConfig controls retrieval behavior.
type RetrieverConfig struct {
	// ChunkLimit is the maximum number of chunks returned per query.
	ChunkLimit int

	// MaxRetries is the number of attempts for retryable index failures.
	MaxRetries int

	// InitialRetryDelay is the backoff base; each retry doubles it.
	InitialRetryDelay time.Duration

	// MaxEmbedLength truncates oversized queries before embedding.
	MaxEmbedLength int
}

// DefaultRetrieverConfig builds a config from environment variables,
// falling back to sensible defaults.
//
// Environment variables:
//   - RETRIEVAL_CHUNK_LIMIT (default: 4)
//   - RETRIEVAL_MAX_RETRIES (default: 3)
//   - RETRIEVAL_RETRY_DELAY_MS (default: 1000)
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		ChunkLimit:        getEnvInt("RETRIEVAL_CHUNK_LIMIT", defaultChunkLimit),
		MaxRetries:        getEnvInt("RETRIEVAL_MAX_RETRIES", defaultMaxRetries),
		InitialRetryDelay: time.Duration(getEnvInt("RETRIEVAL_RETRY_DELAY_MS", int(defaultInitialRetryDelay/time.Millisecond))) * time.Millisecond,
		MaxEmbedLength:    getEnvInt("RETRIEVAL_MAX_EMBED_LENGTH", defaultMaxEmbedLength),
	}
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// =============================================================================
// Interfaces
// =============================================================================

// Embedder converts text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentRetriever finds knowledge chunks matching a query.
type DocumentRetriever interface {
	// Retrieve returns matching chunks in index ranking order. An empty
	// slice means the index had nothing relevant, which is a valid
	// outcome. A *RetrievalError means the index could not be consulted.
	Retrieve(ctx context.Context, query string) ([]datatypes.DocumentChunk, error)
}

// =============================================================================
// Errors
// =============================================================================

// RetrievalError indicates the vector index could not be consulted.
type RetrievalError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed (status %d): %s", e.StatusCode, e.Message)
}

// IsRetrievalError reports whether err is a *RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// isRetryableStatusCode reports whether a status warrants a retry.
// Gateway errors are transient; everything else fails fast.
func isRetryableStatusCode(code int) bool {
	switch code {
	case 502, 503, 504:
		return true
	}
	return false
}
