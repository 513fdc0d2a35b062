// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// SSEWriter writes server-sent event frames to an HTTP response.
//
// # Description
//
// Tokens are written as raw data frames:
//
//	data: <token>\n\n
//
// Each frame is flushed immediately so tokens reach the client as they are
// generated rather than when the response buffer fills.
//
// # Thread Safety
//
// All methods are safe for concurrent use; a mutex serializes frame writes
// so frames never interleave.
type SSEWriter interface {
	// WriteToken writes one token as a data frame and flushes.
	WriteToken(token string) error

	// WriteKeepAlive writes an SSE comment frame. Clients ignore comment
	// frames, which makes them safe padding to keep idle connections open
	// through proxies.
	WriteKeepAlive() error
}

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// NewSSEWriter wraps an HTTP response writer for SSE output. Fails when the
// writer cannot flush, since unflushed SSE defeats streaming entirely.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// SetSSEHeaders sets the response headers required for SSE streaming.
// Must be called before the first frame is written.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable proxy buffering (nginx)
	w.Header().Set("X-Accel-Buffering", "no")
}

func (s *sseWriter) WriteToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A newline inside a token would end the frame early, so each line
	// becomes its own data: line within the frame.
	for _, line := range strings.Split(token, "\n") {
		if _, err := fmt.Fprintf(s.writer, "data: %s\n", line); err != nil {
			return fmt.Errorf("failed to write SSE data frame: %w", err)
		}
	}
	if _, err := fmt.Fprint(s.writer, "\n"); err != nil {
		return fmt.Errorf("failed to terminate SSE frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprint(s.writer, ": keep-alive\n\n"); err != nil {
		return fmt.Errorf("failed to write SSE keep-alive: %w", err)
	}
	s.flusher.Flush()
	return nil
}
