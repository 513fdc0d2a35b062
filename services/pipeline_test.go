// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benedictbihl/virtual-me-backend/datatypes"
	"github.com/benedictbihl/virtual-me-backend/llm"
	"github.com/benedictbihl/virtual-me-backend/retrieval"
	"github.com/benedictbihl/virtual-me-backend/stream"
)

// =============================================================================
// Mocks
// =============================================================================

type mockCondenser struct {
	Result    string
	Err       error
	LastInput string
}

func (m *mockCondenser) Condense(ctx context.Context, history []datatypes.Message, input string) (string, error) {
	m.LastInput = input
	return m.Result, m.Err
}

type mockRetriever struct {
	Chunks    []datatypes.DocumentChunk
	Err       error
	LastQuery string
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string) ([]datatypes.DocumentChunk, error) {
	m.LastQuery = query
	return m.Chunks, m.Err
}

// mockGenerator emits Tokens through the callback, then returns Err or a
// done event.
type mockGenerator struct {
	Tokens       []string
	Err          error
	LastQuestion string
	LastChunks   []datatypes.DocumentChunk
}

func (m *mockGenerator) StreamAnswer(ctx context.Context, question string,
	chunks []datatypes.DocumentChunk, callback llm.StreamCallback) error {

	m.LastQuestion = question
	m.LastChunks = chunks
	for _, token := range m.Tokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: token}); err != nil {
			return err
		}
	}
	if m.Err != nil {
		return m.Err
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

// drainBridge reads the bridge until the terminal event.
func drainBridge(t *testing.T, b *stream.Bridge) (tokens []string, terminal stream.Event) {
	t.Helper()
	defer b.Close()
	for {
		select {
		case ev := <-b.Events():
			if ev.Done {
				return tokens, ev
			}
			tokens = append(tokens, ev.Token)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining bridge")
		}
	}
}

func testRequest() *datatypes.ChatRequest {
	req := &datatypes.ChatRequest{
		Input: "Where does he live?",
		History: []datatypes.Message{
			{Role: "user", Content: "Who is Benedict?"},
			{Role: "assistant", Content: "A developer."},
		},
	}
	req.EnsureDefaults()
	return req
}

// =============================================================================
// Start Tests
// =============================================================================

func TestChatPipeline_Start_HappyPath(t *testing.T) {
	t.Parallel()

	condenser := &mockCondenser{Result: "Where does Benedict live?"}
	retriever := &mockRetriever{Chunks: []datatypes.DocumentChunk{{Content: "Benedict lives in Munich."}}}
	generator := &mockGenerator{Tokens: []string{"He", " lives", " in", " Munich."}}

	pipeline := NewChatPipeline(condenser, retriever, generator, nil)
	bridge, memory, err := pipeline.Start(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, bridge)

	tokens, terminal := drainBridge(t, bridge)

	assert.Equal(t, []string{"He", " lives", " in", " Munich."}, tokens)
	assert.NoError(t, terminal.Err)
	assert.Equal(t, "Where does Benedict live?", retriever.LastQuery,
		"retriever must see the condensed question, not the raw input")
	assert.Equal(t, "Where does Benedict live?", generator.LastQuestion)
	assert.Equal(t, "He lives in Munich.", memory.Answer())

	exchange := memory.Exchange()
	assert.Equal(t, []string{
		"Human: Who is Benedict?",
		"Assistant: A developer.",
		"Human: Where does he live?",
		"Assistant: He lives in Munich.",
	}, exchange.ChatTurns, "the persisted record carries the whole transcript in order")
}

func TestChatPipeline_Start_CondenseFailureAbortsBeforeStreaming(t *testing.T) {
	t.Parallel()

	condenser := &mockCondenser{Err: errors.New("condense model down")}
	pipeline := NewChatPipeline(condenser, &mockRetriever{}, &mockGenerator{}, nil)

	bridge, _, err := pipeline.Start(context.Background(), testRequest())

	require.Error(t, err)
	assert.Nil(t, bridge, "no stream may start when condensing fails")
	assert.True(t, IsGenerationError(err))
}

func TestChatPipeline_Start_RetrievalFailureAbortsBeforeStreaming(t *testing.T) {
	t.Parallel()

	condenser := &mockCondenser{Result: "standalone"}
	retriever := &mockRetriever{Err: &retrieval.RetrievalError{StatusCode: 503, Message: "index down"}}
	pipeline := NewChatPipeline(condenser, retriever, &mockGenerator{}, nil)

	bridge, _, err := pipeline.Start(context.Background(), testRequest())

	require.Error(t, err)
	assert.Nil(t, bridge)
	assert.True(t, retrieval.IsRetrievalError(err), "retrieval failures keep their type for the handler")
}

func TestChatPipeline_Start_EmptyRetrievalStillStreams(t *testing.T) {
	t.Parallel()

	condenser := &mockCondenser{Result: "What is his favorite color?"}
	retriever := &mockRetriever{Chunks: nil}
	generator := &mockGenerator{Tokens: []string{"Better", " ask", " Benedict!"}}

	pipeline := NewChatPipeline(condenser, retriever, generator, nil)
	bridge, _, err := pipeline.Start(context.Background(), testRequest())
	require.NoError(t, err, "an empty index result is not a failure")

	tokens, terminal := drainBridge(t, bridge)
	assert.Len(t, tokens, 3)
	assert.NoError(t, terminal.Err)
	assert.Empty(t, generator.LastChunks)
}

func TestChatPipeline_Start_MidStreamFailureAbortsAfterTokens(t *testing.T) {
	t.Parallel()

	condenser := &mockCondenser{Result: "standalone"}
	retriever := &mockRetriever{Chunks: []datatypes.DocumentChunk{{Content: "ctx"}}}
	generator := &mockGenerator{Tokens: []string{"two", " tokens"}, Err: errors.New("connection reset")}

	pipeline := NewChatPipeline(condenser, retriever, generator, nil)
	bridge, memory, err := pipeline.Start(context.Background(), testRequest())
	require.NoError(t, err)

	tokens, terminal := drainBridge(t, bridge)

	assert.Equal(t, []string{"two", " tokens"}, tokens, "tokens before the failure must be delivered")
	require.Error(t, terminal.Err)
	assert.True(t, IsGenerationError(terminal.Err))
	assert.Equal(t, "two tokens", memory.Answer(), "memory keeps the partial answer")
}

func TestChatPipeline_Start_ErrorEventAbortsStream(t *testing.T) {
	t.Parallel()

	condenser := &mockCondenser{Result: "standalone"}
	retriever := &mockRetriever{}
	generator := &errorEventGenerator{}

	pipeline := NewChatPipeline(condenser, retriever, generator, nil)
	bridge, _, err := pipeline.Start(context.Background(), testRequest())
	require.NoError(t, err)

	tokens, terminal := drainBridge(t, bridge)

	assert.Equal(t, []string{"ok"}, tokens)
	require.Error(t, terminal.Err)
	assert.True(t, IsGenerationError(terminal.Err))
}

// errorEventGenerator emits one token and then an in-band error event.
type errorEventGenerator struct{}

func (g *errorEventGenerator) StreamAnswer(ctx context.Context, question string,
	chunks []datatypes.DocumentChunk, callback llm.StreamCallback) error {

	if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: "ok"}); err != nil {
		return err
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventError, Error: "provider exploded"})
}

func TestNewChatPipeline_NilDependenciesPanic(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewChatPipeline(nil, &mockRetriever{}, &mockGenerator{}, nil)
	})
	assert.Panics(t, func() {
		NewChatPipeline(&mockCondenser{}, nil, &mockGenerator{}, nil)
	})
	assert.Panics(t, func() {
		NewChatPipeline(&mockCondenser{}, &mockRetriever{}, nil, nil)
	})
}

func TestNewChatPipeline_NilStoreDisablesPersistence(t *testing.T) {
	t.Parallel()

	condenser := &mockCondenser{Result: "standalone"}
	generator := &mockGenerator{Tokens: []string{"answer"}}
	pipeline := NewChatPipeline(condenser, &mockRetriever{}, generator, nil)

	bridge, _, err := pipeline.Start(context.Background(), testRequest())
	require.NoError(t, err)

	_, terminal := drainBridge(t, bridge)
	assert.NoError(t, terminal.Err, "completion must not require a persistence store")
}
