// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"strings"
	"sync"

	"github.com/benedictbihl/virtual-me-backend/datatypes"
)

// Memory is the append-only record of a single chat turn.
//
// # Description
//
// One Memory is created per request and discarded with it; nothing here is
// shared across requests. The pipeline appends what each stage produced
// (the condensed question, the retrieved chunks, the answer tokens) and the
// persistence step reads the finished exchange out of it.
//
// # Thread Safety
//
// Safe for concurrent use. The generation goroutine appends tokens while
// the completion path reads the accumulated answer.
type Memory struct {
	mu sync.Mutex

	conversationID string
	input          string
	history        []datatypes.Message
	condensed      string
	chunks         []datatypes.DocumentChunk
	answer         strings.Builder
}

// NewMemory starts a memory for one request. The history is the prior
// conversation as the client sent it, in chronological order.
func NewMemory(conversationID, input string, history []datatypes.Message) *Memory {
	return &Memory{
		conversationID: conversationID,
		input:          input,
		history:        history,
	}
}

// ConversationID returns the id the exchange will be stored under.
func (m *Memory) ConversationID() string {
	return m.conversationID
}

// Input returns the raw follow-up question from the request.
func (m *Memory) Input() string {
	return m.input
}

// RecordCondensed stores the standalone question.
func (m *Memory) RecordCondensed(question string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.condensed = question
}

// Condensed returns the standalone question, or empty before condensing.
func (m *Memory) Condensed() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.condensed
}

// RecordChunks stores the retrieved context chunks.
func (m *Memory) RecordChunks(chunks []datatypes.DocumentChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = chunks
}

// Chunks returns the retrieved context chunks in index order.
func (m *Memory) Chunks() []datatypes.DocumentChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks
}

// AppendToken adds one answer token. Tokens only accumulate; there is no
// way to rewrite what was already streamed to the client.
func (m *Memory) AppendToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answer.WriteString(token)
}

// Answer returns the answer accumulated so far.
func (m *Memory) Answer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answer.String()
}

// Exchange packages the finished turn for persistence. The chat turns are
// the full transcript in order: the prior history, then this turn's
// question and the accumulated answer, rendered in the same Human/Assistant
// form the condense prompt uses.
func (m *Memory) Exchange() datatypes.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()

	answer := m.answer.String()
	turns := make([]string, 0, len(m.history)+2)
	for _, msg := range m.history {
		if msg.Role == "system" {
			continue
		}
		turns = append(turns, formatChatTurn(msg.Role, msg.Content))
	}
	turns = append(turns, formatChatTurn("user", m.input))
	turns = append(turns, formatChatTurn("assistant", answer))

	return datatypes.Exchange{
		ConversationID: m.conversationID,
		Question:       m.input,
		Answer:         answer,
		ChatTurns:      turns,
	}
}

// formatChatTurn renders one message the way FormatChatHistory does.
func formatChatTurn(role, content string) string {
	if role == "assistant" {
		return "Assistant: " + content
	}
	return "Human: " + content
}
