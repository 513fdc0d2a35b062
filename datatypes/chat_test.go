// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

// =============================================================================
// ChatRequest Validation Tests
// =============================================================================

func TestChatRequest_Validate_Success(t *testing.T) {
	req := &ChatRequest{
		Input: "Where does Benedict live?",
		History: []Message{
			{Role: "user", Content: "Who is Benedict?"},
			{Role: "assistant", Content: "A developer from Munich."},
		},
		ConversationID: "550e8400-e29b-41d4-a716-446655440000",
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestChatRequest_Validate_MissingInput(t *testing.T) {
	req := &ChatRequest{}

	if err := req.Validate(); err == nil {
		t.Error("expected validation error for missing input, got nil")
	}
}

func TestChatRequest_Validate_InputTooLarge(t *testing.T) {
	req := &ChatRequest{
		Input: strings.Repeat("a", MaxInputBytes+1),
	}

	if err := req.Validate(); err == nil {
		t.Error("expected validation error for oversized input, got nil")
	}
}

func TestChatRequest_Validate_EmptyHistoryAllowed(t *testing.T) {
	req := &ChatRequest{Input: "Who is Benedict?"}

	if err := req.Validate(); err != nil {
		t.Errorf("expected empty history to be valid, got error: %v", err)
	}
}

func TestChatRequest_Validate_BadHistoryRole(t *testing.T) {
	req := &ChatRequest{
		Input: "Who is Benedict?",
		History: []Message{
			{Role: "narrator", Content: "Once upon a time"},
		},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected validation error for unknown role, got nil")
	}
}

func TestChatRequest_Validate_HistoryMessageTooLarge(t *testing.T) {
	req := &ChatRequest{
		Input: "Who is Benedict?",
		History: []Message{
			{Role: "user", Content: strings.Repeat("b", MaxInputBytes+1)},
		},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected validation error for oversized history message, got nil")
	}
}

func TestChatRequest_Validate_BadConversationID(t *testing.T) {
	req := &ChatRequest{
		Input:          "Who is Benedict?",
		ConversationID: "not-a-uuid",
	}

	if err := req.Validate(); err == nil {
		t.Error("expected validation error for malformed conversation id, got nil")
	}
}

// =============================================================================
// ChatRequest Defaults Tests
// =============================================================================

func TestChatRequest_EnsureDefaults_GeneratesConversationID(t *testing.T) {
	req := &ChatRequest{Input: "Who is Benedict?"}
	req.EnsureDefaults()

	if req.ConversationID == "" {
		t.Fatal("expected conversation id to be generated")
	}
	if _, err := uuid.Parse(req.ConversationID); err != nil {
		t.Errorf("expected generated conversation id to be a UUID, got %q", req.ConversationID)
	}
}

func TestChatRequest_EnsureDefaults_KeepsExistingConversationID(t *testing.T) {
	existing := "550e8400-e29b-41d4-a716-446655440000"
	req := &ChatRequest{Input: "Who is Benedict?", ConversationID: existing}
	req.EnsureDefaults()

	if req.ConversationID != existing {
		t.Errorf("expected conversation id to be preserved, got %q", req.ConversationID)
	}
}
