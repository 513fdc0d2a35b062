// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the chat service.
//
// This file contains the request and response types for the streaming chat
// endpoint. For persistence record types, see conversation.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Size Limits
// =============================================================================

const (
	// MaxInputBytes is the maximum size of the user input and of a single
	// history message. Byte length, not rune count, to bound memory use.
	MaxInputBytes = 32 * 1024 // 32KB

	// MaxHistoryTurns is the maximum number of history messages accepted
	// in a request.
	MaxHistoryTurns = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Custom validator for content size limits
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks that a string field does not exceed MaxInputBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxInputBytes
}

// =============================================================================
// Messages
// =============================================================================

// Message is a single chat message with an OpenAI-style role.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// =============================================================================
// Chat Request
// =============================================================================

// ChatRequest is the body of a streaming chat request.
//
// # Description
//
// Carries one conversational turn: the user's follow-up input, the prior
// conversation history, and an optional conversation id used to key the
// persisted exchange. A missing conversation id is generated server-side.
//
// # Fields
//
//   - Input: Required. The user's follow-up question. Max 32KB.
//   - History: Optional. Prior turns in chronological order, up to 100
//     messages. Each message carries a role and content.
//   - ConversationID: Optional. UUID v4 identifying the conversation.
//     When present, the completed exchange overwrites any prior record
//     stored under the same id.
//
// # Examples
//
//	req := ChatRequest{
//	    Input: "Where does he live?",
//	    History: []Message{
//	        {Role: "user", Content: "Who is Benedict?"},
//	        {Role: "assistant", Content: "Benedict is a developer."},
//	    },
//	}
type ChatRequest struct {
	Input          string    `json:"input" validate:"required,maxbytes"`
	History        []Message `json:"history" validate:"omitempty,max=100,dive"`
	ConversationID string    `json:"conversationID" validate:"omitempty,uuid4"`
}

// Validate validates the ChatRequest fields after JSON binding.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates a conversation id when the client sent none.
func (r *ChatRequest) EnsureDefaults() {
	if r.ConversationID == "" {
		r.ConversationID = uuid.New().String()
	}
}

// =============================================================================
// Error Response
// =============================================================================

// ErrorResponse is the JSON body returned for failures that occur before
// the SSE stream has started.
type ErrorResponse struct {
	Error string `json:"error"`
}
