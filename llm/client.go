package llm

import (
	"context"

	"github.com/benedictbihl/virtual-me-backend/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType discriminates the events delivered to a StreamCallback.
type StreamEventType string

const (
	// StreamEventToken carries one generated token in Content.
	StreamEventToken StreamEventType = "token"

	// StreamEventDone signals the model finished naturally.
	StreamEventDone StreamEventType = "done"

	// StreamEventError carries a provider-side failure in Error.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is a single event emitted during a streaming generation.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives events as the model produces them. Returning a
// non-nil error stops the stream; the client returns that error from
// ChatStream.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate runs a single-prompt completion and returns the full text.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat runs a non-streaming chat completion over the given messages.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream runs a streaming chat completion, invoking callback for
	// every event until the model finishes or fails.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}
