// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services provides the business logic behind the HTTP handlers.
//
// This package orchestrates one chat turn end to end:
//   - Condensing the follow-up question into a standalone question
//   - Retrieving knowledge chunks from the vector index
//   - Streaming the grounded answer through a token bridge
//   - Persisting the completed exchange
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/benedictbihl/virtual-me-backend/conversation"
	"github.com/benedictbihl/virtual-me-backend/datatypes"
	"github.com/benedictbihl/virtual-me-backend/llm"
	"github.com/benedictbihl/virtual-me-backend/retrieval"
	"github.com/benedictbihl/virtual-me-backend/stream"
)

// pipelineTracer is the OpenTelemetry tracer for ChatPipeline operations.
var pipelineTracer = otel.Tracer("virtualme.services.pipeline")

// =============================================================================
// Pipeline States
// =============================================================================

// PipelineState names the phase a chat turn is in. Transitions run strictly
// forward; a turn ends in either StateCompleted or StateFailed.
type PipelineState string

const (
	StateIdle              PipelineState = "idle"
	StateAwaitingCondense  PipelineState = "awaiting_condense"
	StateAwaitingRetrieval PipelineState = "awaiting_retrieval"
	StateStreaming         PipelineState = "streaming"
	StateCompleted         PipelineState = "completed"
	StateFailed            PipelineState = "failed"
)

// =============================================================================
// Errors
// =============================================================================

// GenerationError indicates the answer model failed after streaming began
// or while setting up the stream.
type GenerationError struct {
	Message string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %s", e.Message)
}

// IsGenerationError reports whether err is a *GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// =============================================================================
// Chat Pipeline
// =============================================================================

// ChatPipeline wires the condenser, retriever, generator and persistence
// store into one turn of the chat flow.
//
// # Description
//
// Start runs the pre-stream phase (condense, retrieve) synchronously so
// callers can still answer with a plain HTTP error. It then kicks off
// generation in its own goroutine and returns the bridge the tokens will
// arrive on. The caller owns the consumer side of the bridge and must
// Close it when done reading.
//
// # Persistence
//
// The store is optional. When present, a completed turn is written to it
// keyed by conversation id in a fire-and-forget goroutine; persistence
// failures are logged and never reach the client.
type ChatPipeline struct {
	condenser conversation.QueryCondenser
	retriever retrieval.DocumentRetriever
	generator conversation.AnswerGenerator
	store     *weaviate.Client
}

// NewChatPipeline creates a pipeline. The store may be nil to disable
// persistence; everything else panics when missing.
func NewChatPipeline(
	condenser conversation.QueryCondenser,
	retriever retrieval.DocumentRetriever,
	generator conversation.AnswerGenerator,
	store *weaviate.Client,
) *ChatPipeline {
	if condenser == nil {
		panic("services: condenser must not be nil")
	}
	if retriever == nil {
		panic("services: retriever must not be nil")
	}
	if generator == nil {
		panic("services: generator must not be nil")
	}
	return &ChatPipeline{
		condenser: condenser,
		retriever: retriever,
		generator: generator,
		store:     store,
	}
}

// Start runs one chat turn.
//
// # Description
//
// The pre-stream phase runs inline: condense the question, then retrieve
// context. Any failure there returns a nil bridge and the error, leaving
// the caller free to respond with a JSON error body. On success the
// returned bridge starts carrying answer tokens immediately; it delivers
// the tokens in generation order followed by exactly one terminal event.
//
// # Inputs
//
//   - ctx: Request-scoped context. Cancelling it stops generation.
//   - req: Validated chat request with defaults applied.
//
// # Outputs
//
//   - *stream.Bridge: Token source for the caller's SSE loop. Nil on
//     pre-stream failure.
//   - *conversation.Memory: The turn's transcript, readable while
//     streaming.
//   - error: *retrieval.RetrievalError, *GenerationError or a wrapped
//     condense failure.
func (p *ChatPipeline) Start(ctx context.Context, req *datatypes.ChatRequest) (*stream.Bridge, *conversation.Memory, error) {
	ctx, span := pipelineTracer.Start(ctx, "ChatPipeline.Start")
	defer span.End()
	span.SetAttributes(attribute.String("chat.conversation_id", req.ConversationID))

	memory := conversation.NewMemory(req.ConversationID, req.Input, req.History)
	state := StateIdle

	// Step 1: Condense the follow-up into a standalone question
	state = p.transition(state, StateAwaitingCondense, req.ConversationID)
	condensed, err := p.condenser.Condense(ctx, req.History, req.Input)
	if err != nil {
		p.fail(span, state, req.ConversationID, err)
		return nil, nil, &GenerationError{Message: fmt.Sprintf("failed to condense question: %v", err)}
	}
	memory.RecordCondensed(condensed)

	// Step 2: Retrieve knowledge chunks for the standalone question
	state = p.transition(state, StateAwaitingRetrieval, req.ConversationID)
	chunks, err := p.retriever.Retrieve(ctx, condensed)
	if err != nil {
		// An unreachable index fails the turn; answering without the
		// knowledge base would just produce confident guesswork.
		p.fail(span, state, req.ConversationID, err)
		return nil, nil, err
	}
	memory.RecordChunks(chunks)
	span.SetAttributes(attribute.Int("chat.context_chunks", len(chunks)))

	// Step 3: Stream the answer through the bridge
	state = p.transition(state, StateStreaming, req.ConversationID)
	bridge := stream.NewBridge()
	go p.generate(ctx, state, bridge, memory)

	return bridge, memory, nil
}

// generate runs in its own goroutine, driving tokens into the bridge.
func (p *ChatPipeline) generate(ctx context.Context, state PipelineState,
	bridge *stream.Bridge, memory *conversation.Memory) {

	callback := func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			memory.AppendToken(event.Content)
			return bridge.Write(ctx, event.Content)
		case llm.StreamEventError:
			bridge.Abort(&GenerationError{Message: event.Error})
			return fmt.Errorf("stream error event: %s", event.Error)
		case llm.StreamEventDone:
			return nil
		}
		return nil
	}

	err := p.generator.StreamAnswer(ctx, memory.Condensed(), memory.Chunks(), callback)
	if err != nil {
		slog.Error("Answer generation failed",
			"conversationId", memory.ConversationID(),
			"error", err)
		bridge.Abort(&GenerationError{Message: err.Error()})
		p.transition(state, StateFailed, memory.ConversationID())
		return
	}

	bridge.Finish()
	p.transition(state, StateCompleted, memory.ConversationID())
	p.persist(memory)
}

// persist saves the completed exchange in the background. Failures stay in
// the logs; the client already has its answer.
func (p *ChatPipeline) persist(memory *conversation.Memory) {
	if p.store == nil {
		return
	}
	go func() {
		exchange := memory.Exchange()
		if err := exchange.Upsert(context.Background(), p.store); err != nil {
			slog.Error("Failed to persist exchange",
				"conversationId", exchange.ConversationID,
				"error", err)
		}
	}()
}

func (p *ChatPipeline) transition(from, to PipelineState, conversationID string) PipelineState {
	slog.Debug("Pipeline state transition",
		"conversationId", conversationID,
		"from", string(from),
		"to", string(to))
	return to
}

func (p *ChatPipeline) fail(span trace.Span, state PipelineState, conversationID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.transition(state, StateFailed, conversationID)
	slog.Error("Pipeline failed before streaming",
		"conversationId", conversationID,
		"state", string(state),
		"error", err)
}
