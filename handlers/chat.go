// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP layer of the chat backend.
//
// # Description
//
// The streaming chat handler accepts a question about Benedict, runs the
// RAG pipeline, and streams the answer back as raw Server-Sent Events.
// Each token travels as its own `data:` frame, which is exactly what the
// frontend's EventSource-style reader consumes.
//
// # Error Channels
//
// Failures before the stream opens are reported as an HTTP 500 with a
// JSON body. Once streaming has begun the status code is already on the
// wire, so mid-stream failures simply end the stream; they are never
// mixed into the response body as JSON.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/benedictbihl/virtual-me-backend/datatypes"
	"github.com/benedictbihl/virtual-me-backend/observability"
	"github.com/benedictbihl/virtual-me-backend/retrieval"
	"github.com/benedictbihl/virtual-me-backend/services"
	"github.com/benedictbihl/virtual-me-backend/stream"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// ChatHandler defines the contract for handling streaming chat HTTP requests.
//
// # Description
//
// ChatHandler abstracts the streaming chat endpoint, enabling different
// implementations and facilitating testing via mocks.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// HTTP handlers are called concurrently by the Gin framework.
//
// # Assumptions
//
//   - All dependencies are properly initialized before handler use
//   - Gin context is valid and not nil
type ChatHandler interface {
	// HandleChatStream processes one chat turn with SSE streaming.
	//
	// # Description
	//
	// Handles POST /chat requests. Condenses the follow-up question,
	// retrieves context from the vector store, then streams the answer
	// token by token via Server-Sent Events.
	//
	// # Inputs
	//
	//   - c: Gin context containing the HTTP request.
	//
	// # Outputs
	//
	// SSE frames, one per token:
	//
	//	data: <token>
	//
	// HTTP Status (before streaming starts):
	//   - 500 Internal Server Error: parse/validation failure, retrieval
	//     failure, or LLM failure, with a JSON body {"error": "..."}
	//
	// # Assumptions
	//
	//   - Client supports SSE
	HandleChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// chatHandler implements ChatHandler for production use.
//
// # Description
//
// chatHandler coordinates between the HTTP layer and the chat pipeline.
// It performs request parsing and validation, SSE setup, and the consumer
// loop that moves tokens from the pipeline's bridge onto the wire.
//
// # Fields
//
//   - pipeline: The chat pipeline running condense/retrieve/generate.
//   - tracer: OpenTelemetry tracer for distributed tracing.
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction.
// No shared mutable state between requests.
type chatHandler struct {
	pipeline *services.ChatPipeline
	tracer   trace.Tracer
}

var _ ChatHandler = (*chatHandler)(nil)

// =============================================================================
// Constructor
// =============================================================================

// NewChatHandler creates a ChatHandler with the provided dependencies.
//
// # Inputs
//
//   - pipeline: The chat pipeline. Must not be nil.
//
// # Outputs
//
//   - ChatHandler: Ready for use with the Gin router.
//
// # Examples
//
//	handler := handlers.NewChatHandler(pipeline)
//	router.POST("/chat", handler.HandleChatStream)
//
// # Limitations
//
//   - Panics on nil pipeline (programming error).
func NewChatHandler(pipeline *services.ChatPipeline) ChatHandler {
	if pipeline == nil {
		panic("NewChatHandler: pipeline must not be nil")
	}
	return &chatHandler{
		pipeline: pipeline,
		tracer:   otel.Tracer("virtualme.handlers.chat"),
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChatStream processes one chat turn with SSE streaming.
//
// # Description
//
// Handles POST /chat requests. The flow is:
//  1. Parse and validate the request body
//  2. Apply defaults (generate a conversation id when absent)
//  3. Run the pre-stream pipeline stages (condense, retrieve)
//  4. Set SSE headers and create the writer
//  5. Consume the token bridge, writing each token as a data frame
//  6. Stop on the terminal event, client disconnect, or write failure
//
// Pre-stream failures return HTTP 500 with a JSON error body. Once the
// stream is open, a generation failure just ends the stream.
//
// # Inputs
//
//   - c: Gin context containing the HTTP request
//
// Request Body (datatypes.ChatRequest):
//   - input: Required. The user's question.
//   - history: Optional. Prior conversation turns (role + content).
//   - conversationID: Optional. UUID v4 of the conversation to continue.
//
// # Outputs
//
// Response (SSE stream):
//
//	data: Benedict
//
//	data:  lives
//
//	data:  in Munich.
//
// # Limitations
//
//   - Errors during streaming end the stream without a trailing frame
//   - Internal error details are not exposed to the client
func (h *chatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	// Track active stream (for metrics)
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		// Record final metrics
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 1: Parse request body. ShouldBindJSON leaves the status code to
	// us; the contract is a synchronous 500 for anything pre-stream.
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}

	// Step 2: Validate request
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Chat request validation failed", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "invalid request: validation failed"})
		return
	}

	// Step 3: Apply defaults (fresh conversation id when absent)
	req.EnsureDefaults()

	span.SetAttributes(
		attribute.String("chat.conversation_id", req.ConversationID),
		attribute.Int("chat.history_turns", len(req.History)),
	)

	// Step 4: Run the pre-stream pipeline stages
	bridge, memory, err := h.pipeline.Start(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed before streaming")
		slog.Error("Chat pipeline failed before streaming",
			"conversationId", req.ConversationID,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			if retrieval.IsRetrievalError(err) {
				m.RecordError(endpoint, observability.ErrorCodeRetrievalError)
			} else {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
		}
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to process chat request"})
		return
	}
	defer bridge.Close()

	// Step 5: Create the writer, then commit the SSE headers. The order
	// matters: a writer setup failure still responds as JSON, and the
	// stream headers must never appear on an error body.
	sseWriter, err := stream.NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer",
			"error", err,
			"conversationId", req.ConversationID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}
	stream.SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	// Step 6: Consume the bridge until the terminal event
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	tokenCount := 0
	firstTokenTime := time.Time{}

	for {
		select {
		case <-clientGone:
			span.SetStatus(codes.Error, "client disconnected")
			slog.Warn("Client disconnected during streaming",
				"conversationId", req.ConversationID,
				"tokenCount", tokenCount,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			}
			return

		case <-heartbeat.C:
			if err := sseWriter.WriteKeepAlive(); err != nil {
				slog.Warn("Failed to write keepalive, ending stream",
					"conversationId", req.ConversationID,
					"error", err,
				)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}

		case event := <-bridge.Events():
			if event.Done {
				if event.Err != nil {
					span.RecordError(event.Err)
					span.SetStatus(codes.Error, "generation failed mid-stream")
					span.SetAttributes(attribute.Int("stream.token_count", tokenCount))
					slog.Error("Generation failed mid-stream",
						"conversationId", req.ConversationID,
						"tokenCount", tokenCount,
						"error", event.Err,
					)
					if m := observability.DefaultMetrics; m != nil {
						m.RecordError(endpoint, observability.ErrorCodeLLMError)
					}
					// The status line is already on the wire; the
					// stream just ends here.
					return
				}

				if !firstTokenTime.IsZero() {
					ttft := firstTokenTime.Sub(startTime).Seconds()
					span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
					if m := observability.DefaultMetrics; m != nil {
						m.RecordTimeToFirstToken(endpoint, ttft)
					}
				}
				span.SetAttributes(attribute.Int("stream.token_count", tokenCount))
				slog.Info("Chat stream completed",
					"conversationId", req.ConversationID,
					"tokenCount", tokenCount,
					"answerLength", len(memory.Answer()),
				)
				success = true
				span.SetStatus(codes.Ok, "stream completed successfully")
				return
			}

			if firstTokenTime.IsZero() {
				firstTokenTime = time.Now()
			}
			tokenCount++
			if err := sseWriter.WriteToken(event.Token); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "token write failed")
				slog.Warn("Failed to write token, ending stream",
					"conversationId", req.ConversationID,
					"tokenCount", tokenCount,
					"error", err,
				)
				if m := observability.DefaultMetrics; m != nil {
					m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
					m.RecordClientDisconnect(endpoint)
				}
				return
			}
		}
	}
}
