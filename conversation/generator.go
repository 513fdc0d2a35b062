// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel/codes"

	"github.com/benedictbihl/virtual-me-backend/datatypes"
	"github.com/benedictbihl/virtual-me-backend/llm"
)

// =============================================================================
// Interfaces
// =============================================================================

// AnswerGenerator streams a grounded persona answer for a standalone
// question.
type AnswerGenerator interface {
	// StreamAnswer builds the persona prompt from the retrieved chunks
	// and streams the model's answer through callback. The callback sees
	// token events followed by exactly one done or error event from the
	// underlying client.
	StreamAnswer(ctx context.Context, question string, chunks []datatypes.DocumentChunk, callback llm.StreamCallback) error
}

// =============================================================================
// Configuration
// =============================================================================

// GeneratorConfig controls the streaming answer call.
type GeneratorConfig struct {
	// SystemTemplate is the persona system prompt, rendered with
	// {{.context}}. Empty means the built-in persona template.
	SystemTemplate string

	// Temperature for the answer model.
	// Default: 0.7
	Temperature float32

	// MaxTokens caps the streamed answer.
	// Default: 1024
	MaxTokens int
}

// DefaultGeneratorConfig builds a config from environment variables.
//
// Environment variables:
//   - ANSWER_TEMPERATURE (default: 0.7)
//   - ANSWER_MAX_TOKENS (default: 1024)
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		SystemTemplate: defaultAnswerTemplate,
		Temperature:    float32(getEnvFloat("ANSWER_TEMPERATURE", 0.7)),
		MaxTokens:      getEnvInt("ANSWER_MAX_TOKENS", 1024),
	}
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// =============================================================================
// LLM Generator
// =============================================================================

// LLMAnswerGenerator streams answers through an llm.LLMClient.
type LLMAnswerGenerator struct {
	client   llm.LLMClient
	template prompts.PromptTemplate
	config   GeneratorConfig
}

var _ AnswerGenerator = (*LLMAnswerGenerator)(nil)

// NewLLMAnswerGenerator creates a generator. Panics on a nil client.
func NewLLMAnswerGenerator(client llm.LLMClient, config GeneratorConfig) *LLMAnswerGenerator {
	if client == nil {
		panic("conversation: llm client must not be nil")
	}
	templateText := config.SystemTemplate
	if templateText == "" {
		templateText = defaultAnswerTemplate
	}
	return &LLMAnswerGenerator{
		client:   client,
		template: prompts.NewPromptTemplate(templateText, []string{"context"}),
		config:   config,
	}
}

// StreamAnswer implements AnswerGenerator.
func (g *LLMAnswerGenerator) StreamAnswer(ctx context.Context, question string,
	chunks []datatypes.DocumentChunk, callback llm.StreamCallback) error {

	ctx, span := tracer.Start(ctx, "LLMAnswerGenerator.StreamAnswer")
	defer span.End()

	system, err := g.template.Format(map[string]any{
		"context": formatContext(chunks),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to render answer template: %w", err)
	}

	messages := []datatypes.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: question},
	}

	temperature := g.config.Temperature
	maxTokens := g.config.MaxTokens
	params := llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}

	slog.Debug("Streaming grounded answer", "contextChunks", len(chunks))
	return g.client.ChatStream(ctx, messages, params, callback)
}

// formatContext joins retrieved chunks into the context block. The index's
// ranking order is kept as-is.
func formatContext(chunks []datatypes.DocumentChunk) string {
	if len(chunks) == 0 {
		return "(no additional context available)"
	}
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		parts = append(parts, chunk.Content)
	}
	return strings.Join(parts, "\n\n")
}
