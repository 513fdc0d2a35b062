// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation holds the language-model side of a chat turn: the
// question condenser, the answer generator, and the per-request memory.
//
// # Description
//
// A follow-up question like "where does he live?" is useless as a vector
// search query. The condenser folds the conversation history into the
// follow-up, producing a standalone question that both the retriever and
// the answer generator can work with. Prompt templates are injected
// through config rather than read from package globals, so tests and
// deployments can swap them freely.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/benedictbihl/virtual-me-backend/datatypes"
)

var tracer = otel.Tracer("virtualme.conversation")

// =============================================================================
// Interfaces
// =============================================================================

// GenerateFunc abstracts a non-streaming LLM call. Matches the signature of
// a thin closure over llm.LLMClient.Generate so the condenser needs no
// direct client dependency.
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// QueryCondenser turns a follow-up question plus history into a standalone
// question.
type QueryCondenser interface {
	// Condense returns the standalone question. A failure here aborts the
	// whole pipeline; there is no degraded mode without a usable query.
	Condense(ctx context.Context, history []datatypes.Message, input string) (string, error)
}

// =============================================================================
// Configuration
// =============================================================================

// CondenserConfig controls the condense LLM call. The template travels in
// the config so it is injected, not ambient.
type CondenserConfig struct {
	// Template is the condense prompt, rendered with {{.chat_history}}
	// and {{.question}}. Empty means the built-in persona template.
	Template string

	// MaxTokens caps the condense response.
	// Default: 256
	MaxTokens int

	// TimeoutMs bounds the condense LLM call.
	// Default: 10000
	TimeoutMs int
}

// DefaultCondenserConfig builds a config from environment variables.
//
// Environment variables:
//   - CONDENSE_MAX_TOKENS (default: 256)
//   - CONDENSE_TIMEOUT_MS (default: 10000)
func DefaultCondenserConfig() CondenserConfig {
	return CondenserConfig{
		Template:  defaultCondenseTemplate,
		MaxTokens: getEnvInt("CONDENSE_MAX_TOKENS", 256),
		TimeoutMs: getEnvInt("CONDENSE_TIMEOUT_MS", 10000),
	}
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// =============================================================================
// LLM Condenser
// =============================================================================

// LLMQueryCondenser condenses questions through a single non-streaming LLM
// call.
type LLMQueryCondenser struct {
	generate GenerateFunc
	template prompts.PromptTemplate
	config   CondenserConfig
}

var _ QueryCondenser = (*LLMQueryCondenser)(nil)

// NewLLMQueryCondenser creates a condenser. Panics on a nil generate
// function.
func NewLLMQueryCondenser(generate GenerateFunc, config CondenserConfig) *LLMQueryCondenser {
	if generate == nil {
		panic("conversation: generate function must not be nil")
	}
	templateText := config.Template
	if templateText == "" {
		templateText = defaultCondenseTemplate
	}
	return &LLMQueryCondenser{
		generate: generate,
		template: prompts.NewPromptTemplate(templateText, []string{"chat_history", "question"}),
		config:   config,
	}
}

// Condense implements QueryCondenser. An empty history still goes through
// the template; the model simply sees a blank history block.
func (c *LLMQueryCondenser) Condense(ctx context.Context, history []datatypes.Message, input string) (string, error) {
	ctx, span := tracer.Start(ctx, "LLMQueryCondenser.Condense")
	defer span.End()

	prompt, err := c.template.Format(map[string]any{
		"chat_history": FormatChatHistory(history),
		"question":     input,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to render condense template: %w", err)
	}

	timeout := time.Duration(c.config.TimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := c.generate(ctx, prompt, c.config.MaxTokens)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Condense LLM call failed", "error", err)
		return "", fmt.Errorf("condense LLM call failed: %w", err)
	}

	condensed := strings.TrimSpace(response)
	if condensed == "" {
		return "", fmt.Errorf("condense LLM call returned an empty response")
	}
	slog.Debug("Condensed follow-up into standalone question", "historyTurns", len(history))
	return condensed, nil
}

// FormatChatHistory flattens history messages into the Human/Assistant
// transcript form the condense template expects.
func FormatChatHistory(history []datatypes.Message) string {
	var sb strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case "assistant":
			sb.WriteString("Assistant: ")
		case "system":
			continue
		default:
			sb.WriteString("Human: ")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
