// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/benedictbihl/virtual-me-backend/conversation"
	"github.com/benedictbihl/virtual-me-backend/datatypes"
	"github.com/benedictbihl/virtual-me-backend/llm"
	"github.com/benedictbihl/virtual-me-backend/middleware"
	"github.com/benedictbihl/virtual-me-backend/observability"
	"github.com/benedictbihl/virtual-me-backend/retrieval"
	"github.com/benedictbihl/virtual-me-backend/routes"
	"github.com/benedictbihl/virtual-me-backend/services"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("virtual-me-backend")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient parses WEAVIATE_SERVICE_URL and connects. The knowledge
// base is the whole point of this service, so a missing or broken URL is fatal.
func newWeaviateClient() *weaviate.Client {
	weaviateURL := os.Getenv("WEAVIATE_SERVICE_URL")
	// Sanitize: trim quotes and whitespace in case the runtime passes them literally
	weaviateURL = strings.Trim(weaviateURL, "\"' ")

	if weaviateURL == "" {
		log.Fatal("WEAVIATE_SERVICE_URL must be set")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		log.Fatalf("WEAVIATE_SERVICE_URL is invalid: %q", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}
	client, err := weaviate.NewClient(clientConf)
	if err != nil {
		log.Fatalf("Failed to create Weaviate client: %v", err)
	}

	datatypes.EnsureWeaviateSchema(client)
	return client
}

// newLLMClient picks the chat backend from LLM_BACKEND_TYPE.
func newLLMClient() llm.LLMClient {
	var client llm.LLMClient
	var err error

	llmBackendType := os.Getenv("LLM_BACKEND_TYPE")
	switch llmBackendType {
	case "ollama":
		client, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "openai":
		client, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to openai")
		client, err = llm.NewOpenAIClient()
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	return client
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	weaviateClient := newWeaviateClient()
	llmClient := newLLMClient()

	embedder, err := retrieval.NewOpenAIEmbedder()
	if err != nil {
		log.Fatalf("Failed to initialize embedder: %v", err)
	}
	retriever := retrieval.NewWeaviateRetriever(weaviateClient, embedder, retrieval.DefaultRetrieverConfig())

	// A closure keeps the condenser decoupled from the full LLM client.
	generateFunc := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		temp := float32(0.2) // Low temperature for deterministic rephrasing
		params := llm.GenerationParams{
			Temperature: &temp,
			MaxTokens:   &maxTokens,
		}
		return llmClient.Generate(ctx, prompt, params)
	}
	condenser := conversation.NewLLMQueryCondenser(generateFunc, conversation.DefaultCondenserConfig())
	generator := conversation.NewLLMAnswerGenerator(llmClient, conversation.DefaultGeneratorConfig())

	pipeline := services.NewChatPipeline(condenser, retriever, generator, weaviateClient)

	router := gin.Default()
	router.Use(otelgin.Middleware("virtual-me-backend"))
	router.Use(middleware.CORSMiddleware())

	routes.SetupRoutes(router, pipeline)

	slog.Info("Starting the chat backend", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
