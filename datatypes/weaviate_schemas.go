// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// GetDocumentSchema describes the knowledge base chunks about Benedict.
// Vectors are supplied by the ingestion job, so the class has no vectorizer.
func GetDocumentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       DocumentClass,
		Description: "Chunks of the personal knowledge base used as answer context.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:        "content",
				DataType:    []string{"text"},
				Description: "The chunk text",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Origin document of the chunk",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetExchangeSchema describes the stored question/answer pairs.
func GetExchangeSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ExchangeClass,
		Description: "One completed chat exchange per conversation id.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "conversation_id",
				DataType:        []string{"text"},
				Description:     "Client-supplied conversation identifier",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "question",
				DataType:    []string{"text"},
				Description: "The raw user question of the latest turn",
			},
			{
				Name:        "answer",
				DataType:    []string{"text"},
				Description: "The streamed answer, fully assembled",
			},
			{
				Name:        "chat_turns",
				DataType:    []string{"text[]"},
				Description: "The full transcript in order, one entry per turn",
			},
			{
				Name:     "timestamp",
				DataType: []string{"number"},
			},
		},
	}
}

func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetDocumentSchema,
		GetExchangeSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// The client returns an error when the class does not exist yet.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
