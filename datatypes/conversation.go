// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
)

var convTracer = otel.Tracer("virtualme.datatypes")

// ExchangeClass is the Weaviate class storing completed chat exchanges.
const ExchangeClass = "Exchange"

// Exchange is one completed conversation state, keyed by conversation id.
// Saving the same conversation id again overwrites the stored record.
// ChatTurns carries the whole transcript in order (prior history, this
// turn's question, the answer); Question and Answer repeat the latest turn
// for direct querying.
type Exchange struct {
	ConversationID string   `json:"conversation_id"`
	Question       string   `json:"question"`
	Answer         string   `json:"answer"`
	ChatTurns      []string `json:"chat_turns"`
}

// exchangeQueryResponse mirrors the GraphQL shape of an Exchange lookup.
type exchangeQueryResponse struct {
	Get struct {
		Exchange []struct {
			Additional struct {
				ID string `json:"id"`
			} `json:"_additional"`
		} `json:"Exchange"`
	} `json:"Get"`
}

// FindExchangeUUID looks up the Weaviate object UUID stored under the given
// conversation id. Returns an empty string when no record exists.
func FindExchangeUUID(ctx context.Context, client *weaviate.Client,
	conversationID string) (string, error) {

	ctx, span := convTracer.Start(ctx, "FindExchangeUUID")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueString(conversationID)

	fields := []graphql.Field{
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	resp, err := client.GraphQL().Get().
		WithClassName(ExchangeClass).
		WithWhere(where).
		WithFields(fields...).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("error querying for exchange: %w", err)
	}
	if len(resp.Errors) > 0 {
		return "", fmt.Errorf("exchange query failed: %s", resp.Errors[0].Message)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return "", fmt.Errorf("error marshaling exchange query response: %w", err)
	}
	var queryResp exchangeQueryResponse
	if err := json.Unmarshal(raw, &queryResp); err != nil {
		return "", fmt.Errorf("error parsing exchange query response: %w", err)
	}

	if len(queryResp.Get.Exchange) > 0 {
		return queryResp.Get.Exchange[0].Additional.ID, nil
	}
	return "", nil
}

// Upsert writes the exchange to Weaviate keyed by its conversation id.
// An existing record under the same id is updated in place, so each
// conversation holds exactly one stored exchange. Empty answers are skipped.
func (e *Exchange) Upsert(ctx context.Context, client *weaviate.Client) error {
	if len(strings.TrimSpace(e.Answer)) == 0 {
		return nil
	}

	ctx, span := convTracer.Start(ctx, "Exchange.Upsert")
	defer span.End()

	slog.Info("Saving the exchange to Weaviate", "conversationId", e.ConversationID)

	properties := map[string]interface{}{
		"conversation_id": e.ConversationID,
		"question":        e.Question,
		"answer":          e.Answer,
		"chat_turns":      e.ChatTurns,
		"timestamp":       time.Now().UnixMilli(),
	}

	existingUUID, err := FindExchangeUUID(ctx, client, e.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to look up existing exchange: %w", err)
	}

	if existingUUID != "" {
		err = client.Data().Updater().
			WithClassName(ExchangeClass).
			WithID(existingUUID).
			WithProperties(properties).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to update exchange object in Weaviate: %w", err)
		}
		slog.Info("Updated existing exchange", "conversationId", e.ConversationID, "weaviateUUID", existingUUID)
		return nil
	}

	result, err := client.Data().Creator().
		WithClassName(ExchangeClass).
		WithProperties(properties).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save exchange object to Weaviate: %w", err)
	}
	if result == nil || result.Object == nil {
		return fmt.Errorf("weaviate created an exchange but returned a nil result")
	}

	slog.Info("Successfully saved exchange", "conversationId", e.ConversationID, "weaviateUUID", result.Object.ID)
	return nil
}
