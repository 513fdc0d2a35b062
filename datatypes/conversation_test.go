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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// recordedRequest captures one request the mock Weaviate received.
type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// newMockWeaviate serves the GraphQL lookup and the object write endpoints.
// existingUUID controls whether the lookup finds a stored exchange.
func newMockWeaviate(t *testing.T, existingUUID string) (*weaviate.Client, *[]recordedRequest) {
	t.Helper()

	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body strings.Builder
		if r.Body != nil {
			buf := make([]byte, 64*1024)
			for {
				n, err := r.Body.Read(buf)
				body.Write(buf[:n])
				if err != nil {
					break
				}
			}
		}
		requests = append(requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body.String()})

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/graphql"):
			if existingUUID != "" {
				w.Write([]byte(`{"data":{"Get":{"Exchange":[{"_additional":{"id":"` + existingUUID + `"}}]}}}`))
			} else {
				w.Write([]byte(`{"data":{"Get":{"Exchange":[]}}}`))
			}
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/objects"):
			w.Write([]byte(`{"class":"Exchange","id":"11111111-1111-1111-1111-111111111111","properties":{}}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(server.Close)

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   strings.TrimPrefix(server.URL, "http://"),
		Scheme: "http",
	})
	if err != nil {
		t.Fatalf("failed to create weaviate client: %v", err)
	}
	return client, &requests
}

func TestExchange_Upsert_CreatesWhenMissing(t *testing.T) {
	client, requests := newMockWeaviate(t, "")

	exchange := &Exchange{
		ConversationID: "550e8400-e29b-41d4-a716-446655440000",
		Question:       "Where does he live?",
		Answer:         "Benedict lives in Munich.",
		ChatTurns: []string{
			"Human: Who is Benedict?",
			"Assistant: A developer.",
			"Human: Where does he live?",
			"Assistant: Benedict lives in Munich.",
		},
	}

	if err := exchange.Upsert(context.Background(), client); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	var sawCreate bool
	for _, req := range *requests {
		if req.Method == http.MethodPost && strings.HasSuffix(req.Path, "/objects") {
			sawCreate = true
			var payload map[string]any
			if err := json.Unmarshal([]byte(req.Body), &payload); err != nil {
				t.Fatalf("create payload is not JSON: %v", err)
			}
			if payload["class"] != "Exchange" {
				t.Errorf("expected class Exchange, got %v", payload["class"])
			}
			properties, ok := payload["properties"].(map[string]any)
			if !ok {
				t.Fatalf("create payload has no properties object")
			}
			turns, ok := properties["chat_turns"].([]any)
			if !ok {
				t.Fatalf("stored record must carry the chat_turns transcript")
			}
			if len(turns) != 4 {
				t.Errorf("expected 4 chat turns, got %d", len(turns))
			}
			if turns[0] != "Human: Who is Benedict?" {
				t.Errorf("chat turns must keep conversation order, got first turn %v", turns[0])
			}
		}
	}
	if !sawCreate {
		t.Error("expected a create call for a new conversation id")
	}
}

func TestExchange_Upsert_UpdatesExistingRecord(t *testing.T) {
	existing := "22222222-2222-2222-2222-222222222222"
	client, requests := newMockWeaviate(t, existing)

	exchange := &Exchange{
		ConversationID: "550e8400-e29b-41d4-a716-446655440000",
		Question:       "Where does he live?",
		Answer:         "Munich, still.",
	}

	if err := exchange.Upsert(context.Background(), client); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	var sawUpdate, sawCreate bool
	for _, req := range *requests {
		if req.Method == http.MethodPut && strings.Contains(req.Path, existing) {
			sawUpdate = true
		}
		if req.Method == http.MethodPost && strings.HasSuffix(req.Path, "/objects") {
			sawCreate = true
		}
	}
	if !sawUpdate {
		t.Error("expected the existing record to be updated in place")
	}
	if sawCreate {
		t.Error("an existing conversation id must not create a duplicate record")
	}
}

func TestExchange_Upsert_SkipsEmptyAnswer(t *testing.T) {
	client, requests := newMockWeaviate(t, "")

	exchange := &Exchange{
		ConversationID: "550e8400-e29b-41d4-a716-446655440000",
		Question:       "Where does he live?",
		Answer:         "   ",
	}

	if err := exchange.Upsert(context.Background(), client); err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}
	if len(*requests) != 0 {
		t.Errorf("expected no Weaviate calls for an empty answer, got %d", len(*requests))
	}
}
