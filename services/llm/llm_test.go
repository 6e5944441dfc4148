// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// OpenAI
// =============================================================================

func newTestOpenAIServer(t *testing.T) (*httptest.Server, *map[string]any) {
	t.Helper()
	var lastChat map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&lastChat))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"[\"employment_law\"]"},"finish_reason":"stop"}]}`))
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.25,0.5,0.75]}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastChat
}

func TestOpenAIClient_Generate(t *testing.T) {
	srv, lastChat := newTestOpenAIServer(t)
	client, err := NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "sk-test", Model: "test", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "classify this", GenerationParams{
		Temperature: Float32(0.3),
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, `["employment_law"]`, out)

	req := *lastChat
	assert.Equal(t, "test", req["model"])
	assert.InDelta(t, 0.3, req["temperature"], 0.0001)
	assert.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])

	msgs := req["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "classify this", msgs[1].(map[string]any)["content"])
}

func TestOpenAIClient_Embed(t *testing.T) {
	srv, _ := newTestOpenAIServer(t)
	client, err := NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "unpaid wages")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 0.75}, vec)
}

func TestOpenAIClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "hi", GenerationParams{})
	assert.ErrorContains(t, err, "OpenAI API call failed")
}

func TestNewOpenAIClientWithConfig_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClientWithConfig(OpenAIConfig{})
	assert.Error(t, err)
}

// =============================================================================
// Ollama
// =============================================================================

func TestOllamaClient_Chat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"facts\":[]}"},"done":true}`))
	}))
	defer srv.Close()

	client := NewOllamaClientWithConfig(srv.URL+"/", "llama3", "")
	out, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "extract"},
	}, GenerationParams{JSONMode: true, MaxTokens: Int(256)})
	require.NoError(t, err)
	assert.Equal(t, `{"facts":[]}`, out)

	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	assert.Len(t, got.Messages, 2)
	assert.EqualValues(t, 256, got.Options["num_predict"])
	assert.InDelta(t, 0.2, got.Options["temperature"], 0.0001)
}

func TestOllamaClient_Generate_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"llama3\" not found"}`))
	}))
	defer srv.Close()

	client := NewOllamaClientWithConfig(srv.URL, "llama3", "")
	_, err := client.Generate(context.Background(), "hi", GenerationParams{})
	assert.ErrorContains(t, err, "ollama pull")
}

func TestOllamaClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_, _ = w.Write([]byte(`{"embeddings":[[1,2,3]]}`))
	}))
	defer srv.Close()

	vec, err := NewOllamaClientWithConfig(srv.URL, "m", "").Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func TestNewOllamaClient_RequiresBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	_, err := NewOllamaClient()
	assert.Error(t, err)
}

// =============================================================================
// Rate limiting
// =============================================================================

type countingClient struct {
	calls atomic.Int32
}

func (c *countingClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	c.calls.Add(1)
	return "ok", nil
}

func (c *countingClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	c.calls.Add(1)
	return "ok", nil
}

func TestNewRateLimitedClient_DisabledReturnsNext(t *testing.T) {
	next := &countingClient{}
	assert.Same(t, next, NewRateLimitedClient(next, 0, 0))
}

func TestRateLimitedClient_HonoursContext(t *testing.T) {
	next := &countingClient{}
	client := NewRateLimitedClient(next, 0.001, 1)

	_, err := client.Generate(context.Background(), "first", GenerationParams{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Chat(ctx, nil, GenerationParams{})
	assert.ErrorContains(t, err, "rate limiter")
	assert.Equal(t, int32(1), next.calls.Load())
}
