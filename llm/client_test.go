package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnastRaja/chatbot-sub000/config"
)

func TestChatClientComplete(t *testing.T) {
	var received chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Hello there "}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer server.Close()

	client, err := NewChatClient(config.LLMConfig{APIKey: "sk-test", BaseURL: server.URL + "/", Model: "gpt-4o-mini", MaxTokens: 300, Temperature: 0.3, Timeout: time.Second})
	require.NoError(t, err)

	result, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []ChatMessage{{Role: RoleSystem, Content: "Be nice"}, {Content: "hi"}, {Role: RoleUser, Content: "   "}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", result.Content)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 15, result.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", received.Model)
	assert.Equal(t, 300, received.MaxTokens)
	assert.InDelta(t, 0.3, received.Temperature, 1e-9)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, RoleUser, received.Messages[1].Role)
}

func TestChatClientOverridesAndErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "broken" {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client, err := NewChatClient(config.LLMConfig{APIKey: "k", BaseURL: server.URL, Model: "m", Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), CompletionRequest{Model: "broken", Messages: []ChatMessage{{Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	_, err = client.Complete(context.Background(), CompletionRequest{Messages: []ChatMessage{{Content: "hi"}}})
	assert.ErrorContains(t, err, "no choices")

	_, err = client.Complete(context.Background(), CompletionRequest{})
	assert.ErrorContains(t, err, "no content")
}

func TestChatClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, err := NewChatClient(config.LLMConfig{APIKey: "k", BaseURL: server.URL, Model: "m", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), CompletionRequest{Messages: []ChatMessage{{Content: "hi"}}})
	assert.Error(t, err)
}

func TestNewChatClientValidation(t *testing.T) {
	_, err := NewChatClient(config.LLMConfig{BaseURL: "https://x", Model: "m"})
	assert.Error(t, err)
	_, err = NewChatClient(config.LLMConfig{APIKey: "k", BaseURL: "ftp://x", Model: "m"})
	assert.Error(t, err)
}
