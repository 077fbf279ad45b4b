package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AnastRaja/chatbot-sub000/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Completer is the language-model capability the composer and summarizer depend on.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// ChatMessage represents a single turn in a chat conversation payload.
type ChatMessage struct {
	Role    string
	Content string
}

// CompletionRequest is one completion call. Zero values fall back to the client defaults.
type CompletionRequest struct {
	Messages    []ChatMessage
	Model       string
	MaxTokens   int
	Temperature *float64
}

// ChatUsage captures token usage metrics returned by the provider.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion represents the content and usage information for a chat completion.
type Completion struct {
	Content string
	Usage   *ChatUsage
}

// ChatClient wraps the HTTP calls to an OpenAI compatible chat completions API.
type ChatClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	modelID     string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Stream      bool                    `json:"stream"`
	Messages    []chatCompletionMessage `json:"messages"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float64                 `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
	Usage *ChatUsage `json:"usage"`
}

// NewChatClient builds a client from configuration. The timeout bounds every call.
func NewChatClient(cfg config.LLMConfig) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("llm: invalid base URL %q", baseURL)
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}

	return &ChatClient{
		// The transport timeout is a backstop; per-call deadlines come from ctx.
		httpClient:  &http.Client{Timeout: timeout + 5*time.Second},
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		modelID:     cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

// Complete sends the conversational messages to the model and returns the first reply.
func (c *ChatClient) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if c == nil {
		return Completion{}, errors.New("llm: client is nil")
	}

	payload := chatCompletionRequest{
		Model:       strings.TrimSpace(req.Model),
		Messages:    make([]chatCompletionMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: c.temperature,
	}
	if payload.Model == "" {
		payload.Model = c.modelID
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = c.maxTokens
	}
	if req.Temperature != nil {
		payload.Temperature = *req.Temperature
	}

	for _, msg := range req.Messages {
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			role = RoleUser
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		payload.Messages = append(payload.Messages, chatCompletionMessage{Role: role, Content: content})
	}
	if len(payload.Messages) == 0 {
		return Completion{}, errors.New("llm: messages contain no content")
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return Completion{}, fmt.Errorf("llm: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", body)
	if err != nil {
		return Completion{}, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("llm: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Completion{}, fmt.Errorf("llm: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Completion{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Completion{}, errors.New("llm: response contains no choices")
	}

	return Completion{
		Content: strings.TrimSpace(decoded.Choices[0].Message.Content),
		Usage:   normalizeUsage(decoded.Usage),
	}, nil
}

func normalizeUsage(usage *ChatUsage) *ChatUsage {
	if usage == nil {
		return nil
	}
	out := *usage
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	if out.PromptTokens == 0 && out.CompletionTokens == 0 && out.TotalTokens == 0 {
		return nil
	}
	return &out
}
