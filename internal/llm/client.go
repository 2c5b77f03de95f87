// Package llm provides the language model invocation contract used by the
// decision engine and roster generator, with token-accounted responses.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Completion is a token-accounted model response
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Invoker is the language model capability consumed by the arena core.
// The core never retries an invocation within a tick.
type Invoker interface {
	Invoke(ctx context.Context, modelID, systemPrompt, userPrompt string, maxTokens int) (*Completion, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// ClientConfig contains settings for the LLM client
type ClientConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// NewClient creates a new LLM client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8080/v1/chat/completions"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke sends a single chat completion request
func (c *Client) Invoke(ctx context.Context, modelID, systemPrompt, userPrompt string, maxTokens int) (*Completion, error) {
	request := chatRequest{
		Model: modelID,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens: maxTokens,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil || errResp.Error.Message == "" {
			return nil, fmt.Errorf("model API error (status %d): %s", resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("model API error: %s", errResp.Error.Message)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in model response")
	}

	log.Debug().
		Str("model", modelID).
		Int("input_tokens", chatResp.Usage.PromptTokens).
		Int("output_tokens", chatResp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("Model invocation completed")

	return &Completion{
		Text:         chatResp.Choices[0].Message.Content,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

// ExtractJSON pulls the outermost JSON object out of model output that may
// be wrapped in markdown fences or surrounding prose: everything from the
// first '{' to the last '}' inclusive.
func ExtractJSON(content string) (string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object found in model output")
	}
	return content[start : end+1], nil
}

var _ Invoker = (*Client)(nil)
