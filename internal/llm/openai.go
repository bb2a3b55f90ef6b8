package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/odvcencio/issuelens/internal/config"
	"github.com/odvcencio/issuelens/internal/retry"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com"
	openAISystemMessage  = "You are a helpful assistant that analyzes GitHub issues and provides insights."
)

type openAIClient struct {
	baseURL         string
	apiKey          string
	model           string
	maxOutputTokens int
	httpClient      *http.Client
	policy          retry.Policy
}

func newOpenAI(cfg config.LLMConfig, hc *http.Client, policy retry.Policy) *openAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &openAIClient{
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		maxOutputTokens: cfg.MaxOutputTokens,
		httpClient:      hc,
		policy:          policy,
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func (c *openAIClient) Complete(ctx context.Context, prompt, contextText string) (string, error) {
	user := prompt
	if contextText != "" {
		user = prompt + "\n\nHere are the issues to analyze:\n\n" + contextText
	}
	payload := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: openAISystemMessage},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   c.maxOutputTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	return retry.Do(ctx, c.policy, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		if err := classifyStatus(resp.StatusCode); err != nil {
			return "", err
		}

		var out openAIResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		if len(out.Choices) == 0 {
			return "", fmt.Errorf("%w: empty choices", ErrRejected)
		}
		return out.Choices[0].Message.Content, nil
	})
}
