package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/courier/internal/llm"
)

type Config struct {
	BaseURL       string
	Temperature   float64
	MaxTokens     int
	ClassifyModel string
	Timeout       time.Duration
}

// Client talks to an OpenAI-compatible chat-completions endpoint. The API
// key is supplied per call so the pool can rotate credentials without
// rebuilding clients.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if strings.TrimSpace(cfg.ClassifyModel) == "" {
		cfg.ClassifyModel = "llama-3.1-8b-instant"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (c *Client) Complete(ctx context.Context, apiKey string, req llm.Request) (llm.RawCompletion, error) {
	messages := []map[string]any{}
	if systemPrompt := strings.TrimSpace(req.SystemPrompt); systemPrompt != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": systemPrompt,
		})
	}
	for _, entry := range req.History {
		messages = append(messages, map[string]any{
			"role":    entry.Role,
			"content": entry.Content,
		})
	}
	messages = append(messages, userMessage(req))

	payload := map[string]any{
		"model":       req.ModelID,
		"messages":    messages,
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
		"top_p":       1,
	}
	if req.SupportsReasoning {
		payload["reasoning_format"] = "raw"
	}
	return c.post(ctx, apiKey, payload)
}

// Classify asks the cheap classification model a yes/no question and
// reports whether the answer starts with "yes".
func (c *Client) Classify(ctx context.Context, apiKey, question string) (bool, error) {
	payload := map[string]any{
		"model": c.cfg.ClassifyModel,
		"messages": []map[string]any{
			{
				"role":    "system",
				"content": "Answer with exactly one word, yes or no.",
			},
			{
				"role":    "user",
				"content": question,
			},
		},
		"temperature": 0,
		"max_tokens":  4,
	}
	completion, err := c.post(ctx, apiKey, payload)
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(completion.Text))
	return strings.HasPrefix(answer, "yes"), nil
}

func (c *Client) post(ctx context.Context, apiKey string, payload map[string]any) (llm.RawCompletion, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return llm.RawCompletion{}, fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return llm.RawCompletion{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return llm.RawCompletion{}, err
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return llm.RawCompletion{}, err
	}
	if res.StatusCode == http.StatusTooManyRequests {
		return llm.RawCompletion{}, fmt.Errorf("%w: status %d", llm.ErrRateLimited, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Error("chat completion failed", "status", res.StatusCode, "body", strings.TrimSpace(string(respBody)))
		return llm.RawCompletion{}, fmt.Errorf("chat completion failed with status %d", res.StatusCode)
	}

	var response chatCompletionResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return llm.RawCompletion{}, fmt.Errorf("decode completion response: %w", err)
	}
	if len(response.Choices) == 0 {
		return llm.RawCompletion{}, fmt.Errorf("completion response returned no choices")
	}
	choice := response.Choices[0]
	return llm.RawCompletion{
		Text:      choice.Message.Content,
		Truncated: choice.FinishReason == "length",
	}, nil
}

// userMessage builds the final user entry. Vision requests use the content
// parts shape with inline data URLs.
func userMessage(req llm.Request) map[string]any {
	if len(req.Images) == 0 {
		return map[string]any{
			"role":    "user",
			"content": req.PromptText,
		}
	}
	parts := []map[string]any{
		{"type": "text", "text": req.PromptText},
	}
	for _, image := range req.Images {
		parts = append(parts, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": "data:image/jpeg;base64," + image,
			},
		})
	}
	return map[string]any{
		"role":    "user",
		"content": parts,
	}
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
