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

	"scrai/internal/schema"
)

// chatClient speaks the OpenAI-compatible chat-completions dialect used by
// both OpenRouter and LM Studio.
type chatClient struct {
	cfg     Config
	http    *http.Client
	headers func(*http.Request, Config)
}

func newChatClient(cfg Config, headers func(*http.Request, Config)) *chatClient {
	return &chatClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		headers: headers,
	}
}

// openRouterHeaders adds the attribution headers OpenRouter asks for.
func openRouterHeaders(req *http.Request, cfg Config) {
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("HTTP-Referer", "https://github.com/scrai/scrai")
	req.Header.Set("X-Title", "scrai")
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *chatClient) Available() bool {
	if c.cfg.BaseURL == "" || c.cfg.Model == "" {
		return false
	}
	// Local endpoints do not need a key.
	if c.cfg.Provider == "openrouter" && c.cfg.APIKey == "" {
		return false
	}
	return true
}

func (c *chatClient) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	if !c.Available() {
		return Decision{}, ErrUnavailable
	}

	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	raw, err := c.send(ctx, body)
	if err != nil {
		return Decision{}, err
	}
	return parseDecision(raw)
}

func (c *chatClient) send(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.headers != nil {
		c.headers(httpReq, c.cfg)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", errTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", errTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: status %d: %s", errTransient, resp.StatusCode, truncate(data, 200))
		}
		return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrBadResponse)
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseDecision extracts the action JSON from the model's reply. Models
// routinely wrap the object in code fences or prose, so we cut out the
// outermost {...} before decoding.
func parseDecision(raw string) (Decision, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Decision{}, fmt.Errorf("%w: no JSON object in %q", ErrBadResponse, truncate([]byte(raw), 120))
	}
	text = text[start : end+1]

	var body struct {
		ActionName string         `json:"action_name"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(text), &body); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if body.ActionName == "" {
		return Decision{}, fmt.Errorf("%w: missing action_name", ErrBadResponse)
	}

	params, err := schema.FromAnyMap(body.Parameters)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: parameters: %v", ErrBadResponse, err)
	}
	return Decision{Kind: body.ActionName, Params: params}, nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
