package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

// AIConfig holds AI completion provider settings.
type AIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// HTTPAIClient implements AIClient against a chat-completions style API.
type HTTPAIClient struct {
	cfg   AIConfig
	hc    *http.Client
	guard *Guard
}

// NewHTTPAIClient creates the AI completion client.
func NewHTTPAIClient(cfg AIConfig, guard *Guard) *HTTPAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &HTTPAIClient{
		cfg:   cfg,
		hc:    newHTTPClient(cfg.Timeout),
		guard: guard,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete returns the full completion for the conversation.
func (c *HTTPAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	var out chatResponse
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		req := chatRequest{
			Model:       c.cfg.Model,
			Messages:    messages,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		}
		return doJSON(ctx, c.hc, DepAI, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", c.cfg.APIKey, req, &out)
	})
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &domain.RetryableError{Provider: DepAI, Err: fmt.Errorf("empty completion response")}
	}
	return out.Choices[0].Message.Content, nil
}

// CompleteStream streams the completion chunk by chunk. The stream runs
// under the breaker without retries: replaying a half-delivered stream
// would duplicate text at the consumer.
func (c *HTTPAIClient) CompleteStream(ctx context.Context, messages []Message, onChunk func(chunk string) error) error {
	return c.guard.Once(ctx, func(ctx context.Context) error {
		req := chatRequest{
			Model:       c.cfg.Model,
			Messages:    messages,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
			Stream:      true,
		}
		data, err := json.Marshal(req)
		if err != nil {
			return &domain.FatalError{Provider: DepAI, Err: err}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
		if err != nil {
			return &domain.FatalError{Provider: DepAI, Err: err}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.hc.Do(httpReq)
		if err != nil {
			return &domain.RetryableError{Provider: DepAI, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body := make([]byte, 512)
			n, _ := resp.Body.Read(body)
			return classifyStatus(DepAI, resp, body[:n])
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue // skip malformed keep-alive frames
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if err := onChunk(text); err != nil {
					return err
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return &domain.RetryableError{Provider: DepAI, Err: fmt.Errorf("stream read: %w", err)}
		}
		return nil
	})
}
