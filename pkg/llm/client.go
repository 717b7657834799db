// Package llm streams mission prompts to a messages-style model API over
// server-sent events.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/missionflow/pkg/protocol"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	DefaultMaxTokens = 8192
	apiVersion       = "2023-06-01"
	providerName     = "anthropic"
)

var (
	ErrMissingAPIKey = errors.New("llm api key is not configured")
	ErrMissingModel  = errors.New("llm model is not configured")
	ErrAPI           = errors.New("llm api error")

	// ErrIncompleteStream is returned when the stream ends before message_stop.
	ErrIncompleteStream = errors.New("llm stream ended before message_stop")
)

type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// Client implements protocol.Streamer.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

var _ protocol.Streamer = (*Client)(nil)

func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if config.Model == "" {
		return nil, ErrMissingModel
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{},
		logger:     logger.With("module", "llm", "model", config.Model),
	}, nil
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string `json:"model"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Stream sends req and calls onToken for every text delta. Cancelling ctx
// aborts the HTTP stream and Stream returns ctx.Err().
func (c *Client) Stream(ctx context.Context, req protocol.StreamRequest, onToken func(string)) (*protocol.StreamResult, error) {
	body, err := json.Marshal(messageRequest{
		Model:     c.config.Model,
		MaxTokens: c.config.MaxTokens,
		System:    req.System,
		Messages:  []message{{Role: "user", Content: req.User}},
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Api-Key", c.config.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return nil, fmt.Errorf("%w: status %d: %s", ErrAPI, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	result := &protocol.StreamResult{Model: c.config.Model, Provider: providerName}

	text, err := c.read(resp.Body, result, onToken)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err != nil {
		return nil, err
	}

	result.Text = text

	c.logger.DebugContext(ctx, "Stream completed", "chars", len(text))

	return result, nil
}

func (c *Client) read(body io.Reader, result *protocol.StreamResult, onToken func(string)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var text strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		if data == "[DONE]" {
			return text.String(), nil
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.logger.Debug("Skipping undecodable stream event", "error", err)

			continue
		}

		switch {
		case event.Error != nil:
			return "", fmt.Errorf("%w: %s: %s", ErrAPI, event.Error.Type, event.Error.Message)
		case event.Type == "message_start" && event.Message != nil && event.Message.Model != "":
			result.Model = event.Message.Model
		case event.Type == "content_block_delta" && event.Delta != nil && event.Delta.Text != "":
			text.WriteString(event.Delta.Text)

			if onToken != nil {
				onToken(event.Delta.Text)
			}
		case event.Type == "message_stop":
			return text.String(), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream error: %w", err)
	}

	return "", fmt.Errorf("%w after %d characters", ErrIncompleteStream, text.Len())
}
