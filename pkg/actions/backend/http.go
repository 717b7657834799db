// Package backend provides the task, deadline and email draft back-ends the
// side-effecting executors write to.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/missionflow/pkg/models"
)

const defaultTimeoutSeconds = 30

var (
	// ErrBaseURLInvalid is returned when the back-end URL is missing or malformed.
	ErrBaseURLInvalid = errors.New("invalid back-end base URL")
	// ErrServerError is returned when the back-end answers with a 5xx status.
	ErrServerError = errors.New("back-end server error")
	// ErrRequestRejected is returned when the back-end answers with a 4xx status.
	ErrRequestRejected = errors.New("back-end rejected the request")
	// ErrMissingID is returned when the back-end does not return a record id.
	ErrMissingID = errors.New("back-end response has no id")
)

// RetryConfig defines retry behavior for back-end calls.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// HTTPBackend posts records as JSON to a task/calendar/mail service:
// POST {base}/tasks, {base}/deadlines and {base}/drafts, each answering {"id": "..."}.
type HTTPBackend struct {
	BaseURL string
	Headers map[string]string
	Retry   RetryConfig

	client *http.Client
	logger *slog.Logger
}

// NewHTTPBackend creates a back-end from configuration. Recognised keys are
// base_url, headers, timeout_seconds and retry {attempts, delay_seconds}.
func NewHTTPBackend(config map[string]any, logger *slog.Logger) (*HTTPBackend, error) {
	baseURL, _ := config["base_url"].(string)
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrBaseURLInvalid, baseURL)
	}

	headers := make(map[string]string)

	if headersMap, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	return &HTTPBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Headers: headers,
		Retry:   parseRetryConfig(config["retry"]),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("module", "http_backend"),
	}, nil
}

func parseRetryConfig(retryConfig any) RetryConfig {
	retry := RetryConfig{Attempts: 1, Delay: 0}

	retryMap, ok := retryConfig.(map[string]any)
	if !ok {
		return retry
	}

	if attempts, ok := retryMap["attempts"].(float64); ok && attempts >= 1 {
		retry.Attempts = int(attempts)
	}

	if delay, ok := retryMap["delay_seconds"].(float64); ok && delay > 0 {
		retry.Delay = time.Duration(delay * float64(time.Second))
	}

	return retry
}

func (b *HTTPBackend) CreateTask(ctx context.Context, task *models.TaskPayload) (string, error) {
	return b.post(ctx, "/tasks", task)
}

func (b *HTTPBackend) CreateDeadline(ctx context.Context, deadline *models.DeadlinePayload) (string, error) {
	return b.post(ctx, "/deadlines", deadline)
}

func (b *HTTPBackend) CreateDraft(ctx context.Context, draft *models.EmailDraftPayload) (string, error) {
	return b.post(ctx, "/drafts", draft)
}

// post sends the record, retrying transport failures and 5xx answers.
// 4xx answers are not retried.
func (b *HTTPBackend) post(ctx context.Context, path string, record any) (string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	url := b.BaseURL + path

	var lastErr error

	for attempt := 1; attempt <= b.Retry.Attempts; attempt++ {
		if attempt > 1 {
			b.logger.InfoContext(ctx, "retrying back-end call", "attempt", attempt, "of", b.Retry.Attempts, "url", url)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(b.Retry.Delay):
			}
		}

		id, retryable, err := b.do(ctx, url, body)
		if err == nil {
			return id, nil
		}

		lastErr = err

		if !retryable {
			break
		}
	}

	return "", fmt.Errorf("POST %s failed: %w", url, lastErr)
}

func (b *HTTPBackend) do(ctx context.Context, url string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range b.Headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("%w (status %d)", ErrServerError, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", false, fmt.Errorf("%w (status %d): %s", ErrRequestRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var created struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(respBody, &created); err != nil || created.ID == "" {
		return "", false, ErrMissingID
	}

	b.logger.DebugContext(ctx, "back-end record created", "url", url, "id", created.ID)

	return created.ID, false, nil
}
