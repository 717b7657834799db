package backend_test

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/actions/backend"
	"github.com/dukex/missionflow/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewHTTPBackend(t *testing.T) {
	t.Parallel()

	_, err := backend.NewHTTPBackend(map[string]any{"base_url": "ftp://nope"}, testLogger())
	require.ErrorIs(t, err, backend.ErrBaseURLInvalid)

	b, err := backend.NewHTTPBackend(map[string]any{
		"base_url": "https://tasks.example.com/api/",
		"headers":  map[string]any{"Authorization": "Bearer abc", "X-Ignored": 1},
		"retry":    map[string]any{"attempts": 3.0},
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "https://tasks.example.com/api", b.BaseURL)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, b.Headers)
	assert.Equal(t, 3, b.Retry.Attempts)
}

func TestHTTPBackend_CreateTask(t *testing.T) {
	t.Parallel()

	var received models.TaskPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tasks", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"task-42"}`))
	}))
	defer server.Close()

	b, err := backend.NewHTTPBackend(map[string]any{
		"base_url": server.URL,
		"headers":  map[string]any{"Authorization": "Bearer abc"},
	}, testLogger())
	require.NoError(t, err)

	id, err := b.CreateTask(context.Background(), &models.TaskPayload{Title: "Call borrower", DueDate: "2026-03-01"})
	require.NoError(t, err)
	assert.Equal(t, "task-42", id)
	assert.Equal(t, "Call borrower", received.Title)
	assert.Equal(t, "2026-03-01", received.DueDate)
}

func TestHTTPBackend_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte(`{"id":"draft-1"}`))
	}))
	defer server.Close()

	b, err := backend.NewHTTPBackend(map[string]any{
		"base_url": server.URL,
		"retry":    map[string]any{"attempts": 3.0},
	}, testLogger())
	require.NoError(t, err)

	id, err := b.CreateDraft(context.Background(), &models.EmailDraftPayload{To: []string{"a@example.com"}, Subject: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "draft-1", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPBackend_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad due date", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	b, err := backend.NewHTTPBackend(map[string]any{
		"base_url": server.URL,
		"retry":    map[string]any{"attempts": 5.0},
	}, testLogger())
	require.NoError(t, err)

	_, err = b.CreateDeadline(context.Background(), &models.DeadlinePayload{Title: "Renewal", DueDate: "soon"})
	require.ErrorIs(t, err, backend.ErrRequestRejected)
	assert.Contains(t, err.Error(), "bad due date")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPBackend_MissingID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	b, err := backend.NewHTTPBackend(map[string]any{"base_url": server.URL}, testLogger())
	require.NoError(t, err)

	_, err = b.CreateTask(context.Background(), &models.TaskPayload{Title: "x"})
	require.ErrorIs(t, err, backend.ErrMissingID)
}

func TestFileBackend_AppendsRecords(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "outbox")

	b, err := backend.NewFileBackend(dir)
	require.NoError(t, err)

	ctx := context.Background()

	first, err := b.CreateTask(ctx, &models.TaskPayload{Title: "one"})
	require.NoError(t, err)

	second, err := b.CreateTask(ctx, &models.TaskPayload{Title: "two"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = b.CreateDeadline(ctx, &models.DeadlinePayload{Title: "renewal", DueDate: "2026-01-31"})
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(dir, backend.TasksFile))
	require.NoError(t, err)
	defer f.Close()

	var titles []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line struct {
			ID     string             `json:"id"`
			Kind   string             `json:"kind"`
			Record models.TaskPayload `json:"record"`
		}

		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		assert.Equal(t, "task", line.Kind)
		titles = append(titles, line.Record.Title)
	}

	assert.Equal(t, []string{"one", "two"}, titles)
	assert.FileExists(t, filepath.Join(dir, backend.DeadlinesFile))
	assert.NoFileExists(t, filepath.Join(dir, backend.DraftsFile))
}

func TestFileBackend_CancelledContext(t *testing.T) {
	t.Parallel()

	b, err := backend.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = b.CreateDraft(ctx, &models.EmailDraftPayload{Subject: "x"})
	require.ErrorIs(t, err, context.Canceled)
}
