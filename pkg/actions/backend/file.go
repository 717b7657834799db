package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/missionflow/pkg/models"
)

const (
	TasksFile     = "tasks.jsonl"
	DeadlinesFile = "deadlines.jsonl"
	DraftsFile    = "drafts.jsonl"
)

// FileBackend appends records as JSON lines under a directory. It is the
// local default when no external service is configured.
type FileBackend struct {
	Directory string

	mu  sync.Mutex
	now func() time.Time
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(directory string) (*FileBackend, error) {
	if directory == "" {
		return nil, fmt.Errorf("file back-end directory is required")
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory '%s': %w", directory, err)
	}

	return &FileBackend{Directory: directory, now: time.Now}, nil
}

type fileRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Record    any       `json:"record"`
}

func (b *FileBackend) CreateTask(ctx context.Context, task *models.TaskPayload) (string, error) {
	return b.append(ctx, TasksFile, "task", task)
}

func (b *FileBackend) CreateDeadline(ctx context.Context, deadline *models.DeadlinePayload) (string, error) {
	return b.append(ctx, DeadlinesFile, "deadline", deadline)
}

func (b *FileBackend) CreateDraft(ctx context.Context, draft *models.EmailDraftPayload) (string, error) {
	return b.append(ctx, DraftsFile, "email_draft", draft)
}

func (b *FileBackend) append(ctx context.Context, name, kind string, record any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entry := fileRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: b.now().UTC(),
		Record:    record,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fullPath := filepath.Join(b.Directory, name)

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open file '%s': %w", fullPath, err)
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()

		return "", fmt.Errorf("failed to write file '%s': %w", fullPath, err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close file '%s': %w", fullPath, err)
	}

	return entry.ID, nil
}
