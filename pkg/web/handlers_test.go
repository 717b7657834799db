package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/actions/backend"
	"github.com/dukex/missionflow/pkg/actions/createdeadline"
	"github.com/dukex/missionflow/pkg/actions/createtask"
	"github.com/dukex/missionflow/pkg/actions/draftemail"
	"github.com/dukex/missionflow/pkg/actions/notification"
	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/events"
	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence/sqlstore"
	"github.com/dukex/missionflow/pkg/protocol"
	"github.com/dukex/missionflow/pkg/registry"
	"github.com/dukex/missionflow/pkg/scheduler"
	"github.com/dukex/missionflow/pkg/web"
)

func fence(tag, body string) string {
	return "```" + tag + "\n" + body + "\n```\n"
}

type fakeStreamer struct {
	reply   string
	block   bool
	started chan struct{}
}

func (f *fakeStreamer) Stream(ctx context.Context, _ protocol.StreamRequest, onToken func(string)) (*protocol.StreamResult, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}

	if f.block {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	onToken(f.reply)

	return &protocol.StreamResult{Text: f.reply, Model: "test-model", Provider: "fake"}, nil
}

type fakeDigests struct{}

func (fakeDigests) ReadDigest(_ context.Context, domainID string) (*models.Digest, error) {
	return &models.Digest{DomainID: domainID, Text: "digest", DomainsRead: []string{domainID}, ReadAt: time.Now()}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *fakePublisher) ofType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []eventbus.Event

	for _, event := range p.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

type fixture struct {
	app       *fiber.App
	publisher *fakePublisher
	store     *sqlstore.Store
}

func setupTestApp(t *testing.T, streamer *fakeStreamer) *fixture {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	dir := t.TempDir()

	store, err := sqlstore.Open(ctx, logger, filepath.Join(dir, "api.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(ctx) })

	catalog, err := missions.Load("")
	require.NoError(t, err)

	files, err := backend.NewFileBackend(filepath.Join(dir, "actions"))
	require.NoError(t, err)

	publisher := &fakePublisher{}

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(notification.NewActionFactory(publisher))
	reg.RegisterAction(createtask.NewActionFactory(files))
	reg.RegisterAction(createdeadline.NewActionFactory(files))
	reg.RegisterAction(draftemail.NewActionFactory(files))

	eng := engine.New(logger, store, catalog, reg, streamer, fakeDigests{}, engine.WithPublisher(publisher))
	t.Cleanup(func() { require.NoError(t, eng.Stop(ctx)) })

	sched := scheduler.New(logger, store, eng, scheduler.WithPublisher(publisher))

	api := web.NewAPI(logger, eng, sched, store, catalog, reg, publisher)

	return &fixture{app: api.App(), publisher: publisher, store: store}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	result := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &result)
	}

	return resp.StatusCode, result
}

func TestAPI_Health(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, &fakeStreamer{reply: "ok"})

	status, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_Missions(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, &fakeStreamer{reply: "ok"})

	status, body := f.do(t, http.MethodGet, "/missions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["missions"], 4)

	status, body = f.do(t, http.MethodGet, "/missions/loan-review", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "loan-review", body["id"])

	status, body = f.do(t, http.MethodGet, "/missions/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "mission_not_found", body["type"])

	status, _ = f.do(t, http.MethodPut, "/missions/loan-review/domains/acme", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodPut, "/missions/loan-review/domains/acme", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["enabled"])

	status, body = f.do(t, http.MethodGet, "/domains/acme/enablements", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["enablements"], 1)

	status, body = f.do(t, http.MethodPost, "/runs", map[string]any{"mission_id": "loan-review", "domain_id": "acme"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "mission_not_enabled", body["type"])
}

func TestAPI_RunLifecycle(t *testing.T) {
	t.Parallel()

	reply := fence("alert", `{"title": "Rent roll stale", "severity": "medium"}`) +
		fence("deadline", `{"title": "Covenant test", "due_date": "2026-03-31"}`)
	f := setupTestApp(t, &fakeStreamer{reply: reply})

	status, _ := f.do(t, http.MethodPost, "/runs", map[string]any{"domain_id": "acme"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := f.do(t, http.MethodPost, "/runs", map[string]any{"mission_id": "loan-review"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["type"])

	status, body = f.do(t, http.MethodPost, "/runs", map[string]any{
		"mission_id": "deadline-sweep",
		"domain_id":  "acme",
		"wait":       true,
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, string(models.RunStatusGated), body["status"])

	runID, ok := body["id"].(string)
	require.True(t, ok)

	status, body = f.do(t, http.MethodGet, "/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["actions"], 2)

	status, _ = f.do(t, http.MethodPost, "/runs/"+runID+"/decision", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodPost, "/runs/"+runID+"/decision", map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.RunStatusSuccess), body["status"])

	status, body = f.do(t, http.MethodPost, "/runs/"+runID+"/decision", map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.RunStatusSuccess), body["status"])

	assert.Len(t, f.publisher.ofType(events.NotificationRaisedEvent), 1)

	status, body = f.do(t, http.MethodGet, "/runs?domain_id=acme", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["runs"], 1)

	status, body = f.do(t, http.MethodPost, "/runs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "run_not_found", body["type"])

	status, _ = f.do(t, http.MethodGet, "/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_DomainBusy(t *testing.T) {
	t.Parallel()

	streamer := &fakeStreamer{block: true, started: make(chan struct{}, 1)}
	f := setupTestApp(t, streamer)

	status, body := f.do(t, http.MethodPost, "/runs", map[string]any{"mission_id": "deadline-sweep", "domain_id": "acme"})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, string(models.RunStatusPending), body["status"])

	runID, ok := body["id"].(string)
	require.True(t, ok)

	<-streamer.started

	status, body = f.do(t, http.MethodPost, "/runs", map[string]any{"mission_id": "loan-review", "domain_id": "acme"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "domain_busy", body["type"])

	status, _ = f.do(t, http.MethodPost, "/runs/"+runID+"/decision", map[string]any{"approved": true})
	assert.Equal(t, http.StatusConflict, status)

	status, body = f.do(t, http.MethodPost, "/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.RunStatusCancelled), body["status"])
}

func TestAPI_DecisionOnUnrecoveredRun(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, &fakeStreamer{})
	ctx := context.Background()

	// A gated run left behind by a previous process.
	run := &models.MissionRun{
		ID:          "orphan-run",
		MissionID:   "deadline-sweep",
		DomainID:    "acme",
		Status:      models.RunStatusGated,
		Diagnostics: models.Diagnostics{Errors: []string{}},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, f.store.CreateRun(ctx, run))

	status, body := f.do(t, http.MethodPost, "/runs/orphan-run/decision", map[string]any{"approved": true})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "run_not_recovered", body["type"])

	status, body = f.do(t, http.MethodGet, "/runs/orphan-run", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.RunStatusGated), body["status"])
}

func TestAPI_Automations(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, &fakeStreamer{reply: "Nothing new in the intake queue."})

	status, body := f.do(t, http.MethodPost, "/automations", map[string]any{
		"domain_id":       "acme",
		"name":            "Morning check",
		"trigger":         "schedule",
		"cron":            "not a cron",
		"prompt_template": "Check intake.",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["type"])

	status, body = f.do(t, http.MethodPost, "/automations", map[string]any{
		"domain_id":       "acme",
		"name":            "Morning check",
		"trigger":         "manual",
		"prompt_template": "Check intake for {{.DomainID}}.",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["detail"], ".DomainID")

	status, _ = f.do(t, http.MethodPost, "/automations", map[string]any{
		"domain_id":       "acme",
		"name":            "Morning check",
		"trigger":         "manual",
		"prompt_template": "Check intake.",
		"action":          map[string]any{"type": "create_task", "config": map[string]any{"color": "red"}},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodPost, "/automations", map[string]any{
		"domain_id":       "acme",
		"name":            "Morning check",
		"trigger":         "schedule",
		"cron":            "0 9 * * 1-5",
		"prompt_template": "Check intake for {{ .domain }}.",
		"enabled":         true,
	})
	require.Equal(t, http.StatusCreated, status)
	assert.NotNil(t, body["next_run_at"])

	id, ok := body["id"].(string)
	require.True(t, ok)

	status, body = f.do(t, http.MethodGet, "/automations?domain_id=acme", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["automations"], 1)

	status, body = f.do(t, http.MethodPut, "/automations/"+id, map[string]any{
		"domain_id":       "acme",
		"name":            "Morning intake check",
		"trigger":         "schedule",
		"cron":            "0 10 * * 1-5",
		"prompt_template": "Check intake.",
		"enabled":         true,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Morning intake check", body["name"])

	status, body = f.do(t, http.MethodPost, "/automations/"+id+"/disable", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["enabled"])

	status, body = f.do(t, http.MethodPost, "/automations/"+id+"/run", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.AutomationRunSuccess), body["status"])
	assert.Equal(t, string(models.TriggerSourceManual), body["trigger"])

	status, body = f.do(t, http.MethodGet, "/automations/"+id+"/runs", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["runs"], 1)

	status, body = f.do(t, http.MethodPost, "/automations/"+id+"/enable", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["enabled"])

	status, _ = f.do(t, http.MethodDelete, "/automations/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = f.do(t, http.MethodGet, "/automations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "automation_not_found", body["type"])

	status, _ = f.do(t, http.MethodPut, "/automations/"+id, map[string]any{"domain_id": "acme"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_AutomationRequiresApprovalByDefault(t *testing.T) {
	t.Parallel()

	reply := "Renewal letter drafted.\n" +
		fence("email_draft", `{"to": ["cfo@acme.test"], "subject": "Lease renewal", "body": "Please confirm."}`)
	f := setupTestApp(t, &fakeStreamer{reply: reply})

	status, body := f.do(t, http.MethodPost, "/automations", map[string]any{
		"domain_id":       "acme",
		"name":            "Renewal letters",
		"trigger":         "manual",
		"prompt_template": "Draft renewal letters for {{ .domain }}.",
		"enabled":         true,
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["require_approval"])

	id, ok := body["id"].(string)
	require.True(t, ok)

	status, body = f.do(t, http.MethodPost, "/automations/"+id+"/run", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.AutomationRunGated), body["status"])

	runID, ok := body["mission_run_id"].(string)
	require.True(t, ok)

	status, body = f.do(t, http.MethodGet, "/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.RunStatusGated), body["status"])

	actions, ok := body["actions"].([]any)
	require.True(t, ok)
	require.Len(t, actions, 1)

	action, ok := actions[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(models.ActionTypeDraftEmail), action["type"])
	assert.Equal(t, string(models.ActionStatusPending), action["status"])

	status, body = f.do(t, http.MethodPost, "/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.RunStatusCancelled), body["status"])
}

func TestAPI_EmitEvent(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, &fakeStreamer{reply: "ok"})

	status, _ := f.do(t, http.MethodPost, "/events", map[string]any{"name": "kb_changed"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/events", map[string]any{"name": "weather", "domain_id": "acme"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := f.do(t, http.MethodPost, "/events", map[string]any{
		"name":      "kb_changed",
		"domain_id": "acme",
		"payload":   map[string]any{"doc": "appraisal"},
	})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "kb_changed", body["name"])

	published := f.publisher.ofType(events.DomainEventType)
	require.Len(t, published, 1)

	event, ok := published[0].(*events.DomainEvent)
	require.True(t, ok)
	assert.Equal(t, "acme", event.DomainID)
}

func TestAPI_ActionTypes(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, &fakeStreamer{reply: "ok"})

	status, body := f.do(t, http.MethodGet, "/actions", nil)
	require.Equal(t, http.StatusOK, status)

	actions, ok := body["actions"].([]any)
	require.True(t, ok)
	assert.Len(t, actions, 4)
}
