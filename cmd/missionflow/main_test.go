package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/models"
)

func TestParseInputs(t *testing.T) {
	t.Parallel()

	inputs, err := parseInputs([]string{"quarter=Q1", " focus = covenants=DSCR"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"quarter": "Q1", "focus": " covenants=DSCR"}, inputs)

	inputs, err = parseInputs(nil)
	require.NoError(t, err)
	assert.Nil(t, inputs)

	_, err = parseInputs([]string{"novalue"})
	require.ErrorIs(t, err, errUsage)

	_, err = parseInputs([]string{"=x"})
	require.ErrorIs(t, err, errUsage)
}

func TestDecodeAutomation(t *testing.T) {
	t.Parallel()

	automation, err := decodeAutomation([]byte(`
domain_id: acme
name: Morning intake check
trigger: schedule
cron: "0 9 * * 1-5"
prompt_template: Check the intake queue.
require_approval: true
enabled: true
action:
  type: create_task
  config:
    title: Review intake
`))
	require.NoError(t, err)

	assert.Equal(t, "acme", automation.DomainID)
	assert.Equal(t, models.TriggerTypeSchedule, automation.Trigger)
	assert.Equal(t, "0 9 * * 1-5", automation.Cron)
	assert.True(t, automation.RequireApproval)
	require.NotNil(t, automation.Action)
	assert.Equal(t, models.ActionTypeCreateTask, automation.Action.Type)
	assert.Equal(t, "Review intake", automation.Action.Config["title"])
	require.NoError(t, automation.Validate())

	automation, err = decodeAutomation([]byte(`
domain_id: acme
name: Draft renewal letters
trigger: manual
prompt_template: Draft the renewal letters.
`))
	require.NoError(t, err)
	assert.True(t, automation.RequireApproval)

	automation, err = decodeAutomation([]byte("require_approval: false\n"))
	require.NoError(t, err)
	assert.False(t, automation.RequireApproval)

	_, err = decodeAutomation([]byte("name: [unclosed"))
	require.ErrorIs(t, err, models.ErrInvalidAutomation)
}

func TestMissionsValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	valid := filepath.Join(dir, "valid")
	require.NoError(t, os.MkdirAll(valid, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(valid, "covenant-check.yaml"), []byte(`
id: covenant-check
name: Covenant check
kind: loan_review
scope: single-domain
`), 0o600))

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("id: broken\nkind: unknown\n"), 0o600))

	var out bytes.Buffer

	app := newApp()
	app.Writer = &out

	err := app.Run(context.Background(), []string{"missionflow", "missions", "validate", valid})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "ok   covenant-check")

	out.Reset()

	app = newApp()
	app.Writer = &out

	err = app.Run(context.Background(), []string{"missionflow", "missions", "validate", valid, broken})
	require.ErrorIs(t, err, models.ErrInvalidMission)
	assert.Contains(t, out.String(), "FAIL "+broken)
}

func TestMissionsList(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	app := newApp()
	app.Writer = &out

	err := app.Run(context.Background(), []string{"missionflow", "missions", "list"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "KIND")
	assert.Contains(t, out.String(), "loan-review")
	assert.Contains(t, out.String(), "deadline-sweep")
}
