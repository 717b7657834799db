package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/mocks"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence/sqlstore"
	"github.com/dukex/missionflow/pkg/protocol"
	"github.com/dukex/missionflow/pkg/registry"
)

func newMockedEngine(t *testing.T, streamer protocol.Streamer, digests protocol.DigestReader) *engine.Engine {
	t.Helper()

	ctx := context.Background()
	logger := testLogger()

	store, err := sqlstore.Open(ctx, logger, filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(ctx) })

	catalog, err := missions.Load("")
	require.NoError(t, err)

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(recordingFactory{typ: models.ActionTypeNotification, rec: &recorder{}})

	eng := engine.New(logger, store, catalog, reg, streamer, digests)

	t.Cleanup(func() { require.NoError(t, eng.Stop(ctx)) })

	return eng
}

func TestRun_DigestFailureSkipsStream(t *testing.T) {
	t.Parallel()

	streamer := &mocks.MockStreamer{}
	digests := &mocks.MockDigestReader{}
	digests.On("ReadDigest", mock.Anything, "acme").Return(nil, errors.New("kb offline"))

	eng := newMockedEngine(t, streamer, digests)

	run, err := eng.Run(context.Background(), engine.Request{MissionID: "deadline-sweep", DomainID: "acme"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, models.ErrorKindDigest, run.Error.Kind)
	assert.Contains(t, run.Error.Message, "kb offline")

	digests.AssertExpectations(t)
	streamer.AssertNotCalled(t, "Stream", mock.Anything, mock.Anything)
}

func TestRun_PromptCarriesDigest(t *testing.T) {
	t.Parallel()

	digests := &mocks.MockDigestReader{}
	digests.On("ReadDigest", mock.Anything, "acme").Return(&models.Digest{
		DomainID:    "acme",
		Text:        "Appraisal dated 2026-01-02, as-is value $12.4M.",
		DomainsRead: []string{"acme"},
	}, nil)

	reply := fence("alert", `{"title": "Appraisal aging", "severity": "low"}`)

	streamer := &mocks.MockStreamer{}
	streamer.On("Stream", mock.Anything, mock.MatchedBy(func(req protocol.StreamRequest) bool {
		return strings.Contains(req.System, "as-is value $12.4M") && req.User != ""
	})).Return(&protocol.StreamResult{Text: reply, Model: "mock-model", Provider: "mock"}, nil)

	eng := newMockedEngine(t, streamer, digests)

	run, err := eng.Run(context.Background(), engine.Request{MissionID: "deadline-sweep", DomainID: "acme"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, "mock-model", run.Provenance.Model)
	assert.Equal(t, "mock", run.Provenance.Provider)

	streamer.AssertExpectations(t)
	digests.AssertExpectations(t)
}
