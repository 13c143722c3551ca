package chat

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justarandomnameduh/omnichat/internal/backend"
	"github.com/justarandomnameduh/omnichat/internal/domain"
)

func TestSelectModelSwitch(t *testing.T) {
	gate := make(chan struct{})
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	newTurnLog().register(mux)
	mux.HandleFunc("/models/switch", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		serveJSON(w, http.StatusOK, `{"status":"success"}`)
	})

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	require.NoError(t, o.SelectModel(modelB))
	snap := waitUntil(t, o, "switch to begin", func(s Snapshot) bool { return s.Switching })
	require.True(t, snap.Locked)
	require.False(t, snap.CanSend)
	require.Equal(t, modelA, snap.CurrentModelID)

	// The switch lock gates both sends and further switches.
	require.ErrorIs(t, o.SendMessage("hello"), domain.ErrSwitchInProgress)
	require.ErrorIs(t, o.SelectModel(modelA), domain.ErrSwitchInProgress)

	close(gate)
	snap = waitUntil(t, o, "switch completion", func(s Snapshot) bool { return !s.Switching })
	require.Equal(t, modelB, snap.CurrentModelID)
	require.True(t, snap.CanSend)
}

func TestSelectModelFailureKeepsCurrent(t *testing.T) {
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	mux.HandleFunc("/models/switch", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, http.StatusServiceUnavailable, `{"status":"error","message":"model load failed"}`)
	})

	o := newTestOrchestrator(t, mux)
	waitUntil(t, o, "backend connection", func(s Snapshot) bool { return s.Connected })
	require.NoError(t, o.RefreshModels(context.Background()))

	require.NoError(t, o.SelectModel(modelB))
	snap := waitUntil(t, o, "switch failure", func(s Snapshot) bool {
		return !s.Switching && s.LastError != ""
	})
	require.Equal(t, modelA, snap.CurrentModelID)
	require.Equal(t, "model switch failed: model load failed", snap.LastError)
}

func TestSelectModelRejectedWhileGenerating(t *testing.T) {
	gate := make(chan struct{})
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	newTurnLog().register(mux)
	serveStream(mux, func(w http.ResponseWriter, r *http.Request, req backend.GenerateRequest) {
		writeSSE(w, "start", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		writeSSE(w, "done", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
	})

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	require.NoError(t, o.SendMessage("hello"))
	waitUntil(t, o, "stream to begin", func(s Snapshot) bool { return s.Generating })

	err := o.SelectModel(modelB)
	require.ErrorIs(t, err, domain.ErrAlreadyGenerating)
	require.True(t, domain.IsExclusivityViolation(err))
	require.Equal(t, modelA, o.Snapshot().CurrentModelID)

	close(gate)
	waitUntil(t, o, "turn completion", func(s Snapshot) bool { return s.CanSend })
}

func TestSelectModelValidation(t *testing.T) {
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)

	o := newTestOrchestrator(t, mux)
	waitUntil(t, o, "backend connection", func(s Snapshot) bool { return s.Connected })
	require.NoError(t, o.RefreshModels(context.Background()))

	require.ErrorIs(t, o.SelectModel("model-zzz"), domain.ErrModelNotFound)

	// Re-selecting the active model is a no-op, not a switch.
	require.NoError(t, o.SelectModel(modelA))
	require.False(t, o.Snapshot().Switching)
}

func TestRefreshModelsRespectsSwitchInFlight(t *testing.T) {
	var served atomic.Value
	served.Store(modelA)
	gate := make(chan struct{})

	mux := http.NewServeMux()
	serveHealth(mux)
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, http.StatusOK, fmt.Sprintf(`{"models":[{"id":"model-a","display_name":"Model A"},{"id":"model-b","display_name":"Model B"}],"current_model_id":%q,"switching":false}`, served.Load().(string)))
	})
	mux.HandleFunc("/models/switch", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		served.Store(modelB)
		serveJSON(w, http.StatusOK, `{"status":"success"}`)
	})

	o := newTestOrchestrator(t, mux)
	waitUntil(t, o, "backend connection", func(s Snapshot) bool { return s.Connected })
	require.NoError(t, o.RefreshModels(context.Background()))
	require.Equal(t, modelA, o.Snapshot().CurrentModelID)

	// Mid-switch the backend briefly reports no active model; a refresh
	// must not clobber the local state while the switch owns it.
	served.Store("")
	require.NoError(t, o.SelectModel(modelB))
	waitUntil(t, o, "switch to begin", func(s Snapshot) bool { return s.Switching })
	require.NoError(t, o.RefreshModels(context.Background()))
	require.Equal(t, modelA, o.Snapshot().CurrentModelID)

	close(gate)
	snap := waitUntil(t, o, "switch completion", func(s Snapshot) bool { return !s.Switching })
	require.Equal(t, modelB, snap.CurrentModelID)

	// Once no switch is in flight the backend is authoritative again.
	require.NoError(t, o.RefreshModels(context.Background()))
	require.Equal(t, modelB, o.Snapshot().CurrentModelID)
}
