package chat

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justarandomnameduh/omnichat/internal/domain"
)

func TestTranscribeDeliversTranscript(t *testing.T) {
	gate := make(chan struct{})
	var gotName atomic.Value
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("audio")
		if err != nil {
			serveJSON(w, http.StatusBadRequest, `{"status":"error","message":"No audio file provided"}`)
			return
		}
		file.Close()
		gotName.Store(header.Filename)
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		serveJSON(w, http.StatusOK, `{"status":"success","transcription_text":"note to self"}`)
	})

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	path := writeTempFile(t, t.TempDir(), "memo.wav")
	require.NoError(t, o.Transcribe(path))
	snap := waitUntil(t, o, "transcription to begin", func(s Snapshot) bool { return s.Transcribing })
	require.True(t, snap.Locked)
	require.False(t, snap.CanSend)

	// The transcription lock gates sends: the transcript targets the
	// input buffer and must not race a send.
	require.ErrorIs(t, o.SendMessage("hello"), domain.ErrTranscribing)
	require.ErrorIs(t, o.Transcribe(path), domain.ErrTranscribing)

	close(gate)
	ev := awaitEvent(t, o, EventTranscript)
	require.Equal(t, "note to self", ev.Text)
	require.Equal(t, "memo.wav", gotName.Load())

	snap = waitUntil(t, o, "lock release", func(s Snapshot) bool { return s.CanSend })
	require.False(t, snap.Transcribing)
}

func TestTranscribeFailure(t *testing.T) {
	mux := http.NewServeMux()
	serveHealth(mux)
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, http.StatusInternalServerError, `{"status":"error","message":"whisper exploded"}`)
	})

	o := newTestOrchestrator(t, mux)
	waitUntil(t, o, "backend connection", func(s Snapshot) bool { return s.Connected })

	path := writeTempFile(t, t.TempDir(), "memo.wav")
	require.NoError(t, o.Transcribe(path))

	ev := awaitEvent(t, o, EventNotice)
	require.Equal(t, "transcription failed", ev.Text)

	snap := waitUntil(t, o, "lock release", func(s Snapshot) bool { return !s.Transcribing })
	require.Equal(t, "transcription failed: whisper exploded", snap.LastError)
}

func TestTranscribeRequiresConnection(t *testing.T) {
	o := newTestOrchestrator(t, http.NewServeMux())
	err := o.Transcribe("memo.wav")
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

// serveGatedTranscribe registers a transcription endpoint that blocks
// until gate closes or the client hangs up, then answers with text.
func serveGatedTranscribe(mux *http.ServeMux, gate chan struct{}, text string) {
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("audio")
		if err != nil {
			serveJSON(w, http.StatusBadRequest, `{"status":"error","message":"No audio file provided"}`)
			return
		}
		file.Close()
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		serveJSON(w, http.StatusOK, `{"status":"success","transcription_text":`+fmt.Sprintf("%q", text)+`}`)
	})
}

func TestCancelTranscription(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	serveGatedTranscribe(mux, gate, "never delivered")

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	path := writeTempFile(t, t.TempDir(), "memo.wav")
	require.NoError(t, o.Transcribe(path))
	waitUntil(t, o, "transcription to begin", func(s Snapshot) bool { return s.Transcribing })

	o.CancelTranscription()
	ev := awaitEvent(t, o, EventNotice)
	require.Equal(t, "transcription cancelled", ev.Text)

	snap := waitUntil(t, o, "lock release", func(s Snapshot) bool { return s.CanSend })
	require.False(t, snap.Transcribing)
	require.Empty(t, snap.Assets)
	require.Empty(t, snap.LastError)
}

func TestRemoveAssetCancelsTranscription(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	serveGatedTranscribe(mux, gate, "never delivered")

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	path := writeTempFile(t, t.TempDir(), "memo.wav")
	require.NoError(t, o.Transcribe(path))
	snap := waitUntil(t, o, "transcription to begin", func(s Snapshot) bool { return s.Transcribing })
	require.Len(t, snap.Assets, 1)

	// Removing the ephemeral recording aborts the call it belongs to.
	o.RemoveAsset(snap.Assets[0].ID)
	ev := awaitEvent(t, o, EventNotice)
	require.Equal(t, "transcription cancelled", ev.Text)

	snap = waitUntil(t, o, "lock release", func(s Snapshot) bool { return s.CanSend })
	require.False(t, snap.Transcribing)
	require.Empty(t, snap.Assets)
}

func TestClearConversationCancelsTranscription(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	serveGatedTranscribe(mux, gate, "ghost text")

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	path := writeTempFile(t, t.TempDir(), "memo.wav")
	require.NoError(t, o.Transcribe(path))
	waitUntil(t, o, "transcription to begin", func(s Snapshot) bool { return s.Transcribing })

	// Clearing evicts the ephemeral recording, which must abort the
	// call the same way removing it individually does: the lock falls,
	// and no transcript of the cleared recording arrives later.
	require.NoError(t, o.ClearConversation())
	require.Empty(t, o.Snapshot().Assets)

	ev := awaitEvent(t, o, EventNotice)
	require.Equal(t, "transcription cancelled", ev.Text)

	snap := waitUntil(t, o, "lock release", func(s Snapshot) bool { return s.CanSend })
	require.False(t, snap.Transcribing)

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case ev, ok := <-o.Events():
			require.True(t, ok, "event channel closed early")
			require.NotEqual(t, EventTranscript, ev.Kind, "transcript delivered after clear: %q", ev.Text)
		case <-deadline:
			return
		}
	}
}
