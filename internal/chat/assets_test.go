package chat

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justarandomnameduh/omnichat/internal/backend"
	"github.com/justarandomnameduh/omnichat/internal/domain"
)

func writeTempFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("fake image bytes"), 0o644))
	return path
}

// serveUpload accepts any file and saves it under an up_ prefix. Files
// named bad.png are rejected with a 400.
func serveUpload(mux *http.ServeMux) {
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("files")
		if err != nil {
			serveJSON(w, http.StatusBadRequest, `{"status":"error","message":"No file part in the request"}`)
			return
		}
		file.Close()
		if header.Filename == "bad.png" {
			serveJSON(w, http.StatusBadRequest, `{"status":"error","message":"unsupported image"}`)
			return
		}
		name := "up_" + header.Filename
		serveJSON(w, http.StatusOK, fmt.Sprintf(`{"status":"success","message":"1 file(s) uploaded successfully","files":[{"original_name":%q,"saved_name":%q,"path":%q}]}`, header.Filename, name, name))
	})
}

func TestAddAssetsUploadsAndAttaches(t *testing.T) {
	gate := make(chan struct{})
	gotPaths := make(chan []string, 1)

	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	turns := newTurnLog()
	turns.register(mux)
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("files")
		if err != nil {
			serveJSON(w, http.StatusBadRequest, `{"status":"error","message":"No file part in the request"}`)
			return
		}
		file.Close()
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		name := "up_" + header.Filename
		serveJSON(w, http.StatusOK, fmt.Sprintf(`{"status":"success","files":[{"original_name":%q,"saved_name":%q,"path":%q}]}`, header.Filename, name, name))
	})
	serveStream(mux, func(w http.ResponseWriter, r *http.Request, req backend.GenerateRequest) {
		gotPaths <- req.ImagePaths
		writeSSE(w, "start", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
		writeSSE(w, "token", fmt.Sprintf(`{"turn_id":%q,"text":"A cat."}`, req.TurnID))
		writeSSE(w, "done", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
	})

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	path := writeTempFile(t, t.TempDir(), "cat.png")
	batch := o.AddAssets(path)
	require.Len(t, batch, 1)
	assetID := batch[0].ID

	// The record appears immediately, selected, before the upload lands.
	snap := o.Snapshot()
	require.Len(t, snap.Assets, 1)
	require.True(t, snap.Assets[0].Uploading)
	require.True(t, snap.Assets[0].Selected)
	require.False(t, snap.Assets[0].Attachable())
	require.Equal(t, "cat.png", snap.Assets[0].OriginalName)

	// Pending uploads do not block sending; they are just not attached.
	require.True(t, snap.CanSend)

	close(gate)
	snap = waitUntil(t, o, "upload completion", func(s Snapshot) bool { return !s.Assets[0].Uploading })
	require.Equal(t, "up_cat.png", snap.Assets[0].RemotePath)
	require.Empty(t, snap.Assets[0].Error)
	require.True(t, snap.Assets[0].Attachable())

	require.NoError(t, o.SendMessage("look at this"))
	snap = waitUntil(t, o, "turn completion", func(s Snapshot) bool { return s.CanSend })

	require.Equal(t, []string{"up_cat.png"}, <-gotPaths)
	require.Equal(t, []string{assetID}, snap.Messages[0].AssetRefs)
	require.Equal(t, []string{"up_cat.png"}, turns.last().ImagePaths)

	// Consumed attachments are deselected, not removed.
	require.Len(t, snap.Assets, 1)
	require.False(t, snap.Assets[0].Selected)
}

func TestUploadFailureKeepsRecordVisible(t *testing.T) {
	gotPaths := make(chan []string, 1)
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	newTurnLog().register(mux)
	serveUpload(mux)
	serveStream(mux, func(w http.ResponseWriter, r *http.Request, req backend.GenerateRequest) {
		gotPaths <- req.ImagePaths
		writeSSE(w, "start", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
		writeSSE(w, "done", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
	})

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	dir := t.TempDir()
	good := writeTempFile(t, dir, "good.png")
	bad := writeTempFile(t, dir, "bad.png")
	batch := o.AddAssets(good, bad)
	require.Len(t, batch, 2)

	snap := waitUntil(t, o, "uploads to settle", func(s Snapshot) bool {
		return len(s.Assets) == 2 && !s.Assets[0].Uploading && !s.Assets[1].Uploading
	})

	byName := map[string]domain.Asset{}
	for _, a := range snap.Assets {
		byName[a.OriginalName] = a
	}
	require.Equal(t, "up_good.png", byName["good.png"].RemotePath)
	require.True(t, byName["good.png"].Attachable())

	// The failed upload stays visible with its error, still selected,
	// but never attachable.
	failed := byName["bad.png"]
	require.Equal(t, "unsupported image", failed.Error)
	require.Empty(t, failed.RemotePath)
	require.True(t, failed.Selected)
	require.False(t, failed.Attachable())

	require.NoError(t, o.SendMessage("what do you see"))
	waitUntil(t, o, "turn completion", func(s Snapshot) bool { return s.CanSend })
	require.Equal(t, []string{"up_good.png"}, <-gotPaths)

	// The failed record is still removable.
	o.RemoveAsset(failed.ID)
	snap = o.Snapshot()
	require.Len(t, snap.Assets, 1)
	require.Equal(t, "good.png", snap.Assets[0].OriginalName)
}

func TestUploadingAssetExcludedFromSend(t *testing.T) {
	gate := make(chan struct{})
	gotPaths := make(chan []string, 1)

	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	newTurnLog().register(mux)
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("files")
		if err != nil {
			serveJSON(w, http.StatusBadRequest, `{"status":"error","message":"No file part in the request"}`)
			return
		}
		file.Close()
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		serveJSON(w, http.StatusOK, `{"status":"success","files":[{"original_name":"slow.png","saved_name":"up_slow.png","path":"up_slow.png"}]}`)
	})
	serveStream(mux, func(w http.ResponseWriter, r *http.Request, req backend.GenerateRequest) {
		gotPaths <- req.ImagePaths
		writeSSE(w, "start", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
		writeSSE(w, "done", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
	})

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	o.AddAssets(writeTempFile(t, t.TempDir(), "slow.png"))

	// Send while the upload is still in flight: the pending asset must
	// not ride along, and it stays selected for the next turn.
	require.NoError(t, o.SendMessage("no attachments yet"))
	require.Empty(t, <-gotPaths)

	snap := waitUntil(t, o, "turn completion", func(s Snapshot) bool { return s.CanSend })
	require.Empty(t, snap.Messages[0].AssetRefs)
	require.True(t, snap.Assets[0].Selected)

	close(gate)
	waitUntil(t, o, "upload completion", func(s Snapshot) bool { return !s.Assets[0].Uploading })
}

func TestSendMessageImageOnly(t *testing.T) {
	gotText := make(chan string, 1)
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	turns := newTurnLog()
	turns.register(mux)
	serveUpload(mux)
	serveStream(mux, func(w http.ResponseWriter, r *http.Request, req backend.GenerateRequest) {
		gotText <- req.Text
		writeSSE(w, "start", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
		writeSSE(w, "token", fmt.Sprintf(`{"turn_id":%q,"text":"A sunny garden."}`, req.TurnID))
		writeSSE(w, "done", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
	})

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	o.AddAssets(writeTempFile(t, t.TempDir(), "garden.png"))
	waitUntil(t, o, "upload completion", func(s Snapshot) bool {
		return len(s.Assets) == 1 && s.Assets[0].Attachable()
	})

	// No text, but an attachment: the send is allowed.
	require.NoError(t, o.SendMessage(""))
	require.Empty(t, <-gotText)

	snap := waitUntil(t, o, "turn completion", func(s Snapshot) bool { return s.CanSend })
	require.Equal(t, "A sunny garden.", snap.Messages[1].Content)
	require.Equal(t, []string{"up_garden.png"}, turns.last().ImagePaths)
}

func TestRemoveAssetIdempotent(t *testing.T) {
	var deletes int32
	mux := http.NewServeMux()
	serveHealth(mux)
	serveUpload(mux)
	mux.HandleFunc("/uploads/up_cat.png", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		atomic.AddInt32(&deletes, 1)
		serveJSON(w, http.StatusOK, `{"status":"success"}`)
	})

	o := newTestOrchestrator(t, mux)
	waitUntil(t, o, "backend connection", func(s Snapshot) bool { return s.Connected })

	path := writeTempFile(t, t.TempDir(), "cat.png")
	batch := o.AddAssets(path)
	waitUntil(t, o, "upload completion", func(s Snapshot) bool {
		return len(s.Assets) == 1 && s.Assets[0].Attachable()
	})

	o.RemoveAsset(batch[0].ID)
	o.RemoveAsset(batch[0].ID)
	require.Empty(t, o.Snapshot().Assets)

	// Exactly one remote release, even though removal ran twice.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&deletes) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&deletes))
}

func TestRemoveAssetDuringUploadCleansOrphan(t *testing.T) {
	gate := make(chan struct{})
	var deletes int32
	mux := http.NewServeMux()
	serveHealth(mux)
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("files")
		if err != nil {
			serveJSON(w, http.StatusBadRequest, `{"status":"error","message":"No file part in the request"}`)
			return
		}
		file.Close()
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		name := "up_" + header.Filename
		serveJSON(w, http.StatusOK, fmt.Sprintf(`{"status":"success","files":[{"original_name":%q,"saved_name":%q,"path":%q}]}`, header.Filename, name, name))
	})
	mux.HandleFunc("/uploads/up_cat.png", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&deletes, 1)
		serveJSON(w, http.StatusOK, `{"status":"success"}`)
	})

	o := newTestOrchestrator(t, mux)
	waitUntil(t, o, "backend connection", func(s Snapshot) bool { return s.Connected })

	path := writeTempFile(t, t.TempDir(), "cat.png")
	batch := o.AddAssets(path)
	require.True(t, o.Snapshot().Assets[0].Uploading)

	// Removed while the upload is still in flight: the record goes away
	// now, and the server copy is released once the upload lands.
	o.RemoveAsset(batch[0].ID)
	require.Empty(t, o.Snapshot().Assets)

	close(gate)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&deletes) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestToggleAsset(t *testing.T) {
	gotPaths := make(chan []string, 1)
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	newTurnLog().register(mux)
	serveUpload(mux)
	serveStream(mux, func(w http.ResponseWriter, r *http.Request, req backend.GenerateRequest) {
		gotPaths <- req.ImagePaths
		writeSSE(w, "start", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
		writeSSE(w, "done", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
	})

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	require.ErrorIs(t, o.ToggleAsset("nope"), domain.ErrAssetNotFound)

	path := writeTempFile(t, t.TempDir(), "cat.png")
	batch := o.AddAssets(path)
	waitUntil(t, o, "upload completion", func(s Snapshot) bool {
		return len(s.Assets) == 1 && s.Assets[0].Attachable()
	})

	require.NoError(t, o.ToggleAsset(batch[0].ID))
	require.False(t, o.Snapshot().Assets[0].Selected)

	// Deselected assets stay out of the request even though uploaded.
	require.NoError(t, o.SendMessage("no image this time"))
	snap := waitUntil(t, o, "turn completion", func(s Snapshot) bool { return s.CanSend })
	require.Empty(t, <-gotPaths)
	require.Empty(t, snap.Messages[0].AssetRefs)

	require.NoError(t, o.ToggleAsset(batch[0].ID))
	require.True(t, o.Snapshot().Assets[0].Selected)
}

func TestClearConversation(t *testing.T) {
	var deletes int32
	mux := http.NewServeMux()
	serveHealth(mux)
	serveModels(mux, modelA)
	serveSessions(mux)
	newTurnLog().register(mux)
	serveUpload(mux)
	mux.HandleFunc("/uploads/up_cat.png", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&deletes, 1)
		serveJSON(w, http.StatusOK, `{"status":"success"}`)
	})
	serveStream(mux, func(w http.ResponseWriter, r *http.Request, req backend.GenerateRequest) {
		writeSSE(w, "start", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
		writeSSE(w, "token", fmt.Sprintf(`{"turn_id":%q,"text":"hi"}`, req.TurnID))
		writeSSE(w, "done", fmt.Sprintf(`{"turn_id":%q}`, req.TurnID))
	})

	o := newTestOrchestrator(t, mux)
	primeReady(t, o)

	path := writeTempFile(t, t.TempDir(), "cat.png")
	o.AddAssets(path)
	waitUntil(t, o, "upload completion", func(s Snapshot) bool {
		return len(s.Assets) == 1 && s.Assets[0].Attachable()
	})

	require.NoError(t, o.SendMessage("hello"))
	waitUntil(t, o, "turn completion", func(s Snapshot) bool { return s.CanSend })

	require.NoError(t, o.ClearConversation())
	snap := o.Snapshot()
	require.Empty(t, snap.Messages)
	require.Empty(t, snap.Assets)

	// Remote copies of cleared assets are released.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&deletes) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
