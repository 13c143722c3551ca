package chat

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"time"

	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// Transcribe sends an audio file for transcription. The recording is
// tracked as an ephemeral audio asset for the duration of the call: it
// appears in the asset strip, is never attachable, and leaves the store
// when the transcription settles. While it runs the orchestrator holds
// the transcription lock, which also gates sends: the resulting text
// lands in the pending input buffer and must not race a send-and-clear.
// The text is delivered in an EventTranscript event.
func (o *Orchestrator) Transcribe(path string) error {
	o.mu.Lock()
	if !o.connected {
		o.mu.Unlock()
		return domain.ErrNotConnected
	}
	if o.transcribing {
		o.mu.Unlock()
		return domain.ErrTranscribing
	}
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.TranscribeTimeout)
	rec := &domain.Asset{
		ID:           newID("audio"),
		OriginalName: filepath.Base(path),
		LocalPath:    path,
		Uploading:    true,
		AddedAt:      time.Now(),
	}
	o.assets[rec.ID] = rec
	o.assetOrder = append(o.assetOrder, rec.ID)
	o.transcribing = true
	o.transcribeCancel = cancel
	o.transcribeAsset = rec.ID
	o.lastError = ""
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})

	o.wg.Add(1)
	go o.runTranscription(ctx, cancel, rec.ID, path)
	return nil
}

// CancelTranscription aborts the in-flight transcription, if any. The
// lock and the ephemeral asset are released through the normal
// completion path.
func (o *Orchestrator) CancelTranscription() {
	o.mu.Lock()
	cancel := o.transcribeCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) runTranscription(ctx context.Context, cancel context.CancelFunc, assetID, path string) {
	defer o.wg.Done()
	defer cancel()

	text, err := o.client.Transcribe(ctx, path)

	o.mu.Lock()
	o.transcribing = false
	o.transcribeCancel = nil
	o.transcribeAsset = ""
	o.removeAssetLocked(assetID)
	if err != nil && !errors.Is(err, context.Canceled) {
		o.lastError = "transcription failed: " + shortErr(err)
	}
	o.mu.Unlock()

	switch {
	case err == nil:
		o.emit(Event{Kind: EventTranscript, Text: text})
	case errors.Is(err, context.Canceled):
		log.Printf("INFO: transcription cancelled for %s", path)
		o.emit(Event{Kind: EventNotice, Text: "transcription cancelled"})
	default:
		log.Printf("ERROR: transcription failed for %s: %v", path, err)
		o.emit(Event{Kind: EventNotice, Text: "transcription failed"})
	}
	o.emit(Event{Kind: EventStateChanged})
}
