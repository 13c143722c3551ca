package chat

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justarandomnameduh/omnichat/internal/backend"
	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// AddAssets registers local files and uploads them in the background.
// Records are created immediately in the uploading state and selected for
// the next message; a failed upload keeps its record, marked with an
// error, until it is removed explicitly.
func (o *Orchestrator) AddAssets(paths ...string) []domain.Asset {
	if len(paths) == 0 {
		return nil
	}

	now := time.Now()
	batch := make([]domain.Asset, 0, len(paths))

	o.mu.Lock()
	for _, p := range paths {
		a := &domain.Asset{
			ID:           newID("asset"),
			OriginalName: filepath.Base(p),
			LocalPath:    p,
			Uploading:    true,
			Selected:     true,
			AddedAt:      now,
		}
		o.assets[a.ID] = a
		o.assetOrder = append(o.assetOrder, a.ID)
		batch = append(batch, *a)
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})

	o.wg.Add(1)
	go o.runUploads(batch)
	return batch
}

// runUploads uploads a batch with bounded concurrency. Outcomes are
// per-asset: one failure marks its own record and never aborts siblings.
func (o *Orchestrator) runUploads(batch []domain.Asset) {
	defer o.wg.Done()

	g, ctx := errgroup.WithContext(o.ctx)
	g.SetLimit(3)

	for _, a := range batch {
		a := a
		g.Go(func() error {
			uctx, cancel := context.WithTimeout(ctx, o.cfg.UploadTimeout)
			defer cancel()

			saved, err := o.client.Upload(uctx, a.LocalPath)

			o.mu.Lock()
			rec, ok := o.assets[a.ID]
			if !ok {
				o.mu.Unlock()
				// Removed while the upload was in flight. If the upload
				// landed anyway, the server copy is now orphaned.
				if err == nil {
					o.deleteRemote(saved.Path)
				}
				return nil
			}
			rec.Uploading = false
			if err != nil {
				rec.Error = uploadErrText(err)
				log.Printf("ERROR: upload failed for %s: %v", a.OriginalName, err)
			} else {
				rec.RemotePath = saved.Path
			}
			o.mu.Unlock()

			o.emit(Event{Kind: EventStateChanged})
			return nil
		})
	}
	g.Wait()
}

// removeAssetLocked evicts one record from the arena and returns it, or
// nil when the id is unknown.
func (o *Orchestrator) removeAssetLocked(id string) *domain.Asset {
	rec, ok := o.assets[id]
	if !ok {
		return nil
	}
	delete(o.assets, id)
	for i, aid := range o.assetOrder {
		if aid == id {
			o.assetOrder = append(o.assetOrder[:i], o.assetOrder[i+1:]...)
			break
		}
	}
	return rec
}

// RemoveAsset evicts an asset from the local store. Removal is
// idempotent: a second call for the same id is a no-op and triggers no
// second remote delete. Remote cleanup is fire-and-forget; its failure
// never reverses the local removal. Removing the ephemeral record of an
// in-flight transcription cancels the transcription.
func (o *Orchestrator) RemoveAsset(id string) {
	o.mu.Lock()
	rec := o.removeAssetLocked(id)
	if rec == nil {
		o.mu.Unlock()
		return
	}
	remotePath := rec.RemotePath
	var cancel context.CancelFunc
	if id == o.transcribeAsset {
		cancel = o.transcribeCancel
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if remotePath != "" {
		o.deleteRemote(remotePath)
	}
	o.emit(Event{Kind: EventStateChanged})
}

// ToggleAsset flips an asset's selection. Selection is independent of
// upload state; eligibility is filtered when the request is composed.
func (o *Orchestrator) ToggleAsset(id string) error {
	o.mu.Lock()
	rec, ok := o.assets[id]
	if !ok {
		o.mu.Unlock()
		return domain.ErrAssetNotFound
	}
	rec.Selected = !rec.Selected
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})
	return nil
}

// ClearConversation empties the message log and the asset store in one
// step. Remote copies of cleared assets are cleaned up best effort, and
// clearing the ephemeral record of an in-flight transcription cancels the
// transcription, same as removing it individually would.
func (o *Orchestrator) ClearConversation() error {
	o.mu.Lock()
	if o.phase != phaseIdle {
		o.mu.Unlock()
		return domain.ErrAlreadyGenerating
	}
	o.clearLogLocked()
	var remote []string
	for _, id := range o.assetOrder {
		if a := o.assets[id]; a.RemotePath != "" {
			remote = append(remote, a.RemotePath)
		}
	}
	var cancel context.CancelFunc
	if o.transcribeAsset != "" {
		if _, ok := o.assets[o.transcribeAsset]; ok {
			cancel = o.transcribeCancel
		}
	}
	o.assets = make(map[string]*domain.Asset)
	o.assetOrder = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, p := range remote {
		o.deleteRemote(p)
	}
	o.emit(Event{Kind: EventStateChanged})
	return nil
}

// deleteRemote issues a fire-and-forget delete for an uploaded file.
func (o *Orchestrator) deleteRemote(remotePath string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(o.ctx, o.cfg.RequestTimeout)
		defer cancel()
		if err := o.client.DeleteUpload(ctx, remotePath); err != nil {
			log.Printf("WARN: remote cleanup failed for %s: %v", remotePath, err)
		}
	}()
}

func uploadErrText(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "upload timed out"
	}
	return "upload failed"
}
