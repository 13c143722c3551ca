package chat

import (
	"context"
	"fmt"
	"log"

	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// RefreshModels reloads the model catalog from the backend. The cached
// list is replaced only on success.
func (o *Orchestrator) RefreshModels(ctx context.Context) error {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	o.mu.Lock()
	o.models = list.Models
	// The backend is authoritative for the active model unless a local
	// switch is mid-flight.
	if !o.switching {
		o.currentModel = list.CurrentModelID
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})
	return nil
}

// SelectModel starts a model switch. At most one switch may be in flight,
// and never while a generation is running. On failure the active model is
// left unchanged.
func (o *Orchestrator) SelectModel(modelID string) error {
	o.mu.Lock()
	if o.switching {
		o.mu.Unlock()
		return domain.ErrSwitchInProgress
	}
	if o.phase != phaseIdle {
		o.mu.Unlock()
		return domain.ErrAlreadyGenerating
	}
	if modelID == o.currentModel {
		o.mu.Unlock()
		return nil
	}
	if !o.hasModelLocked(modelID) {
		o.mu.Unlock()
		return domain.ErrModelNotFound
	}
	o.switching = true
	o.lastError = ""
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})

	o.wg.Add(1)
	go o.runSwitch(modelID)
	return nil
}

func (o *Orchestrator) runSwitch(modelID string) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.SwitchTimeout)
	defer cancel()

	err := o.client.SwitchModel(ctx, modelID)

	o.mu.Lock()
	o.switching = false
	if err != nil {
		o.lastError = "model switch failed: " + shortErr(err)
		log.Printf("ERROR: failed to switch model to %s: %v", modelID, err)
	} else {
		o.currentModel = modelID
		log.Printf("INFO: switched model to %s", modelID)
	}
	o.mu.Unlock()

	if err != nil {
		o.emit(Event{Kind: EventNotice, Text: "model switch failed"})
	}
	o.emit(Event{Kind: EventStateChanged})
}
