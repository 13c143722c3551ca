package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// RefreshSessions reloads the session list from the backend. The cached
// list is replaced only on success.
func (o *Orchestrator) RefreshSessions(ctx context.Context) error {
	sessions, err := o.client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	o.mu.Lock()
	o.sessions = sessions
	// Drop a selection that no longer exists server-side, but never while
	// a turn is running against it.
	if o.sessionID != "" && o.phase == phaseIdle && o.findSessionLocked(o.sessionID) < 0 {
		o.sessionID = ""
		o.clearLogLocked()
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})
	return nil
}

// CreateSession creates a session bound to the active model and, when no
// turn is running, selects it.
func (o *Orchestrator) CreateSession(ctx context.Context, name string) (*domain.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrEmptyName
	}

	o.mu.Lock()
	modelID := o.currentModel
	o.mu.Unlock()
	if modelID == "" {
		return nil, domain.ErrNoModelSelected
	}

	sess, err := o.client.CreateSession(ctx, name, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	o.mu.Lock()
	o.sessions = append([]domain.Session{*sess}, o.sessions...)
	if o.phase == phaseIdle {
		o.sessionID = sess.ID
		o.clearLogLocked()
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})
	return sess, nil
}

// SelectSession switches the active session. The empty id is the defined
// sentinel for "no session selected". The stored history is loaded best
// effort; a load failure leaves an empty log and a notice, never a failed
// selection.
func (o *Orchestrator) SelectSession(ctx context.Context, id string) error {
	o.mu.Lock()
	if o.phase != phaseIdle {
		o.mu.Unlock()
		return domain.ErrAlreadyGenerating
	}
	if id == "" {
		o.sessionID = ""
		o.clearLogLocked()
		o.mu.Unlock()
		o.emit(Event{Kind: EventStateChanged})
		return nil
	}
	if o.findSessionLocked(id) < 0 {
		o.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	o.sessionID = id
	o.clearLogLocked()
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})

	msgs, err := o.client.SessionMessages(ctx, id)
	if err != nil {
		log.Printf("WARN: failed to load history for session %s: %v", id, err)
		o.emit(Event{Kind: EventNotice, Text: "failed to load session history"})
		return nil
	}

	o.mu.Lock()
	// Apply only if the selection is still ours and no turn started in
	// the meantime.
	if o.sessionID == id && o.phase == phaseIdle {
		o.setMessagesLocked(msgs)
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})
	return nil
}

// DeleteSession deletes a session. Deleting the selected session clears
// the selection; the local list shrinks only after the backend confirms.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	o.mu.Lock()
	if id == o.sessionID && o.phase != phaseIdle {
		o.mu.Unlock()
		return domain.ErrAlreadyGenerating
	}
	o.mu.Unlock()

	if err := o.client.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	o.mu.Lock()
	if i := o.findSessionLocked(id); i >= 0 {
		o.sessions = append(o.sessions[:i], o.sessions[i+1:]...)
	}
	if o.sessionID == id {
		o.sessionID = ""
		o.clearLogLocked()
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})
	return nil
}
