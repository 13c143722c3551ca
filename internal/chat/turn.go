package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/justarandomnameduh/omnichat/internal/backend"
	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// errTurnFailed aborts the stream read after a terminal error event has
// already been applied.
var errTurnFailed = errors.New("turn failed")

// SendMessage starts one generation turn. The user message and an empty
// streaming assistant placeholder are appended to the log immediately and
// never rolled back; the stream is consumed by a dedicated goroutine.
// Rejections (validation and exclusivity) are returned synchronously with
// no side effects.
func (o *Orchestrator) SendMessage(text string) error {
	text = strings.TrimSpace(text)

	o.mu.Lock()
	if !o.connected {
		o.mu.Unlock()
		return domain.ErrNotConnected
	}
	if o.currentModel == "" {
		o.mu.Unlock()
		return domain.ErrNoModelSelected
	}
	if o.sessionID == "" {
		o.mu.Unlock()
		return domain.ErrNoSessionSelected
	}
	if o.switching {
		o.mu.Unlock()
		return domain.ErrSwitchInProgress
	}
	if o.transcribing {
		o.mu.Unlock()
		return domain.ErrTranscribing
	}
	if o.phase != phaseIdle {
		o.mu.Unlock()
		return domain.ErrAlreadyGenerating
	}

	attachments := o.attachableLocked()
	if text == "" && len(attachments) == 0 {
		o.mu.Unlock()
		return domain.ErrEmptyMessage
	}

	refs := make([]string, 0, len(attachments))
	paths := make([]string, 0, len(attachments))
	for _, a := range attachments {
		refs = append(refs, a.ID)
		paths = append(paths, a.RemotePath)
	}

	now := time.Now()
	userMsg := domain.Message{
		ID:        newID("msg"),
		Role:      domain.RoleUser,
		Content:   text,
		AssetRefs: refs,
		CreatedAt: now,
	}
	o.appendMessageLocked(userMsg)

	placeholder := domain.Message{
		ID:        newID("msg"),
		Role:      domain.RoleAssistant,
		CreatedAt: now,
		Streaming: true,
	}
	o.appendMessageLocked(placeholder)

	turnID := newID("turn")
	o.turn = &turnState{
		id:          turnID,
		assistantID: placeholder.ID,
		userText:    text,
		imagePaths:  paths,
	}
	o.phase = phaseSending
	o.lastError = ""

	// Consumed attachments leave the selection so the next message starts
	// clean. The asset records themselves stay.
	for _, a := range attachments {
		if rec, ok := o.assets[a.ID]; ok {
			rec.Selected = false
		}
	}

	sessionID := o.sessionID
	req := &backend.GenerateRequest{
		TurnID:     turnID,
		SessionID:  sessionID,
		Text:       text,
		ImagePaths: paths,
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})

	o.wg.Add(1)
	go o.runTurn(turnID, placeholder.ID, sessionID, req)
	return nil
}

// runTurn consumes the generation stream for one turn and drives the
// phase transitions. It is the only goroutine that touches the turn.
func (o *Orchestrator) runTurn(turnID, assistantID, sessionID string, req *backend.GenerateRequest) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.StreamTimeout)
	defer cancel()

	var sawDone bool

	err := o.client.GenerateStream(ctx, req, func(ev backend.SSEEvent) error {
		switch ev.Event {
		case domain.StreamEventStart:
			start, err := backend.ParseStartEvent(ev.Data)
			if err != nil {
				return fmt.Errorf("malformed start event: %w", err)
			}
			if start.TurnID != "" && start.TurnID != turnID {
				log.Printf("WARN: turn %s: ignoring start event for turn %s", turnID, start.TurnID)
				return nil
			}
			o.beginStreaming(turnID)

		case domain.StreamEventToken:
			tok, err := backend.ParseTokenEvent(ev.Data)
			if err != nil {
				return fmt.Errorf("malformed token event: %w", err)
			}
			if tok.TurnID != "" && tok.TurnID != turnID {
				log.Printf("WARN: turn %s: ignoring token for turn %s", turnID, tok.TurnID)
				return nil
			}
			o.appendToken(turnID, tok.Text)

		case domain.StreamEventDone:
			done, err := backend.ParseDoneEvent(ev.Data)
			if err != nil {
				return fmt.Errorf("malformed done event: %w", err)
			}
			if done.TurnID != "" && done.TurnID != turnID {
				log.Printf("WARN: turn %s: ignoring done event for turn %s", turnID, done.TurnID)
				return nil
			}
			sawDone = true

		case domain.StreamEventError:
			errEvt, err := backend.ParseErrorEvent(ev.Data)
			if err != nil {
				return fmt.Errorf("malformed error event: %w", err)
			}
			if errEvt.TurnID != "" && errEvt.TurnID != turnID {
				log.Printf("WARN: turn %s: ignoring error event for turn %s", turnID, errEvt.TurnID)
				return nil
			}
			o.failTurn(turnID, assistantID, errEvt.Message)
			return errTurnFailed

		default:
			log.Printf("INFO: turn %s: ignoring unknown event %q", turnID, ev.Event)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, errTurnFailed) {
			// Terminal error event already applied.
			return
		}
		// A dropped connection, timeout, or malformed frame mid-stream is
		// an implicit error event.
		log.Printf("ERROR: turn %s: stream failed: %v", turnID, err)
		o.failTurn(turnID, assistantID, streamErrText(err))
		return
	}
	if !sawDone {
		log.Printf("ERROR: turn %s: stream closed without a terminal event", turnID)
		o.failTurn(turnID, assistantID, "stream ended unexpectedly")
		return
	}

	record := o.finishStreaming(turnID, assistantID)
	if record == nil {
		return
	}

	// The turn is not durably recorded until the backend acknowledges it,
	// so sends stay locked through the acknowledgment. The lock releases
	// whether or not the acknowledgment lands; a stuck lock would strand
	// the session.
	ackCtx, ackCancel := context.WithTimeout(o.ctx, o.cfg.RequestTimeout)
	if err := o.client.LogTurn(ackCtx, sessionID, record); err != nil {
		log.Printf("ERROR: turn %s: failed to log turn: %v", turnID, err)
	}
	ackCancel()

	o.releaseTurn(turnID)
}

// beginStreaming moves the turn from Sending to Streaming.
func (o *Orchestrator) beginStreaming(turnID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turn == nil || o.turn.id != turnID {
		return
	}
	if o.phase == phaseSending {
		o.phase = phaseStreaming
		o.emit(Event{Kind: EventStateChanged})
	}
}

// appendToken appends a fragment to the turn's assistant message, in
// arrival order, strictly append-only.
func (o *Orchestrator) appendToken(turnID, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turn == nil || o.turn.id != turnID {
		log.Printf("WARN: dropping token for stale turn %s", turnID)
		return
	}
	idx, ok := o.msgIndex[o.turn.assistantID]
	if !ok {
		return
	}
	o.messages[idx].Content += text
	o.emit(Event{Kind: EventToken, MessageID: o.turn.assistantID, Text: text})
}

// failTurn finalizes the assistant message on the error path and releases
// the lock immediately; confirmation is skipped.
func (o *Orchestrator) failTurn(turnID, assistantID, msg string) {
	o.mu.Lock()
	if o.turn == nil || o.turn.id != turnID {
		o.mu.Unlock()
		return
	}
	if idx, ok := o.msgIndex[assistantID]; ok {
		m := &o.messages[idx]
		m.Streaming = false
		m.Failed = true
		if m.Content == "" {
			m.Content = "Error: " + msg
		}
	}
	o.turn = nil
	o.phase = phaseIdle
	o.lastError = msg
	o.mu.Unlock()

	o.emit(Event{Kind: EventTurnError, MessageID: assistantID, Text: msg})
}

// finishStreaming finalizes the assistant message on done and enters the
// confirmation phase. It returns the record to acknowledge, or nil if the
// turn is no longer current.
func (o *Orchestrator) finishStreaming(turnID, assistantID string) *backend.TurnRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turn == nil || o.turn.id != turnID {
		return nil
	}
	var content string
	if idx, ok := o.msgIndex[assistantID]; ok {
		o.messages[idx].Streaming = false
		content = o.messages[idx].Content
	}
	o.phase = phaseConfirming
	// The exchange counts only once it completes; a failed turn is never
	// logged and must not inflate the session's counters.
	o.touchSessionLocked(2)
	rec := &backend.TurnRecord{
		UserText:      o.turn.userText,
		AssistantText: content,
		ImagePaths:    o.turn.imagePaths,
	}
	o.emit(Event{Kind: EventStateChanged})
	return rec
}

// releaseTurn returns to Idle after the confirmation attempt.
func (o *Orchestrator) releaseTurn(turnID string) {
	o.mu.Lock()
	if o.turn != nil && o.turn.id == turnID {
		o.turn = nil
		o.phase = phaseIdle
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventTurnDone})
}

func streamErrText(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "generation timed out"
	case errors.Is(err, context.Canceled):
		return "generation cancelled"
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "connection to backend lost"
}
