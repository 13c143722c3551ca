package chat

import "log"

// EventKind classifies orchestrator events.
type EventKind int

const (
	// EventStateChanged signals that some composed state changed;
	// consumers should re-read Snapshot.
	EventStateChanged EventKind = iota
	// EventToken signals that Text was appended to message MessageID.
	EventToken
	// EventTurnDone signals that a turn finished and the lock released.
	EventTurnDone
	// EventTurnError signals that a turn failed; Text is the error.
	EventTurnError
	// EventTranscript delivers transcribed text for the input buffer.
	EventTranscript
	// EventNotice carries a transient status line.
	EventNotice
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventToken:
		return "token"
	case EventTurnDone:
		return "turn_done"
	case EventTurnError:
		return "turn_error"
	case EventTranscript:
		return "transcript"
	case EventNotice:
		return "notice"
	}
	return "unknown"
}

// Event is a notification pushed to the interface layer.
type Event struct {
	Kind      EventKind
	MessageID string
	Text      string
}

// emit delivers an event without blocking. The consumer renders from
// Snapshot, so a dropped event at worst coalesces a repaint.
func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		log.Printf("WARN: event channel full, dropping %s event", ev.Kind)
	}
}
