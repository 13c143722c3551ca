package domain

// Stream event names emitted by the generation endpoint. A well-formed
// stream is exactly one start, zero or more token events, then exactly one
// done or error.
const (
	StreamEventStart = "start"
	StreamEventToken = "token"
	StreamEventDone  = "done"
	StreamEventError = "error"
)

// StartEventData is the data for a start SSE event. It echoes the turn
// the server is answering.
type StartEventData struct {
	TurnID  string `json:"turn_id"`
	ModelID string `json:"model_id,omitempty"`
}

// TokenEventData is the data for a token SSE event. Text is appended
// verbatim to the turn's assistant message.
type TokenEventData struct {
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

// DoneEventData is the data for a done SSE event.
type DoneEventData struct {
	TurnID     string `json:"turn_id"`
	TokenCount int    `json:"token_count,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
}

// ErrorEventData is the data for an error SSE event.
type ErrorEventData struct {
	TurnID  string `json:"turn_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
