package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// SSEEvent is a parsed server-sent event.
type SSEEvent struct {
	Event string
	Data  string
}

// EventHandler is called for each SSE event on a generation stream.
// Returning an error aborts the stream.
type EventHandler func(event SSEEvent) error

// GenerateStream opens a streaming generation and calls handler for each
// event in arrival order. It returns once the server closes the stream,
// the handler aborts, or ctx expires. A transport failure mid-stream is
// returned as an error; callers must treat it like a terminal error event.
func (c *Client) GenerateStream(ctx context.Context, req *GenerateRequest, handler EventHandler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, respBody)
	}

	return parseSSE(resp.Body, handler)
}

// parseSSE reads event/data frames off the wire and hands each complete
// event to the handler.
func parseSSE(reader io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(reader)
	var event SSEEvent

	// A blank line terminates the current event; a truncated stream may
	// leave a final event without one, so flush covers both.
	flush := func() error {
		if event.Event == "" && event.Data == "" {
			return nil
		}
		err := handler(event)
		event = SSEEvent{}
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
		// Comment lines (leading :) and unknown fields are skipped.
	}

	if err := flush(); err != nil {
		return err
	}
	return scanner.Err()
}

// ParseStartEvent parses a start event's data.
func ParseStartEvent(data string) (*domain.StartEventData, error) {
	var start domain.StartEventData
	if err := json.Unmarshal([]byte(data), &start); err != nil {
		return nil, fmt.Errorf("failed to parse start event: %w", err)
	}
	return &start, nil
}

// ParseTokenEvent parses a token event's data.
func ParseTokenEvent(data string) (*domain.TokenEventData, error) {
	var token domain.TokenEventData
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to parse token event: %w", err)
	}
	return &token, nil
}

// ParseDoneEvent parses a done event's data.
func ParseDoneEvent(data string) (*domain.DoneEventData, error) {
	var done domain.DoneEventData
	if err := json.Unmarshal([]byte(data), &done); err != nil {
		return nil, fmt.Errorf("failed to parse done event: %w", err)
	}
	return &done, nil
}

// ParseErrorEvent parses an error event's data.
func ParseErrorEvent(data string) (*domain.ErrorEventData, error) {
	var errEvt domain.ErrorEventData
	if err := json.Unmarshal([]byte(data), &errEvt); err != nil {
		return nil, fmt.Errorf("failed to parse error event: %w", err)
	}
	return &errEvt, nil
}
