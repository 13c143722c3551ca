package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate/stream" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Fatalf("unexpected accept header: %s", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: start\ndata: {\"turn_id\":\"t1\",\"model_id\":\"qwen2.5-omni-3b\"}\n\n")
		fmt.Fprint(w, "event: token\ndata: {\"turn_id\":\"t1\",\"text\":\"A \"}\n\n")
		fmt.Fprint(w, "event: token\ndata: {\"turn_id\":\"t1\",\"text\":\"cat.\"}\n\n")
		fmt.Fprint(w, "event: done\ndata: {\"turn_id\":\"t1\",\"token_count\":2}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, time.Second)
	var events []SSEEvent
	err := client.GenerateStream(context.Background(), &GenerateRequest{TurnID: "t1", Text: "hi"}, func(ev SSEEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	want := []string{"start", "token", "token", "done"}
	for i, name := range want {
		if events[i].Event != name {
			t.Fatalf("event %d: expected %q, got %q", i, name, events[i].Event)
		}
	}
	tok, err := ParseTokenEvent(events[1].Data)
	if err != nil {
		t.Fatalf("ParseTokenEvent failed: %v", err)
	}
	if tok.TurnID != "t1" || tok.Text != "A " {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestGenerateStreamHandlerAbort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: start\ndata: {\"turn_id\":\"t1\"}\n\n")
		fmt.Fprint(w, "event: token\ndata: {\"turn_id\":\"t1\",\"text\":\"x\"}\n\n")
	}))
	defer server.Close()

	abort := errors.New("stop here")
	client := NewClient(server.URL, time.Second, time.Second)
	err := client.GenerateStream(context.Background(), &GenerateRequest{TurnID: "t1", Text: "hi"}, func(ev SSEEvent) error {
		if ev.Event == "token" {
			return abort
		}
		return nil
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestGenerateStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"status":"error","message":"model switch in progress"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, time.Second)
	err := client.GenerateStream(context.Background(), &GenerateRequest{TurnID: "t1", Text: "hi"}, func(ev SSEEvent) error {
		t.Fatalf("handler should not be called, got %+v", ev)
		return nil
	})
	apiErr := &APIError{}
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "model switch in progress" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestParseSSEMultilineData(t *testing.T) {
	stream := "event: token\ndata: line one\ndata: line two\n\n"
	var events []SSEEvent
	err := parseSSE(strings.NewReader(stream), func(ev SSEEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("parseSSE failed: %v", err)
	}
	if len(events) != 1 || events[0].Data != "line one\nline two" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestParseSSETrailingEvent(t *testing.T) {
	// No blank line after the last event; it must still be dispatched.
	stream := "event: done\ndata: {\"turn_id\":\"t1\"}"
	var events []SSEEvent
	err := parseSSE(strings.NewReader(stream), func(ev SSEEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("parseSSE failed: %v", err)
	}
	if len(events) != 1 || events[0].Event != "done" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestParseSSEIgnoresComments(t *testing.T) {
	stream := ": keepalive\n\nevent: token\ndata: {\"text\":\"x\"}\n\n: another comment\n\n"
	var events []SSEEvent
	err := parseSSE(strings.NewReader(stream), func(ev SSEEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("parseSSE failed: %v", err)
	}
	if len(events) != 1 || events[0].Event != "token" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestParseEventData(t *testing.T) {
	start, err := ParseStartEvent(`{"turn_id":"t1","model_id":"m1"}`)
	if err != nil {
		t.Fatalf("ParseStartEvent failed: %v", err)
	}
	if start.TurnID != "t1" || start.ModelID != "m1" {
		t.Fatalf("unexpected start: %+v", start)
	}

	done, err := ParseDoneEvent(`{"turn_id":"t1","token_count":7,"duration_ms":120}`)
	if err != nil {
		t.Fatalf("ParseDoneEvent failed: %v", err)
	}
	if done.TokenCount != 7 || done.DurationMs != 120 {
		t.Fatalf("unexpected done: %+v", done)
	}

	errEvt, err := ParseErrorEvent(`{"turn_id":"t1","code":"oom","message":"OOM"}`)
	if err != nil {
		t.Fatalf("ParseErrorEvent failed: %v", err)
	}
	if errEvt.Code != "oom" || errEvt.Message != "OOM" {
		t.Fatalf("unexpected error event: %+v", errEvt)
	}

	if _, err := ParseTokenEvent("not json"); err == nil {
		t.Fatalf("expected error for malformed token data")
	}
	if _, err := ParseStartEvent(""); err == nil {
		t.Fatalf("expected error for empty start data")
	}
}
