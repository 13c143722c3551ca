package stub

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/justarandomnameduh/omnichat/internal/backend"
	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// errTriggerPrefix marks a prompt that should fail mid-stream. Handy for
// exercising the client's error path against a live stub.
const errTriggerPrefix = "!error"

// Generate handles non-streaming generation.
// POST /generate
func (s *Server) Generate(c echo.Context) error {
	var req backend.GenerateRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}

	desc, errCode, errMsg := s.admitGeneration(&req)
	if errMsg != "" {
		return errJSON(c, errCode, errMsg)
	}
	defer s.endGeneration()

	images := s.validImagePaths(req.ImagePaths)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "success",
		"response":    cannedResponse(req.Text, len(images), desc),
		"images_used": len(images),
	})
}

// GenerateStream handles streaming generation over SSE. Every event
// carries the turn id from the request; the terminal event is either
// done or error.
// POST /generate/stream
func (s *Server) GenerateStream(c echo.Context) error {
	var req backend.GenerateRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}

	desc, errCode, errMsg := s.admitGeneration(&req)
	if errMsg != "" {
		return errJSON(c, errCode, errMsg)
	}
	defer s.endGeneration()

	turnID := req.TurnID
	if turnID == "" {
		turnID = "turn_" + uuid.New().String()[:8]
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported")
	}

	ctx := c.Request().Context()
	start := time.Now()

	if err := writeEvent(c, flusher, domain.StreamEventStart, domain.StartEventData{
		TurnID:  turnID,
		ModelID: desc.ID,
	}); err != nil {
		return nil
	}

	if strings.HasPrefix(req.Text, errTriggerPrefix) {
		msg := strings.TrimSpace(strings.TrimPrefix(req.Text, errTriggerPrefix))
		if msg == "" {
			msg = "simulated generation failure"
		}
		writeEvent(c, flusher, domain.StreamEventError, domain.ErrorEventData{
			TurnID:  turnID,
			Code:    "generation_failed",
			Message: msg,
		})
		return nil
	}

	images := s.validImagePaths(req.ImagePaths)
	tokens := splitTokens(cannedResponse(req.Text, len(images), desc))

	for _, tok := range tokens {
		select {
		case <-ctx.Done():
			log.Printf("WARN: client disconnected mid-stream (turn %s)", turnID)
			return nil
		default:
		}

		if err := writeEvent(c, flusher, domain.StreamEventToken, domain.TokenEventData{
			TurnID: turnID,
			Text:   tok,
		}); err != nil {
			log.Printf("WARN: failed to write token (turn %s): %v", turnID, err)
			return nil
		}
		time.Sleep(s.cfg.TokenDelay)
	}

	writeEvent(c, flusher, domain.StreamEventDone, domain.DoneEventData{
		TurnID:     turnID,
		TokenCount: len(tokens),
		DurationMs: int(time.Since(start).Milliseconds()),
	})
	return nil
}

// admitGeneration validates a generation request and bumps the active
// generation count. On success the caller must call endGeneration. A
// non-empty message means rejection.
func (s *Server) admitGeneration(req *backend.GenerateRequest) (desc *domain.ModelDescriptor, code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.switching {
		return nil, http.StatusConflict, "model switch in progress"
	}
	desc = s.modelByID(s.current)
	if desc == nil {
		return nil, http.StatusServiceUnavailable, "model not loaded"
	}
	if strings.TrimSpace(req.Text) == "" && len(req.ImagePaths) == 0 {
		return nil, http.StatusBadRequest, "Text input is required"
	}
	if len(req.ImagePaths) > 0 && !desc.SupportsImages {
		return nil, http.StatusBadRequest, "model does not support image input"
	}
	s.generating++
	return desc, 0, ""
}

func (s *Server) endGeneration() {
	s.mu.Lock()
	s.generating--
	s.mu.Unlock()
}

// validImagePaths resolves requested image paths against the upload dir
// and drops anything missing or escaping it.
func (s *Server) validImagePaths(paths []string) []string {
	valid := []string{}
	for _, p := range paths {
		name := filepath.Base(p)
		if name != p {
			log.Printf("WARN: ignoring image path %q", p)
			continue
		}
		if _, err := os.Stat(filepath.Join(s.cfg.UploadDir, name)); err != nil {
			log.Printf("WARN: ignoring missing image %q", name)
			continue
		}
		valid = append(valid, name)
	}
	return valid
}

// writeEvent writes one named SSE event and flushes it.
func writeEvent(c echo.Context, flusher http.Flusher, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// cannedResponse builds a deterministic reply from the request.
func cannedResponse(text string, imageCount int, desc *domain.ModelDescriptor) string {
	text = strings.TrimSpace(text)
	switch {
	case imageCount > 0 && text != "":
		return fmt.Sprintf("Looking at the %s you attached: %s To answer %q, this is a canned reply from %s.",
			pluralImages(imageCount), describeImages(imageCount), truncate(text, 100), desc.DisplayName)
	case imageCount > 0:
		return fmt.Sprintf("You attached %s. %s This is a canned description from %s.",
			pluralImages(imageCount), describeImages(imageCount), desc.DisplayName)
	default:
		return fmt.Sprintf("Received your message: %q. This is a canned reply from %s.",
			truncate(text, 100), desc.DisplayName)
	}
}

func pluralImages(n int) string {
	if n == 1 {
		return "1 image"
	}
	return fmt.Sprintf("%d images", n)
}

func describeImages(n int) string {
	if n == 1 {
		return "The image shows a placeholder scene."
	}
	return "Each image shows a placeholder scene."
}

// splitTokens splits a reply into word-sized chunks, each keeping its
// trailing space so concatenation reproduces the original text.
func splitTokens(s string) []string {
	if s == "" {
		return nil
	}
	var tokens []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			tokens = append(tokens, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
