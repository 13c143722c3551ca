package stub

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/justarandomnameduh/omnichat/internal/backend"
	"github.com/justarandomnameduh/omnichat/internal/config"
	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// allowedImageExts mirrors the real backend's upload whitelist.
var allowedImageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".bmp": true, ".webp": true,
}

// allowedAudioExts mirrors the real backend's transcription whitelist.
var allowedAudioExts = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true,
	".ogg": true, ".m4a": true, ".aac": true,
}

// Server handles stub backend HTTP requests.
type Server struct {
	store *Store
	cfg   *config.StubConfig

	// models is immutable after construction; the rest is guarded by mu.
	models []domain.ModelDescriptor

	mu         sync.Mutex
	current    string
	switching  bool
	generating int
}

// NewServer creates a stub server with the canned model catalog.
func NewServer(store *Store, cfg *config.StubConfig) (*Server, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Server{
		store:  store,
		cfg:    cfg,
		models: defaultCatalog(),
	}, nil
}

// defaultCatalog lists the models the stub pretends to serve.
func defaultCatalog() []domain.ModelDescriptor {
	return []domain.ModelDescriptor{
		{
			ID:             "qwen2.5-omni-3b",
			DisplayName:    "Qwen2.5-Omni 3B",
			SupportsImages: true,
			SupportsAudio:  true,
			SupportsVideo:  true,
			MemoryCostMB:   8192,
		},
		{
			ID:             "qwen2.5-vl-7b",
			DisplayName:    "Qwen2.5-VL 7B Instruct",
			SupportsImages: true,
			MemoryCostMB:   16384,
		},
		{
			ID:             "gemma-3-12b-it",
			DisplayName:    "Gemma 3 12B IT",
			SupportsImages: true,
			MemoryCostMB:   24576,
		},
		{
			ID:             "llava-next-mistral-7b",
			DisplayName:    "LLaVA-NeXT Mistral 7B",
			SupportsImages: true,
			MemoryCostMB:   15360,
		},
	}
}

// RegisterRoutes registers routes with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.Health)

	e.GET("/models", s.ListModels)
	e.POST("/models/switch", s.SwitchModel)

	e.GET("/sessions", s.ListSessions)
	e.POST("/sessions", s.CreateSession)
	e.DELETE("/sessions/:session_id", s.DeleteSession)
	e.GET("/sessions/:session_id/messages", s.SessionMessages)
	e.POST("/sessions/:session_id/turns", s.LogTurn)

	e.POST("/upload", s.Upload)
	e.GET("/uploads/:filename", s.GetUpload)
	e.DELETE("/uploads/:filename", s.DeleteUpload)

	e.POST("/generate", s.Generate)
	e.POST("/generate/stream", s.GenerateStream)
	e.POST("/transcribe", s.Transcribe)
}

// errJSON writes the backend error envelope.
func errJSON(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]string{
		"status":  "error",
		"message": message,
	})
}

func (s *Server) modelByID(id string) *domain.ModelDescriptor {
	for i := range s.models {
		if s.models[i].ID == id {
			return &s.models[i]
		}
	}
	return nil
}

// Health returns health status, including the loaded model if any.
// GET /health
func (s *Server) Health(c echo.Context) error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	status := backend.HealthStatus{
		Status:  "healthy",
		Service: "omnistub",
	}
	if desc := s.modelByID(current); desc != nil {
		status.ModelLoaded = true
		status.ModelInfo = &domain.ModelInfo{
			ModelName:      desc.DisplayName,
			Device:         "cpu",
			IsLoaded:       true,
			SupportsImages: desc.SupportsImages,
			SupportsAudio:  desc.SupportsAudio,
			SupportsVideo:  desc.SupportsVideo,
		}
	}
	return c.JSON(http.StatusOK, status)
}

// ListModels returns the catalog and the switch state.
// GET /models
func (s *Server) ListModels(c echo.Context) error {
	s.mu.Lock()
	current := s.current
	switching := s.switching
	s.mu.Unlock()

	return c.JSON(http.StatusOK, backend.ModelList{
		Models:         s.models,
		CurrentModelID: current,
		Switching:      switching,
	})
}

type switchRequest struct {
	ModelID string `json:"model_id"`
}

// SwitchModel loads a different model. The request blocks for the
// configured switch delay, like a real model load would.
// POST /models/switch
func (s *Server) SwitchModel(c echo.Context) error {
	var req switchRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ModelID == "" {
		return errJSON(c, http.StatusBadRequest, "model_id is required")
	}
	if s.modelByID(req.ModelID) == nil {
		return errJSON(c, http.StatusNotFound, "unknown model: "+req.ModelID)
	}

	s.mu.Lock()
	if s.switching {
		s.mu.Unlock()
		return errJSON(c, http.StatusConflict, "model switch already in progress")
	}
	if s.generating > 0 {
		s.mu.Unlock()
		return errJSON(c, http.StatusConflict, "generation in progress")
	}
	if s.current == req.ModelID {
		s.mu.Unlock()
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "success",
			"message": "model already loaded",
		})
	}
	s.switching = true
	s.mu.Unlock()

	log.Printf("INFO: switching model to %s", req.ModelID)
	time.Sleep(s.cfg.SwitchDelay)

	s.mu.Lock()
	s.current = req.ModelID
	s.switching = false
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

// ListSessions returns all sessions, most recently active first.
// GET /sessions
func (s *Server) ListSessions(c echo.Context) error {
	sessions, err := s.store.ListSessions(c.Request().Context())
	if err != nil {
		log.Printf("ERROR: failed to list sessions: %v", err)
		return errJSON(c, http.StatusInternalServerError, "failed to list sessions")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": sessions})
}

type createSessionRequest struct {
	Name    string `json:"name"`
	ModelID string `json:"model_id"`
}

// CreateSession creates a session bound to a model.
// POST /sessions
func (s *Server) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return errJSON(c, http.StatusBadRequest, "name is required")
	}
	if req.ModelID == "" {
		return errJSON(c, http.StatusBadRequest, "model_id is required")
	}
	if s.modelByID(req.ModelID) == nil {
		return errJSON(c, http.StatusNotFound, "unknown model: "+req.ModelID)
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(req.Name),
		ModelID:   req.ModelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(c.Request().Context(), session); err != nil {
		log.Printf("ERROR: failed to create session: %v", err)
		return errJSON(c, http.StatusInternalServerError, "failed to create session")
	}
	return c.JSON(http.StatusCreated, session)
}

// DeleteSession removes a session and its messages.
// DELETE /sessions/:session_id
func (s *Server) DeleteSession(c echo.Context) error {
	sessionID := c.Param("session_id")
	deleted, err := s.store.DeleteSession(c.Request().Context(), sessionID)
	if err != nil {
		log.Printf("ERROR: failed to delete session %s: %v", sessionID, err)
		return errJSON(c, http.StatusInternalServerError, "failed to delete session")
	}
	if !deleted {
		return errJSON(c, http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

// SessionMessages returns a session's stored history.
// GET /sessions/:session_id/messages
func (s *Server) SessionMessages(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session %s: %v", sessionID, err)
		return errJSON(c, http.StatusInternalServerError, "failed to get session")
	}
	if session == nil {
		return errJSON(c, http.StatusNotFound, "session not found")
	}

	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to list messages for %s: %v", sessionID, err)
		return errJSON(c, http.StatusInternalServerError, "failed to list messages")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": messages})
}

// LogTurn persists one confirmed exchange. Turns are only stored through
// this endpoint; generation itself never writes.
// POST /sessions/:session_id/turns
func (s *Server) LogTurn(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	var rec backend.TurnRecord
	if err := c.Bind(&rec); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session %s: %v", sessionID, err)
		return errJSON(c, http.StatusInternalServerError, "failed to get session")
	}
	if session == nil {
		return errJSON(c, http.StatusNotFound, "session not found")
	}

	if err := s.store.AppendTurn(ctx, sessionID, rec.UserText, rec.AssistantText, rec.ImagePaths); err != nil {
		log.Printf("ERROR: failed to append turn to %s: %v", sessionID, err)
		return errJSON(c, http.StatusInternalServerError, "failed to store turn")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

// Upload saves image files from a multipart form.
// POST /upload
func (s *Server) Upload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid multipart form")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return errJSON(c, http.StatusBadRequest, "No file part in the request")
	}

	uploaded := []backend.UploadedFile{}
	for _, fh := range files {
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !allowedImageExts[ext] {
			log.Printf("WARN: rejecting upload %s: unsupported extension", fh.Filename)
			continue
		}

		savedName := uuid.New().String() + "_" + sanitizeFilename(fh.Filename)
		if err := s.saveUpload(fh, savedName); err != nil {
			log.Printf("ERROR: failed to save upload %s: %v", fh.Filename, err)
			continue
		}
		uploaded = append(uploaded, backend.UploadedFile{
			OriginalName: fh.Filename,
			SavedName:    savedName,
			Path:         savedName,
		})
	}

	if len(uploaded) == 0 {
		return errJSON(c, http.StatusBadRequest, "No valid image files uploaded")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("%d file(s) uploaded successfully", len(uploaded)),
		"files":   uploaded,
	})
}

// GetUpload serves a previously uploaded file.
// GET /uploads/:filename
func (s *Server) GetUpload(c echo.Context) error {
	filename := c.Param("filename")
	if filename != filepath.Base(filename) {
		return errJSON(c, http.StatusBadRequest, "invalid filename")
	}
	path := filepath.Join(s.cfg.UploadDir, filename)
	if _, err := os.Stat(path); err != nil {
		return errJSON(c, http.StatusNotFound, "File not found")
	}
	return c.File(path)
}

// DeleteUpload removes a previously uploaded file.
// DELETE /uploads/:filename
func (s *Server) DeleteUpload(c echo.Context) error {
	filename := c.Param("filename")
	if filename != filepath.Base(filename) {
		return errJSON(c, http.StatusBadRequest, "invalid filename")
	}
	if err := os.Remove(filepath.Join(s.cfg.UploadDir, filename)); err != nil {
		if os.IsNotExist(err) {
			return errJSON(c, http.StatusNotFound, "File not found")
		}
		log.Printf("ERROR: failed to delete upload %s: %v", filename, err)
		return errJSON(c, http.StatusInternalServerError, "failed to delete file")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

// Transcribe accepts an audio file and returns canned text.
// POST /transcribe
func (s *Server) Transcribe(c echo.Context) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "No audio file provided")
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedAudioExts[ext] {
		return errJSON(c, http.StatusBadRequest, "Unsupported audio format: "+ext)
	}

	// Drain the upload; the stub does not keep audio around.
	src, err := fh.Open()
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "failed to read audio file")
	}
	n, err := io.Copy(io.Discard, src)
	src.Close()
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "failed to read audio file")
	}
	log.Printf("INFO: transcribing %s (%d bytes)", fh.Filename, n)

	return c.JSON(http.StatusOK, map[string]string{
		"status":             "success",
		"transcription_text": fmt.Sprintf("This is a stub transcription of %s.", fh.Filename),
	})
}

// saveUpload writes one multipart file into the upload directory.
func (s *Server) saveUpload(fh *multipart.FileHeader, savedName string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.cfg.UploadDir, savedName))
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// sanitizeFilename strips path components and characters that do not
// belong in a stored filename.
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
