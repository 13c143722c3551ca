// Package backend provides the HTTP client for the VLM chat backend,
// including SSE streaming for generation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// Client talks to the chat backend.
type Client struct {
	baseURL string

	// Separate HTTP clients because timeouts differ by an order of
	// magnitude: JSON calls are quick, file transfers are not, and
	// generation streams are bounded only by the caller's context.
	httpClient   *http.Client
	fileClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new backend client. requestTimeout bounds plain JSON
// calls, fileTimeout bounds multipart transfers. Streaming requests carry
// no client-level timeout and must be bounded by the caller's context.
func NewClient(baseURL string, requestTimeout, fileTimeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: requestTimeout},
		fileClient:   &http.Client{Timeout: fileTimeout},
		streamClient: &http.Client{},
	}
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error [%d]: %s", e.StatusCode, e.Message)
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// apiError builds an APIError from a non-2xx response body.
func apiError(statusCode int, body []byte) *APIError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Message != "" {
		return &APIError{StatusCode: statusCode, Message: eb.Message}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &APIError{StatusCode: statusCode, Message: msg}
}

// HealthStatus is the health probe response.
type HealthStatus struct {
	Status      string            `json:"status"`
	Service     string            `json:"service,omitempty"`
	ModelLoaded bool              `json:"model_loaded"`
	ModelInfo   *domain.ModelInfo `json:"model_info,omitempty"`
}

// ModelList is the models listing response.
type ModelList struct {
	Models         []domain.ModelDescriptor `json:"models"`
	CurrentModelID string                   `json:"current_model_id"`
	Switching      bool                     `json:"switching"`
}

// UploadedFile is one saved file in an upload response.
type UploadedFile struct {
	OriginalName string `json:"original_name"`
	SavedName    string `json:"saved_name"`
	Path         string `json:"path"`
}

// uploadResponse is the upload endpoint response.
type uploadResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Files   []UploadedFile `json:"files"`
}

// GenerateRequest is the request body for both generation endpoints. The
// client assigns TurnID; every stream event echoes it back.
type GenerateRequest struct {
	TurnID     string   `json:"turn_id,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	Text       string   `json:"text"`
	ImagePaths []string `json:"image_paths,omitempty"`
}

// generateResponse is the non-streaming generation response.
type generateResponse struct {
	Status     string `json:"status"`
	Response   string `json:"response"`
	ImagesUsed int    `json:"images_used,omitempty"`
}

// TurnRecord is the payload that confirms a completed turn to the backend.
type TurnRecord struct {
	UserText      string   `json:"user_text"`
	AssistantText string   `json:"assistant_text"`
	ImagePaths    []string `json:"image_paths,omitempty"`
}

// transcribeResponse is the transcription endpoint response.
type transcribeResponse struct {
	Status        string `json:"status"`
	Transcription string `json:"transcription_text"`
}

// sessionList is the sessions listing response.
type sessionList struct {
	Sessions []domain.Session `json:"sessions"`
}

// messageList is the session history response.
type messageList struct {
	Messages []domain.Message `json:"messages"`
}

// Health probes the backend.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModels retrieves the available models and the switch state.
func (c *Client) ListModels(ctx context.Context) (*ModelList, error) {
	var out ModelList
	if err := c.doJSON(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SwitchModel asks the backend to load a different model. The call blocks
// until the load finishes or fails.
func (c *Client) SwitchModel(ctx context.Context, modelID string) error {
	in := map[string]string{"model_id": modelID}
	return c.doJSON(ctx, http.MethodPost, "/models/switch", in, nil)
}

// ListSessions retrieves all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]domain.Session, error) {
	var out sessionList
	if err := c.doJSON(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// CreateSession creates a session bound to the given model.
func (c *Client) CreateSession(ctx context.Context, name, modelID string) (*domain.Session, error) {
	in := map[string]string{"name": name, "model_id": modelID}
	var out domain.Session
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession deletes a session and its stored messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

// SessionMessages retrieves the stored history of a session.
func (c *Client) SessionMessages(ctx context.Context, id string) ([]domain.Message, error) {
	var out messageList
	if err := c.doJSON(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// LogTurn confirms a completed turn so the backend can persist it.
func (c *Client) LogTurn(ctx context.Context, sessionID string, rec *TurnRecord) error {
	return c.doJSON(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/turns", rec, nil)
}

// Generate performs a non-streaming generation.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (string, error) {
	var out generateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/generate", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Upload sends one local file to the backend and returns its saved record.
func (c *Client) Upload(ctx context.Context, path string) (*UploadedFile, error) {
	body, contentType, err := multipartFile("files", path)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.fileClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result uploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(result.Files) == 0 {
		return nil, fmt.Errorf("upload succeeded but no file was saved")
	}
	return &result.Files[0], nil
}

// DeleteUpload removes a previously uploaded file by its saved name.
func (c *Client) DeleteUpload(ctx context.Context, savedName string) error {
	return c.doJSON(ctx, http.MethodDelete, "/uploads/"+url.PathEscape(savedName), nil, nil)
}

// Transcribe sends an audio file for transcription and returns the text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	body, contentType, err := multipartFile("audio", audioPath)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.fileClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send audio: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, respBody)
	}

	var result transcribeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Transcription, nil
}

// doJSON performs a JSON request and decodes the response into out when
// out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// multipartFile builds a single-file multipart body for the given form
// field.
func multipartFile(field, path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
