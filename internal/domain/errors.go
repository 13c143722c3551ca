package domain

import "errors"

var (
	ErrNotConnected      = errors.New("backend not connected")
	ErrNoModelSelected   = errors.New("no model selected")
	ErrNoSessionSelected = errors.New("no session selected")
	ErrAlreadyGenerating = errors.New("a generation is already in progress")
	ErrSwitchInProgress  = errors.New("a model switch is in progress")
	ErrTranscribing      = errors.New("a transcription is in progress")
	ErrEmptyMessage      = errors.New("message needs text or an attached image")
	ErrEmptyName         = errors.New("name must not be empty")
	ErrModelNotFound     = errors.New("model not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrAssetNotFound     = errors.New("asset not found")
)

// IsExclusivityViolation reports whether err is a synchronous rejection
// caused by an operation that must remain singular. These rejections have
// no side effects and are safe to surface inline.
func IsExclusivityViolation(err error) bool {
	return errors.Is(err, ErrAlreadyGenerating) ||
		errors.Is(err, ErrSwitchInProgress) ||
		errors.Is(err, ErrTranscribing)
}

// IsValidation reports whether err is a rejection of invalid input rather
// than a transport or backend failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrNoModelSelected) ||
		errors.Is(err, ErrNoSessionSelected) ||
		errors.Is(err, ErrModelNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrAssetNotFound)
}
