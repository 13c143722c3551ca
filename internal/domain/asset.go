package domain

import "time"

// Asset is a locally selected file (image, or a recording queued for
// transcription) and its upload state. The record is created optimistically
// before the upload finishes and is never retracted: a failed upload stays
// visible with Error set until the user removes it.
type Asset struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	LocalPath    string    `json:"local_path"`
	RemotePath   string    `json:"remote_path,omitempty"`
	Uploading    bool      `json:"uploading"`
	Selected     bool      `json:"selected"`
	Error        string    `json:"error,omitempty"`
	AddedAt      time.Time `json:"added_at"`
}

// Attachable reports whether the asset may be included in a generation
// request. Only fully uploaded assets qualify; selection alone is not
// enough.
func (a Asset) Attachable() bool {
	return !a.Uploading && a.Error == "" && a.RemotePath != ""
}
