package domain

// ModelDescriptor describes one model the backend can serve.
type ModelDescriptor struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	SupportsImages bool   `json:"supports_images"`
	SupportsAudio  bool   `json:"supports_audio"`
	SupportsVideo  bool   `json:"supports_video"`
	MemoryCostMB   int    `json:"memory_cost_mb,omitempty"`
}

// ModelInfo describes the model currently loaded on the backend, as
// reported by the health probe.
type ModelInfo struct {
	ModelName      string `json:"model_name"`
	Device         string `json:"device,omitempty"`
	IsLoaded       bool   `json:"is_loaded"`
	SupportsImages bool   `json:"supports_images"`
	SupportsAudio  bool   `json:"supports_audio"`
	SupportsVideo  bool   `json:"supports_video"`
}
