// Package domain defines the core entities shared by the chat client.
package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation log. An assistant message is
// created empty with Streaming set, grows by appended token fragments, and
// is finalized when its turn terminates. Finalized messages are never
// mutated again except by clearing the whole log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	AssetRefs []string  `json:"asset_refs,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Streaming bool      `json:"streaming,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
}
