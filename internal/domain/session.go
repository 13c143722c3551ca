package domain

import "time"

// Session is a named conversation bound to the model that was active when
// it was created. ModelID never changes after creation.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModelID      string    `json:"model_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}
