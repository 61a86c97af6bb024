package domain

import (
	"encoding/json"
	"time"
)

// Diagram is a node/edge document owned by one user. Graph holds the
// serialized node and edge collections as an opaque JSON payload; the
// editor package knows its shape.
type Diagram struct {
	ID        string          `gorm:"primaryKey" json:"id"`
	Name      string          `json:"name"`
	OwnerID   string          `gorm:"index" json:"owner_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `gorm:"index" json:"updated_at"`
	Graph     json.RawMessage `gorm:"type:jsonb" json:"graph,omitempty"`
	Thumbnail string          `json:"thumbnail,omitempty"`
}

// Grant access levels
const (
	AccessView = "view"
	AccessEdit = "edit"
)

// Grant authorizes one invitee email to access one diagram. EmailLower
// exists because the store can't match emails case-insensitively; both
// columns are queried and merged.
type Grant struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	DiagramID  string    `gorm:"uniqueIndex:idx_grant_diagram_email" json:"diagram_id"`
	Email      string    `gorm:"uniqueIndex:idx_grant_diagram_email;index" json:"email"`
	EmailLower string    `gorm:"index" json:"email_lower"`
	Access     string    `json:"access"` // "view" or "edit"
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
