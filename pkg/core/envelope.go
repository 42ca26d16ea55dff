package core

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrEmptyText indicates an envelope with no request text.
var ErrEmptyText = errors.New("envelope text is required")

// Envelope is the adapter-agnostic inbound request.
type Envelope struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	TraceID   string `json:"trace_id"`
}

// Normalize fills in defaults for optional fields: generated session and
// trace ids, the "default" tenant, the "anonymous" user, and the least
// privileged role.
func (e Envelope) Normalize() Envelope {
	if e.SessionID == "" {
		e.SessionID = uuid.NewString()
	}
	if e.TraceID == "" {
		e.TraceID = uuid.NewString()
	}
	if e.TenantID == "" {
		e.TenantID = "default"
	}
	if e.UserID == "" {
		e.UserID = "anonymous"
	}
	if !e.Role.Valid() {
		e.Role = RoleUser
	}
	return e
}

// Validate checks the required fields.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Text) == "" {
		return ErrEmptyText
	}
	return nil
}
