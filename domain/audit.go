package domain

import "time"

// AccessEvent records one gateway decision for the access audit trail.
// Tokens are never stored, only their fingerprint.
type AccessEvent struct {
	ID          string            `json:"id"`
	Decision    DecisionKind      `json:"decision"`
	Reason      string            `json:"reason,omitempty"`
	Path        string            `json:"path"`
	ProfileID   string            `json:"profile_id,omitempty"`
	Fingerprint string            `json:"token_fingerprint,omitempty"`
	RemoteAddr  string            `json:"remote_addr,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (e *AccessEvent) Touch() {
	if e == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
}
