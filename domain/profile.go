package domain

import "time"

// Profile is the subset of a staff account the gateway needs for policy checks.
type Profile struct {
	ID              string            `json:"id"`
	Email           string            `json:"email,omitempty"`
	Role            string            `json:"role"`
	Status          string            `json:"status"`
	PasswordChanged bool              `json:"password_changed"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (p *Profile) IsActive() bool {
	return p != nil && p.Status == "active"
}

// MustChangePassword reports whether the account still uses its initial password.
func (p *Profile) MustChangePassword() bool {
	return p != nil && !p.PasswordChanged
}
