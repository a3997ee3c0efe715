package domain

import "time"

// VerdictTTL is how long a verification result may be reused before the
// authentication authority has to be asked again.
const VerdictTTL = 30 * time.Second

// Verdict is a cached answer from the authentication authority for one bearer token.
type Verdict struct {
	Token     string    `json:"-"`
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewVerdict builds a verdict that expires VerdictTTL after now.
func NewVerdict(token string, valid bool, now time.Time) *Verdict {
	return &Verdict{
		Token:     token,
		Valid:     valid,
		ExpiresAt: now.Add(VerdictTTL),
	}
}

// IsExpired reports whether the verdict must be re-checked at reference.
func (v *Verdict) IsExpired(reference time.Time) bool {
	if v == nil {
		return true
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	return !reference.Before(v.ExpiresAt)
}
