package monitor

import "time"

// Check is the state of one dependency.
type Check string

const (
	CheckUp       Check = "up"
	CheckDown     Check = "down"
	CheckDisabled Check = "disabled"
)

type Status struct {
	PostgreSQL Check     `json:"postgresql"`
	Redis      Check     `json:"redis"`
	Outbox     Check     `json:"outbox"`
	OutboxSize int       `json:"outbox_size"`
	LastCheck  time.Time `json:"last_check"`
}

// Healthy reports whether every configured dependency answered the last check.
func (s Status) Healthy() bool {
	return s.PostgreSQL != CheckDown && s.Redis != CheckDown && s.Outbox != CheckDown
}
