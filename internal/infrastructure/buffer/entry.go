package buffer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fastygo/hms-gateway/domain"
)

// Entry is an access event waiting to be written to primary storage.
type Entry struct {
	Event    domain.AccessEvent `json:"event"`
	Attempts int                `json:"attempts"`
	QueuedAt time.Time          `json:"queued_at"`

	key []byte
}

func newEntry(event *domain.AccessEvent, now time.Time) Entry {
	e := Entry{Event: *event, QueuedAt: now}
	if e.Event.ID == "" {
		e.Event.ID = uuid.NewString()
	}
	if e.Event.CreatedAt.IsZero() {
		e.Event.CreatedAt = now
	}
	return e
}

// entryKey orders entries by queue time so cursors drain oldest first.
func entryKey(e Entry) []byte {
	return []byte(fmt.Sprintf("%020d_%s", e.QueuedAt.UnixNano(), e.Event.ID))
}
