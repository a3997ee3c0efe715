package postgres

import (
	"encoding/json"
	"time"
)

const maxPageSize = 500

// jsonb encodes metadata for a jsonb column. Empty or unencodable maps become NULL.
func jsonb(data map[string]string) []byte {
	if len(data) == 0 {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}

// optionalTime binds the zero time as NULL.
func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
