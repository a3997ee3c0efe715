package repository

import (
	"context"
	"time"

	"github.com/fastygo/hms-gateway/domain"
)

type AuditFilter struct {
	Decision  domain.DecisionKind
	ProfileID string
	Since     time.Time
	Limit     int
	Offset    int
}

type AuditRepository interface {
	Append(ctx context.Context, event *domain.AccessEvent) error
	List(ctx context.Context, filter AuditFilter) ([]domain.AccessEvent, error)
}
