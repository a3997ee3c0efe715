package repository

import (
	"context"

	"github.com/fastygo/hms-gateway/domain"
)

// VerdictCache memoizes token verification results for domain.VerdictTTL.
// Get returns domain.ErrVerdictNotFound for absent or expired entries.
type VerdictCache interface {
	Get(ctx context.Context, token string) (*domain.Verdict, error)
	Put(ctx context.Context, token string, valid bool) (*domain.Verdict, error)
}
