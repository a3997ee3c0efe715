package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/hms-gateway/domain"
	"github.com/fastygo/hms-gateway/repository"
)

type verdictCache struct {
	client redislib.Cmdable
	prefix string
	now    func() time.Time
}

// NewVerdictCache creates a Redis-backed verdict cache shared by every gateway
// instance. Keys hold a SHA-256 digest of the token, never the token itself.
func NewVerdictCache(client redislib.Cmdable, now func() time.Time) repository.VerdictCache {
	if now == nil {
		now = time.Now
	}
	return &verdictCache{
		client: client,
		prefix: "verdict:",
		now:    now,
	}
}

func (r *verdictCache) Get(ctx context.Context, token string) (*domain.Verdict, error) {
	result, err := r.client.Get(ctx, r.key(token)).Result()
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return nil, domain.ErrVerdictNotFound
		}
		return nil, err
	}

	var verdict domain.Verdict
	if err := json.Unmarshal([]byte(result), &verdict); err != nil {
		return nil, err
	}
	if verdict.IsExpired(r.now()) {
		return nil, domain.ErrVerdictNotFound
	}
	verdict.Token = token
	return &verdict, nil
}

func (r *verdictCache) Put(ctx context.Context, token string, valid bool) (*domain.Verdict, error) {
	if token == "" {
		return nil, domain.ErrInvalidPayload
	}

	verdict := domain.NewVerdict(token, valid, r.now())
	payload, err := json.Marshal(verdict)
	if err != nil {
		return nil, err
	}

	if err := r.client.Set(ctx, r.key(token), payload, domain.VerdictTTL).Err(); err != nil {
		return nil, err
	}
	return verdict, nil
}

func (r *verdictCache) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%s%s", r.prefix, hex.EncodeToString(sum[:]))
}
