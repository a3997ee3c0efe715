package redis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/hms-gateway/domain"
)

// fakeRedis implements the two commands the verdict cache issues.
type fakeRedis struct {
	redislib.Cmdable
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redislib.StringCmd {
	if f.err != nil {
		return redislib.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redislib.NewStringResult("", redislib.Nil)
	}
	return redislib.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redislib.StatusCmd {
	if f.err != nil {
		return redislib.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	return redislib.NewStatusResult("OK", nil)
}

func TestRedisVerdictCacheRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	fake := newFakeRedis()
	cache := NewVerdictCache(fake, func() time.Time { return now })
	ctx := context.Background()

	_, err := cache.Put(ctx, "secret-token", true)
	require.NoError(t, err)

	for key, ttl := range fake.ttls {
		assert.True(t, strings.HasPrefix(key, "verdict:"))
		assert.NotContains(t, key, "secret-token")
		assert.Equal(t, domain.VerdictTTL, ttl)
	}

	got, err := cache.Get(ctx, "secret-token")
	require.NoError(t, err)
	assert.True(t, got.Valid)
	assert.Equal(t, "secret-token", got.Token)
}

func TestRedisVerdictCacheHonoursStoredExpiry(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	fake := newFakeRedis()
	cache := NewVerdictCache(fake, func() time.Time { return now })
	ctx := context.Background()

	_, err := cache.Put(ctx, "abc", true)
	require.NoError(t, err)

	now = now.Add(domain.VerdictTTL)
	_, err = cache.Get(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrVerdictNotFound)
}

func TestRedisVerdictCacheMissAndFailure(t *testing.T) {
	fake := newFakeRedis()
	cache := NewVerdictCache(fake, nil)
	ctx := context.Background()

	_, err := cache.Get(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrVerdictNotFound)

	fake.err = errors.New("connection refused")
	_, err = cache.Get(ctx, "unknown")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrVerdictNotFound)

	_, err = cache.Put(ctx, "abc", false)
	assert.Error(t, err)
}
