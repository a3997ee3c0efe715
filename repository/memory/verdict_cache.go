package memory

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fastygo/hms-gateway/domain"
	"github.com/fastygo/hms-gateway/repository"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 10_000

// Option customises a VerdictCache.
type Option func(*VerdictCache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *VerdictCache) {
		if now != nil {
			c.now = now
		}
	}
}

// VerdictCache is a process-local, size-bounded verdict cache. Expired
// entries are ignored on read and purged by Sweep; when the cache is full the
// least recently used token is evicted.
type VerdictCache struct {
	entries *lru.Cache[string, domain.Verdict]
	now     func() time.Time

	// mu serializes writers so Sweep never removes a verdict stored after it was inspected.
	mu sync.Mutex
}

// NewVerdictCache creates an in-memory verdict cache holding at most maxEntries tokens.
func NewVerdictCache(maxEntries int, opts ...Option) (*VerdictCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[string, domain.Verdict](maxEntries)
	if err != nil {
		return nil, err
	}
	c := &VerdictCache{
		entries: entries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *VerdictCache) Get(_ context.Context, token string) (*domain.Verdict, error) {
	verdict, ok := c.entries.Get(token)
	if !ok {
		return nil, domain.ErrVerdictNotFound
	}
	if verdict.IsExpired(c.now()) {
		c.removeIfExpired(token)
		return nil, domain.ErrVerdictNotFound
	}
	return &verdict, nil
}

func (c *VerdictCache) Put(_ context.Context, token string, valid bool) (*domain.Verdict, error) {
	if token == "" {
		return nil, domain.ErrInvalidPayload
	}
	verdict := domain.NewVerdict(token, valid, c.now())

	c.mu.Lock()
	c.entries.Add(token, *verdict)
	c.mu.Unlock()

	return verdict, nil
}

// Sweep removes every expired verdict and returns how many were dropped.
func (c *VerdictCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, token := range c.entries.Keys() {
		verdict, ok := c.entries.Peek(token)
		if ok && verdict.IsExpired(now) {
			c.entries.Remove(token)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored verdicts, expired ones included.
func (c *VerdictCache) Len() int {
	return c.entries.Len()
}

func (c *VerdictCache) removeIfExpired(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if verdict, ok := c.entries.Peek(token); ok && verdict.IsExpired(c.now()) {
		c.entries.Remove(token)
	}
}

var _ repository.VerdictCache = (*VerdictCache)(nil)
