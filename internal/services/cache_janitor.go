package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper purges expired entries from an in-process cache.
type Sweeper interface {
	Sweep() int
}

// CacheJanitor periodically sweeps the in-memory verdict cache so expired
// verdicts do not occupy LRU slots until they are evicted.
type CacheJanitor struct {
	cache  Sweeper
	cron   *cron.Cron
	logger *zap.Logger
}

func NewCacheJanitor(cache Sweeper, interval time.Duration, logger *zap.Logger) *CacheJanitor {
	if interval < time.Second {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &CacheJanitor{
		cache:  cache,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
	_, _ = j.cron.AddFunc(fmt.Sprintf("@every %ds", int(interval.Seconds())), func() { j.Run() })
	return j
}

// Run performs one sweep.
func (j *CacheJanitor) Run() int {
	if j == nil || j.cache == nil {
		return 0
	}
	removed := j.cache.Sweep()
	if removed > 0 {
		j.logger.Debug("expired verdicts swept", zap.Int("count", removed))
	}
	return removed
}

func (j *CacheJanitor) Start() {
	j.cron.Start()
}

func (j *CacheJanitor) Stop(ctx context.Context) error {
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
