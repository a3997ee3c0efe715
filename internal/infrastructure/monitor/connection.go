package monitor

import (
	"context"
	"sync"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger adapts a go-redis client to Pinger.
func RedisPinger(client redislib.Cmdable) Pinger {
	return PingerFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Outbox is satisfied by *buffer.Store.
type Outbox interface {
	Len() (int, error)
}

// Dependencies lists what the monitor watches. Nil members are reported as disabled.
type Dependencies struct {
	Postgres Pinger
	Redis    Pinger
	Outbox   Outbox
}

// Monitor periodically checks the gateway's backing services and keeps the
// latest Status for the health endpoint and the audit processor.
type Monitor struct {
	deps Dependencies

	status   Status
	mu       sync.RWMutex
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func New(deps Dependencies, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		deps:     deps,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
	m.status = Status{
		PostgreSQL: disabledOr(deps.Postgres != nil, CheckDown),
		Redis:      disabledOr(deps.Redis != nil, CheckDown),
		Outbox:     disabledOr(deps.Outbox != nil, CheckDown),
	}
	return m
}

// Start runs a first check synchronously, then keeps checking in the background.
func (m *Monitor) Start() {
	m.Refresh(context.Background())
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// DatabaseOnline reports whether Postgres answered the last ping.
func (m *Monitor) DatabaseOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.PostgreSQL == CheckUp
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Refresh checks every dependency once.
func (m *Monitor) Refresh(ctx context.Context) Status {
	outbox, size := m.checkOutbox()
	status := Status{
		PostgreSQL: m.ping(ctx, "postgresql", m.deps.Postgres, 3*time.Second),
		Redis:      m.ping(ctx, "redis", m.deps.Redis, 2*time.Second),
		Outbox:     outbox,
		OutboxSize: size,
		LastCheck:  time.Now(),
	}

	m.mu.Lock()
	previous := m.status
	m.status = status
	m.mu.Unlock()

	if previous.Healthy() != status.Healthy() {
		m.logger.Info("dependency status changed",
			zap.String("postgresql", string(status.PostgreSQL)),
			zap.String("redis", string(status.Redis)),
			zap.String("outbox", string(status.Outbox)))
	}
	return status
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Refresh(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) ping(ctx context.Context, name string, p Pinger, timeout time.Duration) Check {
	if p == nil {
		return CheckDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		m.logger.Debug("dependency ping failed", zap.String("dependency", name), zap.Error(err))
		return CheckDown
	}
	return CheckUp
}

func (m *Monitor) checkOutbox() (Check, int) {
	if m.deps.Outbox == nil {
		return CheckDisabled, 0
	}
	size, err := m.deps.Outbox.Len()
	if err != nil {
		m.logger.Warn("outbox size check failed", zap.Error(err))
		return CheckDown, 0
	}
	return CheckUp, size
}

func disabledOr(enabled bool, c Check) Check {
	if !enabled {
		return CheckDisabled
	}
	return c
}
