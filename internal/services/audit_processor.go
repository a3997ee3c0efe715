package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/hms-gateway/domain"
	"github.com/fastygo/hms-gateway/internal/infrastructure/buffer"
	"github.com/fastygo/hms-gateway/repository"
	"github.com/fastygo/hms-gateway/usecase/audit"
)

// ConnectionHealth reports whether primary storage is reachable.
type ConnectionHealth interface {
	DatabaseOnline() bool
}

type BufferObserver interface {
	ObserveAuditBuffered()
}

// ProcessorConfig controls how frequently the outbox is drained and pruned.
type ProcessorConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	Retention  time.Duration
}

// AuditProcessor writes access events to Postgres and keeps the ones it
// could not write in the bbolt outbox until a later drain succeeds.
type AuditProcessor struct {
	store    *buffer.Store
	monitor  ConnectionHealth
	repo     repository.AuditRepository
	observer BufferObserver
	logger   *zap.Logger
	cron     *cron.Cron
	cfg      ProcessorConfig
	now      func() time.Time
}

func NewAuditProcessor(
	store *buffer.Store,
	monitor ConnectionHealth,
	repo repository.AuditRepository,
	observer BufferObserver,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *AuditProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 72 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ap := &AuditProcessor{
		store:    store,
		monitor:  monitor,
		repo:     repo,
		observer: observer,
		logger:   logger,
		cfg:      cfg,
		cron:     cron.New(cron.WithSeconds()),
		now:      time.Now,
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	_, _ = ap.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := ap.Drain(ctx); err != nil {
			ap.logger.Error("audit outbox drain failed", zap.Error(err))
		}
	})
	_, _ = ap.cron.AddFunc("@hourly", func() {
		if _, err := ap.Prune(); err != nil {
			ap.logger.Error("audit outbox prune failed", zap.Error(err))
		}
	})

	return ap
}

// Start launches the cron scheduler.
func (ap *AuditProcessor) Start() {
	if ap == nil || ap.cron == nil {
		return
	}
	ap.cron.Start()
	ap.logger.Info("audit processor started", zap.Duration("interval", ap.cfg.Interval))
}

// Stop waits for a running drain to finish or ctx to expire.
func (ap *AuditProcessor) Stop(ctx context.Context) error {
	if ap == nil || ap.cron == nil {
		return nil
	}
	stopCtx := ap.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	ap.logger.Info("audit processor stopped")
	return nil
}

// Deliver writes the event to Postgres when it is reachable and to the outbox otherwise.
func (ap *AuditProcessor) Deliver(ctx context.Context, event *domain.AccessEvent) error {
	if event == nil {
		return domain.ErrInvalidPayload
	}
	if ap.repo != nil && (ap.monitor == nil || ap.monitor.DatabaseOnline()) {
		err := ap.repo.Append(ctx, event)
		if err == nil {
			return nil
		}
		ap.logger.Warn("audit write failed, buffering", zap.String("event_id", event.ID), zap.Error(err))
	}
	if ap.store == nil {
		return fmt.Errorf("audit outbox not configured")
	}
	if err := ap.store.Enqueue(event); err != nil {
		return err
	}
	if ap.observer != nil {
		ap.observer.ObserveAuditBuffered()
	}
	return nil
}

// Drain replays one batch of buffered events. Entries that keep failing are
// dropped after MaxRetries attempts.
func (ap *AuditProcessor) Drain(ctx context.Context) error {
	if ap == nil || ap.store == nil || ap.repo == nil {
		return nil
	}
	if ap.monitor != nil && !ap.monitor.DatabaseOnline() {
		ap.logger.Debug("skipping audit drain (database offline)")
		return nil
	}

	entries, err := ap.store.Peek(ap.cfg.BatchSize)
	if err != nil {
		return err
	}

	delivered := make([]buffer.Entry, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := ap.repo.Append(ctx, &entry.Event); err != nil {
			ap.handleFailure(entry, err)
			continue
		}
		delivered = append(delivered, entry)
	}

	if err := ap.store.Ack(delivered...); err != nil {
		return fmt.Errorf("ack delivered events: %w", err)
	}
	if len(delivered) > 0 {
		ap.logger.Info("audit outbox drained", zap.Int("delivered", len(delivered)), zap.Int("batch", len(entries)))
	}
	return nil
}

// Prune drops buffered events older than the retention window.
func (ap *AuditProcessor) Prune() (int, error) {
	if ap == nil || ap.store == nil {
		return 0, nil
	}
	removed, err := ap.store.Prune(ap.now().Add(-ap.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		ap.logger.Warn("pruned expired audit events", zap.Int("count", removed))
	}
	return removed, nil
}

// Size returns the number of buffered events.
func (ap *AuditProcessor) Size() int {
	if ap == nil || ap.store == nil {
		return 0
	}
	size, err := ap.store.Len()
	if err != nil {
		return 0
	}
	return size
}

func (ap *AuditProcessor) handleFailure(entry buffer.Entry, cause error) {
	log := ap.logger.With(zap.String("event_id", entry.Event.ID), zap.Int("attempts", entry.Attempts+1))
	if entry.Attempts+1 >= ap.cfg.MaxRetries {
		log.Warn("dropping audit event (max retries reached)", zap.Error(cause))
		if err := ap.store.Ack(entry); err != nil {
			log.Error("failed to drop audit event", zap.Error(err))
		}
		return
	}
	log.Warn("audit replay failed, requeueing", zap.Error(cause))
	if err := ap.store.Retry(entry); err != nil {
		log.Error("failed to requeue audit event", zap.Error(err))
	}
}

var _ audit.Sink = (*AuditProcessor)(nil)
