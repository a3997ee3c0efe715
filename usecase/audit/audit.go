package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/hms-gateway/domain"
)

// Sink persists access events. The services layer writes to Postgres and
// falls back to the local outbox.
type Sink interface {
	Deliver(ctx context.Context, event *domain.AccessEvent) error
}

type Observer interface {
	ObserveAuditDropped()
}

const (
	DefaultQueueSize = 1024
	deliverTimeout   = 5 * time.Second
)

// UseCase decouples request handling from audit storage: Record never blocks,
// a single worker hands events to the Sink in arrival order.
type UseCase struct {
	sink     Sink
	observer Observer
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	events chan *domain.AccessEvent
	done   chan struct{}
}

func New(sink Sink, queueSize int, observer Observer, logger *zap.Logger) *UseCase {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{
		sink:     sink,
		observer: observer,
		logger:   logger,
		events:   make(chan *domain.AccessEvent, queueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (uc *UseCase) Start() {
	go uc.run()
}

// Record queues an event. A full queue or a closed use case drops it.
func (uc *UseCase) Record(_ context.Context, event *domain.AccessEvent) {
	if uc == nil || event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Touch()

	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.closed {
		return
	}
	select {
	case uc.events <- event:
	default:
		uc.drop(event, "audit queue full")
	}
}

// Pending returns the number of queued, undelivered events.
func (uc *UseCase) Pending() int {
	return len(uc.events)
}

// Close stops accepting events and waits for the queue to be delivered or ctx to end.
func (uc *UseCase) Close(ctx context.Context) error {
	uc.mu.Lock()
	if !uc.closed {
		uc.closed = true
		close(uc.events)
	}
	uc.mu.Unlock()

	select {
	case <-uc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (uc *UseCase) run() {
	defer close(uc.done)
	for event := range uc.events {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := uc.sink.Deliver(ctx, event); err != nil {
			uc.drop(event, "audit delivery failed", zap.Error(err))
		}
		cancel()
	}
}

func (uc *UseCase) drop(event *domain.AccessEvent, msg string, fields ...zap.Field) {
	if uc.observer != nil {
		uc.observer.ObserveAuditDropped()
	}
	uc.logger.Warn(msg, append(fields,
		zap.String("event_id", event.ID),
		zap.String("decision", string(event.Decision)),
		zap.String("path", event.Path))...)
}
