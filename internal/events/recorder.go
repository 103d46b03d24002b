package events

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/repo"
)

const (
	queueSize     = 1024
	insertTimeout = 5 * time.Second
)

// Recorder persists telemetry events off the request path. Record never
// blocks the caller; when the queue is full the event is dropped and
// counted in the logs rather than slowing a client response.
type Recorder struct {
	store  repo.Store
	logger *zap.Logger
	queue  chan *model.Event
	done   chan struct{}

	// Guards queue against Record racing Stop: adapters stop
	// concurrently, so the HTTP server may still deliver requests
	// while the recorder is shutting down.
	mu     sync.RWMutex
	closed bool
}

func NewRecorder(store repo.Store, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger,
		queue:  make(chan *model.Event, queueSize),
		done:   make(chan struct{}),
	}
}

// Record enqueues the event, stamping id and timestamp. Events arriving
// after Stop are dropped instead of panicking on the closed queue.
func (r *Recorder) Record(event *model.Event) {
	if event.ID == "" {
		event.ID = ksuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("recorder stopped, dropping event",
			zap.String("event_type", event.EventType),
		)
		return
	}
	select {
	case r.queue <- event:
	default:
		r.logger.Warn("event queue full, dropping event",
			zap.String("event_type", event.EventType),
		)
	}
}

func (r *Recorder) Start(ctx context.Context) error {
	go r.run()
	return nil
}

// Stop closes the queue and drains what is already buffered.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		r.insert(event)
	}
}

func (r *Recorder) insert(event *model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := r.store.InsertEvent(ctx, event); err != nil {
		r.logger.Error("failed to persist event",
			zap.String("event_type", event.EventType),
			zap.String("update_id", event.UpdateID),
			zap.Error(err),
		)
	}
}
