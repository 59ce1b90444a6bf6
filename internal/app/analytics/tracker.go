package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	domainanalytics "neighborhub/internal/domain/analytics"
)

const (
	DefaultBuffer = 256
	storeTimeout  = 5 * time.Second
)

// Tracker records product views off the request path. Track never blocks:
// when the buffer is full the view is dropped and counted.
type Tracker struct {
	sink   domainanalytics.Sink
	logger *slog.Logger
	queue  chan domainanalytics.ProductView

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
	stored  atomic.Int64
}

func NewTracker(sink domainanalytics.Sink, buffer int, logger *slog.Logger) *Tracker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Tracker{
		sink:   sink,
		logger: logger,
		queue:  make(chan domainanalytics.ProductView, buffer),
	}
}

// Start launches the drain goroutine. It runs until Close.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.drain()
}

// Track enqueues view and reports whether it was accepted.
func (t *Tracker) Track(view domainanalytics.ProductView) bool {
	if view.ID == "" {
		view.ID = uuid.NewString()
	}
	if view.Timestamp.IsZero() {
		view.Timestamp = time.Now().UTC()
	}
	if view.ViewerRole == "" {
		view.ViewerRole = domainanalytics.ViewerAnonymous
	}
	if err := view.Validate(); err != nil {
		t.warn("product view rejected", view, err)
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.queue <- view:
		return true
	default:
		t.dropped.Add(1)
		t.warn("product view dropped, buffer full", view, nil)
		return false
	}
}

// Close stops accepting views and waits for the queued ones to be stored.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Tracker) Dropped() int64 { return t.dropped.Load() }

func (t *Tracker) Stored() int64 { return t.stored.Load() }

func (t *Tracker) drain() {
	defer t.wg.Done()
	for view := range t.queue {
		if t.sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := t.sink.StoreView(ctx, view)
		cancel()
		if err != nil {
			t.warn("product view not stored", view, err)
			continue
		}
		t.stored.Add(1)
	}
}

func (t *Tracker) warn(msg string, view domainanalytics.ProductView, err error) {
	if t.logger == nil {
		return
	}
	attrs := []any{"product_id", view.ProductID, "product_type", view.ProductType}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	t.logger.Warn(msg, attrs...)
}
