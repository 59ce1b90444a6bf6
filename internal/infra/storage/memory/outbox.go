package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	appoutbox "neighborhub/internal/app/outbox"
)

// RecordPublisher delivers a flushed event record, e.g. straight to Kafka.
type RecordPublisher interface {
	PublishRecord(ctx context.Context, rec appoutbox.EventRecord) error
}

// Outbox buffers records until Flush. Flushed records go to Publisher when
// one is set and are logged otherwise.
type Outbox struct {
	Publisher RecordPublisher
	Logger    *slog.Logger

	mu      sync.Mutex
	records []appoutbox.EventRecord
	sent    int
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	pending := o.records
	o.records = nil
	o.sent += len(pending)
	o.mu.Unlock()

	var errs []error
	for _, rec := range pending {
		if o.Publisher != nil {
			if err := o.Publisher.PublishRecord(ctx, rec); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if o.Logger != nil {
			o.Logger.Debug("event recorded", "event", rec.Name, "aggregate", rec.Aggregate, "id", rec.ID)
		}
	}
	return errors.Join(errs...)
}

// Flushed counts records handed off by Flush.
func (o *Outbox) Flushed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}

var _ appoutbox.Outbox = (*Outbox)(nil)
