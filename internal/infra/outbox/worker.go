package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appoutbox "neighborhub/internal/app/outbox"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Publisher wraps event records in a CloudEvents envelope and sends them to
// <prefix><aggregate>.events.v1, keyed by aggregate id.
type Publisher struct {
	Producer    Producer
	TopicPrefix string
	Source      string
}

func (p Publisher) PublishRecord(ctx context.Context, rec appoutbox.EventRecord) error {
	if p.Producer == nil {
		return ErrWorkerNotConfigured
	}
	payload, headers, err := p.formatPayload(rec)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, p.topicFor(rec.Name), rec.Aggregate, payload, headers)
}

func (p Publisher) formatPayload(rec appoutbox.EventRecord) ([]byte, map[string]string, error) {
	data := map[string]any{}
	if err := json.Unmarshal(rec.Payload, &data); err != nil {
		return nil, nil, err
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	evt := map[string]any{
		"specversion":     "1.0",
		"id":              id,
		"type":            rec.Name + ".v1",
		"source":          p.source(),
		"subject":         rec.Aggregate,
		"time":            rec.OccurredAt,
		"datacontenttype": "application/json",
		"data":            data,
	}
	if trace, ok := rec.Headers["traceparent"]; ok {
		evt["traceparent"] = trace
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": "application/cloudevents+json",
	}
	for k, v := range rec.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

func (p Publisher) topicFor(name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	return p.TopicPrefix + base + ".events.v1"
}

func (p Publisher) source() string {
	if p.Source != "" {
		return p.Source
	}
	return "app://neighborhub"
}

// Worker drains the Mongo outbox through a Publisher, retrying failures on the
// Backoff schedule.
type Worker struct {
	Store     *Store
	Publisher Publisher
	Interval  time.Duration
	ID        string
	Backoff   []time.Duration
	// BatchSize caps the records published per tick.
	BatchSize int
	Logger    *slog.Logger
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Publisher.Producer == nil {
		return ErrWorkerNotConfigured
	}
	id := w.workerID()
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for i := 0; i < w.batchSize(); i++ {
				done, err := w.processOnce(ctx, id)
				if err != nil {
					if w.Logger != nil && ctx.Err() == nil {
						w.Logger.Warn("outbox poll failed", "error", err)
					}
					break
				}
				if done {
					break
				}
			}
		}
	}
}

// processOnce publishes one record. done is true when nothing was due.
func (w *Worker) processOnce(ctx context.Context, workerID string) (bool, error) {
	doc, err := w.Store.Claim(ctx, workerID)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return true, nil
	}
	if err := w.Publisher.PublishRecord(ctx, doc.Record()); err != nil {
		if w.Logger != nil {
			w.Logger.Warn("outbox publish failed", "event", doc.Name, "id", doc.ID, "attempts", doc.Attempts+1, "error", err)
		}
		return false, w.Store.MarkFailed(ctx, doc.ID, w.nextRetry(doc.Attempts), err.Error())
	}
	return false, w.Store.MarkSent(ctx, doc.ID)
}

func (w *Worker) workerID() string {
	if w.ID != "" {
		return w.ID
	}
	return uuid.NewString()
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return 50
	}
	return w.BatchSize
}

func (w *Worker) nextRetry(attempts int) time.Time {
	return time.Now().Add(backoffFor(w.Backoff, attempts))
}

func backoffFor(schedule []time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts < len(schedule) {
		return schedule[attempts]
	}
	if len(schedule) > 0 {
		return schedule[len(schedule)-1]
	}
	return 5 * time.Second
}

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")
