package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	domainanalytics "neighborhub/internal/domain/analytics"
)

const ViewsTopic = "analytics.views.v1"

// Publisher is the subset of Producer the view sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// ViewSink forwards product views to Kafka, keyed by product id.
type ViewSink struct {
	Producer    Publisher
	TopicPrefix string
}

func (s ViewSink) Topic() string {
	return s.TopicPrefix + ViewsTopic
}

func (s ViewSink) StoreView(ctx context.Context, view domainanalytics.ProductView) error {
	if s.Producer == nil {
		return errors.New("kafka: view sink has no producer")
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return s.Producer.Publish(ctx, s.Topic(), view.ProductID, payload, map[string]string{"content-type": "application/json"})
}

// Deduplicator remembers processed event ids.
type Deduplicator interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// ViewIngestHandler persists consumed views. Redelivered views are skipped
// through the inbox; a failed store clears the inbox mark so the retry is not lost.
type ViewIngestHandler struct {
	Inbox  Deduplicator
	Sink   domainanalytics.Sink
	Logger *slog.Logger
}

func (h ViewIngestHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var view domainanalytics.ProductView
	if err := json.Unmarshal(msg.Value, &view); err != nil {
		// A malformed message will never decode; acknowledge it.
		if h.Logger != nil {
			h.Logger.Warn("discarding malformed product view", "offset", msg.Offset, "error", err)
		}
		return nil
	}
	if err := view.Validate(); err != nil || view.ID == "" {
		if h.Logger != nil {
			h.Logger.Warn("discarding invalid product view", "offset", msg.Offset, "view_id", view.ID, "error", err)
		}
		return nil
	}
	if h.Inbox != nil {
		seen, err := h.Inbox.Seen(ctx, view.ID)
		if err != nil {
			return fmt.Errorf("kafka: inbox: %w", err)
		}
		if seen {
			return nil
		}
	}
	if err := h.Sink.StoreView(ctx, view); err != nil {
		if h.Inbox != nil {
			_ = h.Inbox.Forget(ctx, view.ID)
		}
		return fmt.Errorf("kafka: store view: %w", err)
	}
	return nil
}

var _ domainanalytics.Sink = ViewSink{}
var _ MessageHandler = ViewIngestHandler{}
