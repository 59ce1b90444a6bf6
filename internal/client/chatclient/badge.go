package chatclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"neighborhub/internal/app/dto"
)

const DefaultBadgeInterval = 30 * time.Second

// ConversationLister is the part of Client the badge polls.
type ConversationLister interface {
	ListConversations(ctx context.Context) ([]dto.Conversation, error)
}

// UnreadBadge sums unread counts across the caller's conversations. A failed
// poll keeps the last known total.
type UnreadBadge struct {
	api      ConversationLister
	interval time.Duration
	logger   *slog.Logger
	onChange func(total int)

	mu    sync.Mutex
	total int
}

func NewUnreadBadge(api ConversationLister, interval time.Duration, logger *slog.Logger, onChange func(int)) *UnreadBadge {
	if interval <= 0 {
		interval = DefaultBadgeInterval
	}
	return &UnreadBadge{api: api, interval: interval, logger: logger, onChange: onChange}
}

func (b *UnreadBadge) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Refresh polls once; call it right after login.
func (b *UnreadBadge) Refresh(ctx context.Context) (int, error) {
	convs, err := b.api.ListConversations(ctx)
	if err != nil {
		return b.Total(), err
	}
	total := 0
	for _, c := range convs {
		total += c.Unread
	}
	b.mu.Lock()
	changed := total != b.total
	b.total = total
	b.mu.Unlock()
	if changed && b.onChange != nil {
		b.onChange(total)
	}
	return total, nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (b *UnreadBadge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		if _, err := b.Refresh(ctx); err != nil && ctx.Err() == nil && b.logger != nil {
			b.logger.Warn("unread badge refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
