package memory

import (
	"context"
	"sort"
	"sync"

	domainchat "neighborhub/internal/domain/chat"
)

// ConversationRepository is an in-memory conversation registry. The pair key
// index makes FindOrCreate atomic under the repository lock.
type ConversationRepository struct {
	mu    sync.RWMutex
	items map[domainchat.ConversationID]*domainchat.Conversation
	byKey map[string]domainchat.ConversationID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		items: make(map[domainchat.ConversationID]*domainchat.Conversation),
		byKey: make(map[string]domainchat.ConversationID),
	}
}

func (r *ConversationRepository) FindOrCreate(ctx context.Context, candidate *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	key := candidate.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[key]; ok {
		return cloneConversation(r.items[id]), false, nil
	}
	r.items[candidate.ID] = cloneConversation(candidate)
	r.byKey[key] = candidate.ID
	return cloneConversation(candidate), true, nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.items[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domainchat.Conversation, 0)
	for _, conv := range r.items {
		if conv.HasParticipant(userID) {
			out = append(out, cloneConversation(conv))
		}
	}
	sortByActivity(out)
	return out, nil
}

func (r *ConversationRepository) ListAll(ctx context.Context) ([]*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domainchat.Conversation, 0, len(r.items))
	for _, conv := range r.items {
		out = append(out, cloneConversation(conv))
	}
	sortByActivity(out)
	return out, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, conv *domainchat.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[conv.ID]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	stored.LastMessage = conv.LastMessage
	stored.UpdatedAt = conv.UpdatedAt
	return nil
}

// MessageRepository keeps per-conversation message logs in insertion order.
type MessageRepository struct {
	mu     sync.RWMutex
	byConv map[domainchat.ConversationID][]*domainchat.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{byConv: make(map[domainchat.ConversationID][]*domainchat.Message)}
}

func (r *MessageRepository) Append(ctx context.Context, msg *domainchat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyMsg := *msg
	r.byConv[msg.ConversationID] = append(r.byConv[msg.ConversationID], &copyMsg)
	return nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, id domainchat.ConversationID) ([]*domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.byConv[id]
	out := make([]*domainchat.Message, 0, len(log))
	for _, msg := range log {
		copyMsg := *msg
		out = append(out, &copyMsg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, id domainchat.ConversationID, receiver string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := 0
	for _, msg := range r.byConv[id] {
		if msg.IsUnreadFor(receiver) && msg.MarkRead() {
			updated++
		}
	}
	return updated, nil
}

func (r *MessageRepository) UnreadCounts(ctx context.Context, receiver string, ids []domainchat.ConversationID) (map[domainchat.ConversationID]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domainchat.ConversationID]int, len(ids))
	for _, id := range ids {
		for _, msg := range r.byConv[id] {
			if msg.IsUnreadFor(receiver) {
				counts[id]++
			}
		}
	}
	return counts, nil
}

func cloneConversation(c *domainchat.Conversation) *domainchat.Conversation {
	if c == nil {
		return nil
	}
	return &domainchat.Conversation{
		ID:           c.ID,
		Participants: append([]string(nil), c.Participants...),
		Scope:        c.Scope,
		LastMessage:  c.LastMessage,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func sortByActivity(convs []*domainchat.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

var _ domainchat.ConversationRepository = (*ConversationRepository)(nil)
var _ domainchat.MessageRepository = (*MessageRepository)(nil)
