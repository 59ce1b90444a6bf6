package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gocql/gocql"

	domainchat "neighborhub/internal/domain/chat"
)

const conversationColumns = `id, pair_key, participants, item_id, service_id, last_message, created_at, updated_at`

var errSessionMissing = errors.New("scylla session not initialized")

// NewID returns a time-based UUID; conversation and message ids must be UUIDs here.
func NewID() string {
	return gocql.TimeUUID().String()
}

type ConversationRepository struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewConversationRepository(session *gocql.Session, logger *slog.Logger) *ConversationRepository {
	return &ConversationRepository{session: session, logger: logger}
}

// FindOrCreate claims the pair key with a lightweight transaction. The candidate
// row is written first so a winner's conversation is always readable once its
// key is visible; a losing candidate row is deleted again.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, candidate *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	if r.session == nil {
		return nil, false, errSessionMissing
	}
	row, err := newConversationRow(candidate)
	if err != nil {
		return nil, false, err
	}
	if existing, err := r.byKey(ctx, row.PairKey); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, domainchat.ErrConversationNotFound) {
		return nil, false, err
	}

	if err := r.session.
		Query(`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, row.values()...).
		WithContext(ctx).
		Exec(); err != nil {
		return nil, false, fmt.Errorf("scylla: insert conversation: %w", err)
	}

	existing := map[string]interface{}{}
	applied, err := r.session.
		Query(`INSERT INTO conversations_by_key (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`, row.PairKey, row.ID).
		WithContext(ctx).
		MapScanCAS(existing)
	if err != nil {
		return nil, false, fmt.Errorf("scylla: claim pair key: %w", err)
	}
	if applied {
		return row.toAggregate(), true, nil
	}

	if err := r.session.Query(`DELETE FROM conversations WHERE id = ?`, row.ID).WithContext(ctx).Exec(); err != nil && r.logger != nil {
		r.logger.Warn("failed to drop losing conversation row", "error", err, "conversation_id", row.ID.String())
	}
	winner, ok := existing["conversation_id"].(gocql.UUID)
	if !ok {
		return nil, false, fmt.Errorf("scylla: pair key %q claimed without conversation id", row.PairKey)
	}
	conv, err := r.byUUID(ctx, winner)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	if r.session == nil {
		return nil, errSessionMissing
	}
	uuid, err := gocql.ParseUUID(string(id))
	if err != nil {
		return nil, domainchat.ErrConversationNotFound
	}
	return r.byUUID(ctx, uuid)
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	if r.session == nil {
		return nil, errSessionMissing
	}
	iter := r.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE participants CONTAINS ?`, userID).
		WithContext(ctx).
		Iter()
	return collectConversations(iter)
}

func (r *ConversationRepository) ListAll(ctx context.Context) ([]*domainchat.Conversation, error) {
	if r.session == nil {
		return nil, errSessionMissing
	}
	iter := r.session.Query(`SELECT ` + conversationColumns + ` FROM conversations`).WithContext(ctx).Iter()
	return collectConversations(iter)
}

func (r *ConversationRepository) Touch(ctx context.Context, conv *domainchat.Conversation) error {
	if r.session == nil {
		return errSessionMissing
	}
	uuid, err := gocql.ParseUUID(string(conv.ID))
	if err != nil {
		return domainchat.ErrConversationNotFound
	}
	applied, err := r.session.
		Query(`UPDATE conversations SET last_message = ?, updated_at = ? WHERE id = ? IF EXISTS`, conv.LastMessage, conv.UpdatedAt.UTC(), uuid).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("scylla: touch conversation: %w", err)
	}
	if !applied {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) byKey(ctx context.Context, key string) (*domainchat.Conversation, error) {
	var id gocql.UUID
	err := r.session.
		Query(`SELECT conversation_id FROM conversations_by_key WHERE pair_key = ?`, key).
		WithContext(ctx).
		Consistency(gocql.Consistency(gocql.Serial)).
		Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, domainchat.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.byUUID(ctx, id)
}

func (r *ConversationRepository) byUUID(ctx context.Context, id gocql.UUID) (*domainchat.Conversation, error) {
	var row conversationRow
	err := r.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, id).
		WithContext(ctx).
		Scan(row.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, domainchat.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toAggregate(), nil
}

func collectConversations(iter *gocql.Iter) ([]*domainchat.Conversation, error) {
	var rows []conversationRow
	var row conversationRow
	for iter.Scan(row.dest()...) {
		rows = append(rows, row)
		row = conversationRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sortConversationRows(rows)
	out := make([]*domainchat.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toAggregate())
	}
	return out, nil
}

// sortConversationRows orders by most recent activity; Scylla cannot sort across partitions.
func sortConversationRows(rows []conversationRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
		}
		return rows[i].ID.String() > rows[j].ID.String()
	})
}

type conversationRow struct {
	ID           gocql.UUID
	PairKey      string
	Participants []string
	ItemID       string
	ServiceID    string
	LastMessage  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func newConversationRow(c *domainchat.Conversation) (conversationRow, error) {
	id, err := gocql.ParseUUID(string(c.ID))
	if err != nil {
		return conversationRow{}, fmt.Errorf("scylla: conversation id %q is not a uuid: %w", c.ID, err)
	}
	return conversationRow{
		ID:           id,
		PairKey:      c.Key(),
		Participants: append([]string(nil), c.Participants...),
		ItemID:       c.Scope.ItemID,
		ServiceID:    c.Scope.ServiceID,
		LastMessage:  c.LastMessage,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}, nil
}

func (r *conversationRow) dest() []interface{} {
	return []interface{}{&r.ID, &r.PairKey, &r.Participants, &r.ItemID, &r.ServiceID, &r.LastMessage, &r.CreatedAt, &r.UpdatedAt}
}

func (r conversationRow) values() []interface{} {
	return []interface{}{r.ID, r.PairKey, r.Participants, r.ItemID, r.ServiceID, r.LastMessage, r.CreatedAt, r.UpdatedAt}
}

func (r conversationRow) toAggregate() *domainchat.Conversation {
	return &domainchat.Conversation{
		ID:           domainchat.ConversationID(r.ID.String()),
		Participants: domainchat.NormalizeParticipants(r.Participants),
		Scope:        domainchat.Scope{ItemID: r.ItemID, ServiceID: r.ServiceID},
		LastMessage:  r.LastMessage,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type MessageRepository struct {
	session *gocql.Session
}

func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

func (r *MessageRepository) Append(ctx context.Context, msg *domainchat.Message) error {
	if r.session == nil {
		return errSessionMissing
	}
	row, err := newMessageRow(msg)
	if err != nil {
		return err
	}
	if err := r.session.
		Query(`INSERT INTO messages (conversation_id, created_at, message_id, sender_id, receiver_id, text, media, read) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ConversationID, row.CreatedAt, row.ID, row.Sender, row.Receiver, row.Text, row.Media, row.Read).
		WithContext(ctx).
		Exec(); err != nil {
		return fmt.Errorf("scylla: insert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, id domainchat.ConversationID) ([]*domainchat.Message, error) {
	if r.session == nil {
		return nil, errSessionMissing
	}
	uuid, err := gocql.ParseUUID(string(id))
	if err != nil {
		return nil, domainchat.ErrConversationNotFound
	}
	iter := r.session.
		Query(`SELECT conversation_id, created_at, message_id, sender_id, receiver_id, text, media, read FROM messages WHERE conversation_id = ?`, uuid).
		WithContext(ctx).
		Iter()
	var out []*domainchat.Message
	var row messageRow
	for iter.Scan(row.dest()...) {
		out = append(out, row.toDomain())
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead updates each unread row addressed to receiver. Read flags only move
// to true, so a retried partial run converges.
func (r *MessageRepository) MarkRead(ctx context.Context, id domainchat.ConversationID, receiver string) (int, error) {
	if r.session == nil {
		return 0, errSessionMissing
	}
	uuid, err := gocql.ParseUUID(string(id))
	if err != nil {
		return 0, domainchat.ErrConversationNotFound
	}
	keys, err := r.unreadKeys(ctx, uuid, receiver)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	batch := r.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, k := range keys {
		batch.Query(`UPDATE messages SET read = true WHERE conversation_id = ? AND created_at = ? AND message_id = ?`, uuid, k.createdAt, k.id)
	}
	if err := r.session.ExecuteBatch(batch); err != nil {
		return 0, fmt.Errorf("scylla: mark read: %w", err)
	}
	return len(keys), nil
}

// UnreadCounts runs one partition-local query per conversation.
// UnreadCounts reads every requested partition in one IN query and counts in Go.
func (r *MessageRepository) UnreadCounts(ctx context.Context, receiver string, ids []domainchat.ConversationID) (map[domainchat.ConversationID]int, error) {
	if r.session == nil {
		return nil, errSessionMissing
	}
	counts := make(map[domainchat.ConversationID]int, len(ids))
	partitions := make([]gocql.UUID, 0, len(ids))
	for _, id := range ids {
		uuid, err := gocql.ParseUUID(string(id))
		if err != nil {
			continue
		}
		partitions = append(partitions, uuid)
	}
	if len(partitions) == 0 {
		return counts, nil
	}
	iter := r.session.
		Query(`SELECT conversation_id FROM messages WHERE conversation_id IN ? AND receiver_id = ? AND read = false ALLOW FILTERING`, partitions, receiver).
		WithContext(ctx).
		Iter()
	var conv gocql.UUID
	for iter.Scan(&conv) {
		counts[domainchat.ConversationID(conv.String())]++
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return counts, nil
}

type messageKey struct {
	createdAt time.Time
	id        gocql.UUID
}

func (r *MessageRepository) unreadKeys(ctx context.Context, conversationID gocql.UUID, receiver string) ([]messageKey, error) {
	iter := r.session.
		Query(`SELECT created_at, message_id FROM messages WHERE conversation_id = ? AND receiver_id = ? AND read = false ALLOW FILTERING`, conversationID, receiver).
		WithContext(ctx).
		Iter()
	var keys []messageKey
	var k messageKey
	for iter.Scan(&k.createdAt, &k.id) {
		keys = append(keys, k)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return keys, nil
}

type messageRow struct {
	ConversationID gocql.UUID
	CreatedAt      time.Time
	ID             gocql.UUID
	Sender         string
	Receiver       string
	Text           string
	Media          string
	Read           bool
}

func newMessageRow(m *domainchat.Message) (messageRow, error) {
	convID, err := gocql.ParseUUID(string(m.ConversationID))
	if err != nil {
		return messageRow{}, fmt.Errorf("scylla: conversation id %q is not a uuid: %w", m.ConversationID, err)
	}
	id, err := gocql.ParseUUID(string(m.ID))
	if err != nil {
		return messageRow{}, fmt.Errorf("scylla: message id %q is not a uuid: %w", m.ID, err)
	}
	return messageRow{
		ConversationID: convID,
		CreatedAt:      m.CreatedAt.UTC(),
		ID:             id,
		Sender:         m.Sender,
		Receiver:       m.Receiver,
		Text:           m.Content.Text,
		Media:          m.Content.Media,
		Read:           m.Read,
	}, nil
}

func (r *messageRow) dest() []interface{} {
	return []interface{}{&r.ConversationID, &r.CreatedAt, &r.ID, &r.Sender, &r.Receiver, &r.Text, &r.Media, &r.Read}
}

func (r messageRow) toDomain() *domainchat.Message {
	return &domainchat.Message{
		ID:             domainchat.MessageID(r.ID.String()),
		ConversationID: domainchat.ConversationID(r.ConversationID.String()),
		Sender:         r.Sender,
		Receiver:       r.Receiver,
		Content:        domainchat.Content{Text: r.Text, Media: r.Media},
		Read:           r.Read,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

var (
	_ domainchat.ConversationRepository = (*ConversationRepository)(nil)
	_ domainchat.MessageRepository      = (*MessageRepository)(nil)
)
