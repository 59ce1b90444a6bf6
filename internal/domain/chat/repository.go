package chat

import "context"

// ConversationRepository persists conversations. Lookups by participant are
// set-containment matches.
type ConversationRepository interface {
	// FindOrCreate returns the conversation sharing candidate's pair key, inserting
	// candidate when none exists. The boolean reports whether candidate was inserted.
	FindOrCreate(ctx context.Context, candidate *Conversation) (*Conversation, bool, error)
	ByID(ctx context.Context, id ConversationID) (*Conversation, error)
	// ListByParticipant returns userID's conversations, most recently updated first.
	ListByParticipant(ctx context.Context, userID string) ([]*Conversation, error)
	ListAll(ctx context.Context) ([]*Conversation, error)
	// Touch stores the preview text and activity timestamp.
	Touch(ctx context.Context, conv *Conversation) error
}

// MessageRepository is the append-only message log.
type MessageRepository interface {
	Append(ctx context.Context, msg *Message) error
	// ListByConversation returns the full history in ascending (CreatedAt, ID) order.
	ListByConversation(ctx context.Context, id ConversationID) ([]*Message, error)
	// MarkRead flips every unread message addressed to receiver and returns how many changed.
	MarkRead(ctx context.Context, id ConversationID, receiver string) (int, error)
	// UnreadCounts groups unread messages addressed to receiver by conversation in one lookup.
	UnreadCounts(ctx context.Context, receiver string, ids []ConversationID) (map[ConversationID]int, error)
}
