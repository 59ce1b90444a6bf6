package chat

import (
	"errors"
	"strings"
	"time"

	"neighborhub/internal/domain/shared/events"
)

var (
	ErrParticipantRequired   = errors.New("chat: userId is required")
	ErrSelfConversation      = errors.New("chat: cannot start a conversation with yourself")
	ErrScopeConflict         = errors.New("chat: itemId and serviceId are mutually exclusive")
	ErrEmptyMessage          = errors.New("chat: message needs text or media")
	ErrNoCounterpart         = errors.New("chat: no other participant in conversation")
	ErrMediaRequired         = errors.New("chat: no file uploaded")
	ErrMediaTooLarge         = errors.New("chat: file too large")
	ErrConversationNotFound  = errors.New("chat: conversation not found")
	ErrNotParticipant        = errors.New("chat: not a conversation participant")
	ErrConversationIDMissing = errors.New("chat: conversation id is required")
)

type ConversationID string

type Conversation struct {
	ID           ConversationID
	Participants []string
	Scope        Scope
	LastMessage  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	events.Recorder
}

type StartParams struct {
	ID        ConversationID
	Requester string
	Other     string
	Scope     Scope
	Now       time.Time
}

// Start builds a new conversation between two distinct users.
func Start(params StartParams) (*Conversation, error) {
	requester := strings.TrimSpace(params.Requester)
	other := strings.TrimSpace(params.Other)
	if other == "" || requester == "" {
		return nil, ErrParticipantRequired
	}
	if requester == other {
		return nil, ErrSelfConversation
	}
	if params.Scope.ItemID != "" && params.Scope.ServiceID != "" {
		return nil, ErrScopeConflict
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	conv := &Conversation{
		ID:           params.ID,
		Participants: NormalizeParticipants([]string{requester, other}),
		Scope:        params.Scope,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	conv.Record(ConversationStarted{
		ConversationID: conv.ID,
		Participants:   append([]string(nil), conv.Participants...),
		ItemID:         conv.Scope.ItemID,
		ServiceID:      conv.Scope.ServiceID,
		At:             now,
	})
	return conv, nil
}

// Key returns the canonical pair+scope identity.
func (c *Conversation) Key() string {
	return PairKey(c.Participants, c.Scope)
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the participant that is not userID.
func (c *Conversation) Counterpart(userID string) (string, error) {
	for _, p := range c.Participants {
		if p != userID {
			return p, nil
		}
	}
	return "", ErrNoCounterpart
}

// Post appends a message from sender and bumps the preview and activity timestamp.
func (c *Conversation) Post(id MessageID, sender string, content Content, at time.Time) (*Message, error) {
	if !c.HasParticipant(sender) {
		return nil, ErrNotParticipant
	}
	receiver, err := c.Counterpart(sender)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	msg := &Message{
		ID:             id,
		ConversationID: c.ID,
		Sender:         sender,
		Receiver:       receiver,
		Content:        content,
		CreatedAt:      at,
	}
	c.LastMessage = content.Preview()
	c.UpdatedAt = at
	c.Record(MessageSent{
		ConversationID: c.ID,
		MessageID:      id,
		Sender:         sender,
		Receiver:       receiver,
		HasMedia:       content.HasMedia(),
		At:             at,
	})
	return msg, nil
}
