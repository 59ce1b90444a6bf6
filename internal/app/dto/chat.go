package dto

import (
	"time"

	domainchat "neighborhub/internal/domain/chat"
	domainuser "neighborhub/internal/domain/user"
)

// Participant is the display identity of a conversation member.
type Participant struct {
	ID             string `json:"_id"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

type Conversation struct {
	ID           string        `json:"_id"`
	Participants []Participant `json:"participants"`
	ItemID       *string       `json:"itemId"`
	ServiceID    *string       `json:"serviceId"`
	LastMessage  string        `json:"lastMessage"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Unread       int           `json:"unread"`
}

type Message struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chatId"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Text      string    `json:"text"`
	Media     string    `json:"media"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

type StartConversationResult struct {
	ChatID string       `json:"chatId"`
	Chat   Conversation `json:"chat"`
	// Created is true when this call inserted the conversation.
	Created bool `json:"-"`
}

type SendMessageResult struct {
	Message Message      `json:"message"`
	Chat    Conversation `json:"chat"`
}

type MarkReadResult struct {
	Message string `json:"message"`
	Updated int    `json:"updated"`
}

type UploadResult struct {
	URL string `json:"url"`
}

// MapConversation renders conv with participants resolved through users.
// Members missing from users keep their id only.
func MapConversation(conv *domainchat.Conversation, users map[domainuser.ID]*domainuser.User, unread int) Conversation {
	if conv == nil {
		return Conversation{}
	}
	participants := make([]Participant, 0, len(conv.Participants))
	for _, id := range conv.Participants {
		p := Participant{ID: id}
		if u, ok := users[domainuser.ID(id)]; ok && u != nil {
			p.Name = u.Name
			p.Email = u.Email
			p.ProfilePicture = u.ProfilePicture
		}
		participants = append(participants, p)
	}
	return Conversation{
		ID:           string(conv.ID),
		Participants: participants,
		ItemID:       optional(conv.Scope.ItemID),
		ServiceID:    optional(conv.Scope.ServiceID),
		LastMessage:  conv.LastMessage,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		Unread:       unread,
	}
}

func MapMessage(msg *domainchat.Message) Message {
	if msg == nil {
		return Message{}
	}
	return Message{
		ID:        string(msg.ID),
		ChatID:    string(msg.ConversationID),
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Text:      msg.Content.Text,
		Media:     msg.Content.Media,
		Read:      msg.Read,
		CreatedAt: msg.CreatedAt,
	}
}

func MapMessages(msgs []*domainchat.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, MapMessage(msg))
	}
	return out
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
