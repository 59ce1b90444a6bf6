package chat

import "time"

type ConversationStarted struct {
	ConversationID ConversationID `json:"conversation_id"`
	Participants   []string       `json:"participants"`
	ItemID         string         `json:"item_id,omitempty"`
	ServiceID      string         `json:"service_id,omitempty"`
	At             time.Time      `json:"at"`
}

func (e ConversationStarted) EventName() string     { return "chat.conversation_started" }
func (e ConversationStarted) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationStarted) OccurredAt() time.Time { return e.At }

type MessageSent struct {
	ConversationID ConversationID `json:"conversation_id"`
	MessageID      MessageID      `json:"message_id"`
	Sender         string         `json:"sender"`
	Receiver       string         `json:"receiver"`
	HasMedia       bool           `json:"has_media"`
	At             time.Time      `json:"at"`
}

func (e MessageSent) EventName() string     { return "chat.message_sent" }
func (e MessageSent) AggregateID() string   { return string(e.ConversationID) }
func (e MessageSent) OccurredAt() time.Time { return e.At }
