package chat

import (
	"strings"
	"time"
)

// MediaPlaceholder is the conversation preview used when a message carries only media.
const MediaPlaceholder = "📷 Image"

const previewLimit = 500

type MessageID string

// Content is the text/media union of a message. At least one side is non-empty.
type Content struct {
	Text  string
	Media string
}

// NewContent validates the union at the send entry point. Text is kept as sent
// unless it is blank.
func NewContent(text, media string) (Content, error) {
	c := Content{Text: text, Media: strings.TrimSpace(media)}
	if strings.TrimSpace(text) == "" {
		c.Text = ""
	}
	if c.Text == "" && c.Media == "" {
		return Content{}, ErrEmptyMessage
	}
	return c, nil
}

func (c Content) HasMedia() bool { return c.Media != "" }

// Preview is the denormalised summary stored on the conversation.
func (c Content) Preview() string {
	if c.Text == "" {
		if c.Media != "" {
			return MediaPlaceholder
		}
		return ""
	}
	runes := []rune(c.Text)
	if len(runes) <= previewLimit {
		return c.Text
	}
	return string(runes[:previewLimit])
}

type Message struct {
	ID             MessageID
	ConversationID ConversationID
	Sender         string
	Receiver       string
	Content        Content
	Read           bool
	CreatedAt      time.Time
}

// MarkRead flips the read flag. It never reverts and reports whether the flag changed.
func (m *Message) MarkRead() bool {
	if m.Read {
		return false
	}
	m.Read = true
	return true
}

// IsUnreadFor reports whether the message counts towards viewer's unread badge.
func (m *Message) IsUnreadFor(viewer string) bool {
	return !m.Read && m.Receiver == viewer
}
