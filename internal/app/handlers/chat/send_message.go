package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/dto"
	"neighborhub/internal/app/middleware"
	"neighborhub/internal/app/outbox"
	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
)

const sendMessageKey = "chat.send"

type SendMessageCommand struct {
	ConversationID  string
	SenderID        string
	Text            string
	Media           string
	IdempotencyKeyV string
	Now             time.Time
}

func (c SendMessageCommand) Key() string { return sendMessageKey }

// IdempotencyKey is scoped to the sender and the conversation, so a client key
// reused elsewhere never replays another conversation's message.
func (c SendMessageCommand) IdempotencyKey() string {
	key := strings.TrimSpace(c.IdempotencyKeyV)
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s:%s", sendMessageKey, strings.TrimSpace(c.SenderID), strings.TrimSpace(c.ConversationID), key)
}

func (c SendMessageCommand) ResultPrototype() any { return &dto.SendMessageResult{} }

func (c SendMessageCommand) Validate() error {
	if strings.TrimSpace(c.ConversationID) == "" {
		return domainchat.ErrConversationIDMissing
	}
	_, err := domainchat.NewContent(c.Text, c.Media)
	return err
}

// SendMessageHandler appends a message and bumps the conversation preview.
// When Transactional is false the preview update runs best effort: a failure is
// logged and the appended message is still returned.
type SendMessageHandler struct {
	UoWFactory    uow.UoWFactory
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	IDGenerator   func() string
	Transactional bool
	Logger        *slog.Logger
}

func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (*dto.SendMessageResult, error) {
	content, err := domainchat.NewContent(cmd.Text, cmd.Media)
	if err != nil {
		return nil, err
	}
	unit, ctx, finish, err := uow.Begin(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	result, err := h.handle(ctx, unit, cmd, content)
	if finish != nil {
		err = finish(err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *SendMessageHandler) handle(ctx context.Context, unit uow.UnitOfWork, cmd SendMessageCommand, content domainchat.Content) (*dto.SendMessageResult, error) {
	conv, err := loadConversation(ctx, unit, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	msg, err := conv.Post(domainchat.MessageID(h.newID()), strings.TrimSpace(cmd.SenderID), content, cmd.Now)
	if err != nil {
		return nil, err
	}
	if err := unit.Messages().Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if err := unit.Conversations().Touch(ctx, conv); err != nil {
		if h.Transactional {
			return nil, fmt.Errorf("update conversation preview: %w", err)
		}
		if h.Logger != nil {
			h.Logger.Warn("conversation preview update failed", "conversation_id", conv.ID, "message_id", msg.ID, "error", err)
		}
	}
	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, conv.Drain()); err != nil {
		return nil, err
	}
	users, err := participantDirectory(ctx, unit, conv)
	if err != nil {
		return nil, err
	}

	if h.Logger != nil {
		h.Logger.Info("message sent", "conversation_id", conv.ID, "message_id", msg.ID, "sender", msg.Sender, "has_media", content.HasMedia())
	}
	return &dto.SendMessageResult{
		Message: dto.MapMessage(msg),
		Chat:    dto.MapConversation(conv, users, 0),
	}, nil
}

func (h *SendMessageHandler) newID() string {
	if h.IDGenerator != nil {
		return h.IDGenerator()
	}
	return NewObjectID()
}

var _ commands.Handler[SendMessageCommand, *dto.SendMessageResult] = (*SendMessageHandler)(nil)
var _ middleware.IdempotentCommand = SendMessageCommand{}
