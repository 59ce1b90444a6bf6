package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/dto"
	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
)

const markReadKey = "chat.mark_read"

const markedAsRead = "Marked as read"

type MarkReadCommand struct {
	ConversationID string
	ViewerID       string
}

func (c MarkReadCommand) Key() string { return markReadKey }

func (c MarkReadCommand) Validate() error {
	if strings.TrimSpace(c.ConversationID) == "" {
		return domainchat.ErrConversationIDMissing
	}
	return nil
}

// MarkReadHandler flips every unread message addressed to the viewer. Repeating
// the call is harmless and reports zero updates.
type MarkReadHandler struct {
	UoWFactory uow.UoWFactory
	Logger     *slog.Logger
}

func (h *MarkReadHandler) Handle(ctx context.Context, cmd MarkReadCommand) (*dto.MarkReadResult, error) {
	unit, ctx, finish, err := uow.Begin(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	updated, err := h.markRead(ctx, unit, cmd)
	if finish != nil {
		err = finish(err)
	}
	if err != nil {
		return nil, err
	}
	if h.Logger != nil && updated > 0 {
		h.Logger.Debug("messages marked read", "conversation_id", cmd.ConversationID, "viewer", cmd.ViewerID, "updated", updated)
	}
	return &dto.MarkReadResult{Message: markedAsRead, Updated: updated}, nil
}

func (h *MarkReadHandler) markRead(ctx context.Context, unit uow.UnitOfWork, cmd MarkReadCommand) (int, error) {
	conv, err := loadConversation(ctx, unit, cmd.ConversationID)
	if err != nil {
		return 0, err
	}
	viewer := strings.TrimSpace(cmd.ViewerID)
	if !conv.HasParticipant(viewer) {
		return 0, domainchat.ErrNotParticipant
	}
	updated, err := unit.Messages().MarkRead(ctx, conv.ID, viewer)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return updated, nil
}

var _ commands.Handler[MarkReadCommand, *dto.MarkReadResult] = (*MarkReadHandler)(nil)
