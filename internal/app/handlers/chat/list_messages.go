package chat

import (
	"context"
	"fmt"
	"strings"

	"neighborhub/internal/app/dto"
	"neighborhub/internal/app/handlers/support"
	"neighborhub/internal/app/queries"
	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
	domainuser "neighborhub/internal/domain/user"
)

const listMessagesKey = "chat.messages"

type ListMessagesQuery struct {
	ConversationID string
	ViewerID       string
	ViewerRoles    []domainuser.Role
}

func (q ListMessagesQuery) Key() string { return listMessagesKey }

func (q ListMessagesQuery) Validate() error {
	if strings.TrimSpace(q.ConversationID) == "" {
		return domainchat.ErrConversationIDMissing
	}
	return nil
}

// ListMessagesHandler returns the full history in ascending order. Admins may
// read any conversation.
type ListMessagesHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ListMessagesHandler) Handle(ctx context.Context, q ListMessagesQuery) ([]dto.Message, error) {
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	conv, err := loadConversation(ctx, unit, q.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(strings.TrimSpace(q.ViewerID)) && !hasRole(q.ViewerRoles, domainuser.RoleAdmin) {
		return nil, domainchat.ErrNotParticipant
	}
	msgs, err := unit.Messages().ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return dto.MapMessages(msgs), nil
}

var _ queries.Handler[ListMessagesQuery, []dto.Message] = (*ListMessagesHandler)(nil)
