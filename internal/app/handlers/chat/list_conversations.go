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
)

const listConversationsKey = "chat.list"

// ListConversationsQuery returns the viewer's conversations with unread counts.
type ListConversationsQuery struct {
	ViewerID string
}

func (q ListConversationsQuery) Key() string { return listConversationsKey }

type ListConversationsHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) ([]dto.Conversation, error) {
	viewer := strings.TrimSpace(q.ViewerID)
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	convs, err := unit.Conversations().ListByParticipant(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(convs) == 0 {
		return []dto.Conversation{}, nil
	}
	ids := make([]domainchat.ConversationID, 0, len(convs))
	for _, conv := range convs {
		ids = append(ids, conv.ID)
	}
	unread, err := unit.Messages().UnreadCounts(ctx, viewer, ids)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	users, err := participantDirectory(ctx, unit, convs...)
	if err != nil {
		return nil, err
	}
	return mapConversations(convs, users, unread), nil
}

var _ queries.Handler[ListConversationsQuery, []dto.Conversation] = (*ListConversationsHandler)(nil)
