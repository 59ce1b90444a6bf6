package chat

import (
	"context"
	"fmt"

	"neighborhub/internal/app/dto"
	"neighborhub/internal/app/handlers/support"
	"neighborhub/internal/app/middleware"
	"neighborhub/internal/app/queries"
	"neighborhub/internal/app/uow"
	domainuser "neighborhub/internal/domain/user"
)

const listAllConversationsKey = "chat.admin.list_all"

// ListAllConversationsQuery is the moderation view over every conversation.
type ListAllConversationsQuery struct {
	ActorID string
	Roles   []domainuser.Role
}

func (q ListAllConversationsQuery) Key() string { return listAllConversationsKey }

func (q ListAllConversationsQuery) RequiredRole() domainuser.Role { return domainuser.RoleAdmin }

func (q ListAllConversationsQuery) ActorRoles() []domainuser.Role { return q.Roles }

type ListAllConversationsHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ListAllConversationsHandler) Handle(ctx context.Context, q ListAllConversationsQuery) ([]dto.Conversation, error) {
	if !hasRole(q.Roles, domainuser.RoleAdmin) {
		return nil, middleware.ErrForbidden
	}
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	convs, err := unit.Conversations().ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all conversations: %w", err)
	}
	if len(convs) == 0 {
		return []dto.Conversation{}, nil
	}
	users, err := participantDirectory(ctx, unit, convs...)
	if err != nil {
		return nil, err
	}
	return mapConversations(convs, users, nil), nil
}

var _ queries.Handler[ListAllConversationsQuery, []dto.Conversation] = (*ListAllConversationsHandler)(nil)
var _ middleware.RoleGated = ListAllConversationsQuery{}
