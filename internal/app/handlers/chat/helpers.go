package chat

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"neighborhub/internal/app/dto"
	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
	domainuser "neighborhub/internal/domain/user"
)

// NewObjectID issues 24-hex ids. The embedded counter keeps ids created by one
// process increasing, which breaks CreatedAt ties in insertion order.
func NewObjectID() string {
	return primitive.NewObjectID().Hex()
}

func loadConversation(ctx context.Context, unit uow.UnitOfWork, id string) (*domainchat.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domainchat.ErrConversationIDMissing
	}
	conv, err := unit.Conversations().ByID(ctx, domainchat.ConversationID(id))
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// participantDirectory resolves every member of convs with one batched lookup.
func participantDirectory(ctx context.Context, unit uow.UnitOfWork, convs ...*domainchat.Conversation) (map[domainuser.ID]*domainuser.User, error) {
	seen := make(map[domainuser.ID]struct{})
	ids := make([]domainuser.ID, 0, len(convs)*2)
	for _, conv := range convs {
		if conv == nil {
			continue
		}
		for _, p := range conv.Participants {
			id := domainuser.ID(p)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[domainuser.ID]*domainuser.User{}, nil
	}
	users, err := unit.Users().ByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve participants: %w", err)
	}
	return users, nil
}

func mapConversations(convs []*domainchat.Conversation, users map[domainuser.ID]*domainuser.User, unread map[domainchat.ConversationID]int) []dto.Conversation {
	out := make([]dto.Conversation, 0, len(convs))
	for _, conv := range convs {
		out = append(out, dto.MapConversation(conv, users, unread[conv.ID]))
	}
	return out
}

func hasRole(roles []domainuser.Role, want domainuser.Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
