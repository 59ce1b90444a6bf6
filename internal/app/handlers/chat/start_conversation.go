package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/dto"
	"neighborhub/internal/app/outbox"
	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
)

const (
	startConversationKey = "chat.start"
	maxStartAttempts     = 3
)

// StartConversationCommand finds or creates the conversation between the
// requester and another user, optionally scoped to one item or service.
type StartConversationCommand struct {
	RequesterID string
	OtherID     string
	ItemID      string
	ServiceID   string
	Now         time.Time
}

func (c StartConversationCommand) Key() string { return startConversationKey }

func (c StartConversationCommand) Validate() error {
	other := strings.TrimSpace(c.OtherID)
	if other == "" {
		return domainchat.ErrParticipantRequired
	}
	if other == strings.TrimSpace(c.RequesterID) {
		return domainchat.ErrSelfConversation
	}
	_, err := domainchat.NewScope(c.ItemID, c.ServiceID)
	return err
}

type StartConversationHandler struct {
	UoWFactory  uow.UoWFactory
	Outbox      outbox.Outbox
	Encoder     outbox.EventEncoder
	IDGenerator func() string
	Logger      *slog.Logger
}

func (h *StartConversationHandler) Handle(ctx context.Context, cmd StartConversationCommand) (*dto.StartConversationResult, error) {
	scope, err := domainchat.NewScope(cmd.ItemID, cmd.ServiceID)
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		candidate, err := domainchat.Start(domainchat.StartParams{
			ID:        domainchat.ConversationID(h.newID()),
			Requester: cmd.RequesterID,
			Other:     cmd.OtherID,
			Scope:     scope,
			Now:       cmd.Now,
		})
		if err != nil {
			return nil, err
		}

		unit, execCtx, finish, err := uow.Begin(ctx, h.UoWFactory, uow.TxOptions{})
		if err != nil {
			return nil, err
		}
		result, err := h.handle(execCtx, unit, candidate, cmd.RequesterID, cmd.OtherID)
		if finish == nil {
			// The unit belongs to the caller, which owns any retry.
			return result, err
		}
		err = finish(err)
		if errors.Is(err, uow.ErrConflict) && attempt < maxStartAttempts {
			if h.Logger != nil {
				h.Logger.Warn("conversation start conflicted, retrying", "attempt", attempt)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (h *StartConversationHandler) handle(ctx context.Context, unit uow.UnitOfWork, candidate *domainchat.Conversation, requester, other string) (*dto.StartConversationResult, error) {
	conv, created, err := unit.Conversations().FindOrCreate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("find or create conversation: %w", err)
	}
	requester, other = strings.TrimSpace(requester), strings.TrimSpace(other)
	if !conv.HasParticipant(requester) || !conv.HasParticipant(other) || len(conv.Participants) != 2 {
		return nil, fmt.Errorf("find or create conversation: key %q resolved to conversation %s with other participants", candidate.Key(), conv.ID)
	}
	unread := 0
	if created {
		if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, candidate.Drain()); err != nil {
			return nil, err
		}
	} else {
		counts, err := unit.Messages().UnreadCounts(ctx, requester, []domainchat.ConversationID{conv.ID})
		if err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
		unread = counts[conv.ID]
	}
	users, err := participantDirectory(ctx, unit, conv)
	if err != nil {
		return nil, err
	}

	if h.Logger != nil {
		h.Logger.Info("conversation started", "conversation_id", conv.ID, "created", created, "item_id", conv.Scope.ItemID, "service_id", conv.Scope.ServiceID)
	}
	return &dto.StartConversationResult{
		ChatID:  string(conv.ID),
		Chat:    dto.MapConversation(conv, users, unread),
		Created: created,
	}, nil
}

func (h *StartConversationHandler) newID() string {
	if h.IDGenerator != nil {
		return h.IDGenerator()
	}
	return NewObjectID()
}

var _ commands.Handler[StartConversationCommand, *dto.StartConversationResult] = (*StartConversationHandler)(nil)
