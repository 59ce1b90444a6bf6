package memory

import (
	"context"
	"errors"

	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
	domainuser "neighborhub/internal/domain/user"
)

// Factory hands out units over shared in-memory repositories. Writes are
// applied immediately; Commit and Rollback are no-ops.
type Factory struct {
	ConversationsRepo domainchat.ConversationRepository
	MessagesRepo      domainchat.MessageRepository
	UsersRepo         domainuser.Repository
}

var ErrFactoryMisconfigured = errors.New("memory: unit of work factory misconfigured")

// NewFactory builds a factory over fresh repositories.
func NewFactory(users domainuser.Repository) Factory {
	return Factory{
		ConversationsRepo: NewConversationRepository(),
		MessagesRepo:      NewMessageRepository(),
		UsersRepo:         users,
	}
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.ConversationsRepo == nil || f.MessagesRepo == nil || f.UsersRepo == nil {
		return nil, ErrFactoryMisconfigured
	}
	return &Unit{
		conversations: f.ConversationsRepo,
		messages:      f.MessagesRepo,
		users:         f.UsersRepo,
	}, nil
}

type Unit struct {
	conversations domainchat.ConversationRepository
	messages      domainchat.MessageRepository
	users         domainuser.Repository
}

func (u *Unit) Conversations() domainchat.ConversationRepository { return u.conversations }

func (u *Unit) Messages() domainchat.MessageRepository { return u.messages }

func (u *Unit) Users() domainuser.Repository { return u.users }

func (u *Unit) Commit(ctx context.Context) error { return nil }

func (u *Unit) Rollback(ctx context.Context) error { return nil }

var _ uow.UoWFactory = Factory{}
