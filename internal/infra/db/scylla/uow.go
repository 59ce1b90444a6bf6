package scylla

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gocql/gocql"

	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
	domainuser "neighborhub/internal/domain/user"
)

// Factory hands out units over Scylla repositories. Scylla has no multi-row
// transactions, so Commit and Rollback do nothing and every write lands
// immediately. Users live in another store and are passed in.
type Factory struct {
	ConversationsRepo domainchat.ConversationRepository
	MessagesRepo      domainchat.MessageRepository
	UsersRepo         domainuser.Repository
}

var ErrFactoryMisconfigured = errors.New("scylla: unit of work factory misconfigured")

func NewFactory(session *gocql.Session, users domainuser.Repository, logger *slog.Logger) Factory {
	return Factory{
		ConversationsRepo: NewConversationRepository(session, logger),
		MessagesRepo:      NewMessageRepository(session),
		UsersRepo:         users,
	}
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.ConversationsRepo == nil || f.MessagesRepo == nil || f.UsersRepo == nil {
		return nil, ErrFactoryMisconfigured
	}
	return &Unit{conversations: f.ConversationsRepo, messages: f.MessagesRepo, users: f.UsersRepo}, nil
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
