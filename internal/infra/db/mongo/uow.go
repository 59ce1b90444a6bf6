package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
	domainuser "neighborhub/internal/domain/user"
)

// Factory wires Mongo sessions into the generic UnitOfWork interface. With
// Transactions off (standalone servers) a unit is a plain handle to the
// repositories and Commit/Rollback do nothing.
type Factory struct {
	DB           *mongo.Database
	Transactions bool

	ConversationsRepo domainchat.ConversationRepository
	MessagesRepo      domainchat.MessageRepository
	UsersRepo         domainuser.Repository
}

var ErrUnitOfWorkNotConfigured = errors.New("mongo: unit of work factory missing database")

// NewFactory builds a factory with repositories over db.
func NewFactory(db *mongo.Database, transactions bool) Factory {
	return Factory{
		DB:                db,
		Transactions:      transactions,
		ConversationsRepo: NewConversationRepository(db),
		MessagesRepo:      NewMessageRepository(db),
		UsersRepo:         NewUserRepository(db),
	}
}

// Begin starts a MongoDB session/transaction when transactions are enabled.
func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.DB == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	unit := &Unit{
		conversations: f.ConversationsRepo,
		messages:      f.MessagesRepo,
		users:         f.UsersRepo,
	}
	if !f.Transactions || opts.ReadOnly {
		return unit, nil
	}
	session, err := f.DB.Client().StartSession()
	if err != nil {
		return nil, err
	}
	txnOpts := options.Transaction().SetReadConcern(f.DB.ReadConcern()).SetWriteConcern(f.DB.WriteConcern())
	if err := session.StartTransaction(txnOpts); err != nil {
		session.EndSession(ctx)
		return nil, err
	}
	unit.session = session
	return unit, nil
}

type Unit struct {
	session mongo.Session

	conversations domainchat.ConversationRepository
	messages      domainchat.MessageRepository
	users         domainuser.Repository
}

func (u *Unit) Conversations() domainchat.ConversationRepository { return u.conversations }

func (u *Unit) Messages() domainchat.MessageRepository { return u.messages }

func (u *Unit) Users() domainuser.Repository { return u.users }

func (u *Unit) Commit(ctx context.Context) error {
	if u.session == nil {
		return nil
	}
	defer u.session.EndSession(ctx)
	return u.session.CommitTransaction(ctx)
}

func (u *Unit) Rollback(ctx context.Context) error {
	if u.session == nil {
		return nil
	}
	defer u.session.EndSession(ctx)
	return u.session.AbortTransaction(ctx)
}

// InjectContext makes the session visible to repositories called with the returned context.
func (u *Unit) InjectContext(ctx context.Context) context.Context {
	if u.session == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, u.session)
}

var _ uow.UoWFactory = Factory{}
