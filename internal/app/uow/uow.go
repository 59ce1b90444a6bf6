package uow

import (
	"context"
	"errors"

	domainchat "neighborhub/internal/domain/chat"
	domainuser "neighborhub/internal/domain/user"
)

// ErrConflict marks a write that lost a race inside a transaction. The whole
// unit may be retried from the start.
var ErrConflict = errors.New("uow: write conflict")

// UnitOfWork groups the chat repositories behind one commit boundary.
type UnitOfWork interface {
	Conversations() domainchat.ConversationRepository
	Messages() domainchat.MessageRepository
	Users() domainuser.Repository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

type TxOptions struct {
	ReadOnly bool
}
