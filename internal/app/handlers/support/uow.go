package support

import (
	"context"

	"neighborhub/internal/app/uow"
)

// BeginReadOnlyUnit reuses the unit bound to ctx or opens a read-only one.
// cleanup is nil when the unit was inherited.
func BeginReadOnlyUnit(ctx context.Context, factory uow.UoWFactory) (uow.UnitOfWork, context.Context, func(), error) {
	unit, execCtx, finish, err := uow.Begin(ctx, factory, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, ctx, nil, err
	}
	if finish == nil {
		return unit, execCtx, nil, nil
	}
	return unit, execCtx, func() { _ = finish(nil) }, nil
}
