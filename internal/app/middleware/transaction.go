package middleware

import (
	"context"
	"errors"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/uow"
)

type TxOptionsProvider func(cmd commands.Command) uow.TxOptions

// maxConflictAttempts bounds how often a unit that lost a write race is replayed.
const maxConflictAttempts = 3

// Transaction binds a unit of work to the command context and commits it when
// the handler succeeds. A unit failing with uow.ErrConflict is rolled back and
// the command replayed in a fresh unit.
func Transaction(factory uow.UoWFactory, optsProvider TxOptionsProvider) CommandMiddleware {
	if factory == nil {
		panic("middleware: uow factory required")
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			opts := uow.TxOptions{}
			if optsProvider != nil {
				opts = optsProvider(cmd)
			}
			for attempt := 1; ; attempt++ {
				res, err := runInUnit(ctx, factory, opts, cmd, nextFn)
				if errors.Is(err, uow.ErrConflict) && attempt < maxConflictAttempts {
					continue
				}
				return res, err
			}
		})
	}
}

func runInUnit(ctx context.Context, factory uow.UoWFactory, opts uow.TxOptions, cmd commands.Command, next commandFunc) (any, error) {
	unit, err := factory.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	execCtx := ctx
	if injector, ok := unit.(interface {
		InjectContext(context.Context) context.Context
	}); ok {
		execCtx = injector.InjectContext(ctx)
	}
	execCtx = uow.ContextWithUnitOfWork(execCtx, unit)
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(execCtx)
		}
	}()

	res, err := next(execCtx, cmd)
	if err != nil {
		return nil, err
	}
	if err := unit.Commit(execCtx); err != nil {
		return nil, err
	}
	committed = true
	return res, nil
}
