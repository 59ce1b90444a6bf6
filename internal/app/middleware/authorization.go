package middleware

import (
	"context"
	"errors"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/queries"
	domainuser "neighborhub/internal/domain/user"
)

var ErrForbidden = errors.New("middleware: forbidden")

type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

// RoleGated messages declare the role their actor must hold.
type RoleGated interface {
	RequiredRole() domainuser.Role
	ActorRoles() []domainuser.Role
}

// RoleAuthorizer rejects RoleGated messages whose actor lacks the required role.
type RoleAuthorizer struct{}

func (RoleAuthorizer) Authorize(_ context.Context, message any) error {
	gated, ok := message.(RoleGated)
	if !ok {
		return nil
	}
	required := gated.RequiredRole()
	if required == "" {
		return nil
	}
	for _, role := range gated.ActorRoles() {
		if role == required {
			return nil
		}
	}
	return ErrForbidden
}

func Authorization(a Authorizer) CommandMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := a.Authorize(ctx, cmd); err != nil {
				return nil, err
			}
			return nextFn(ctx, cmd)
		})
	}
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next queries.Bus) queries.Bus {
		nextFn := wrapQuery(next)
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := a.Authorize(ctx, q); err != nil {
				return nil, err
			}
			return nextFn(ctx, q)
		})
	}
}
