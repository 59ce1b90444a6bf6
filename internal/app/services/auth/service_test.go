package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appauth "neighborhub/internal/app/services/auth"
	domainauth "neighborhub/internal/domain/auth"
	domainuser "neighborhub/internal/domain/user"
	"neighborhub/internal/infra/security"
	"neighborhub/internal/infra/storage/memory"
)

func newService(t *testing.T) *appauth.Service {
	t.Helper()
	issuer, err := security.NewJWTIssuer("test-secret", "")
	require.NoError(t, err)
	return &appauth.Service{
		Users:      memory.NewUserRepository(),
		Sessions:   memory.NewSessionStore(),
		Passwords:  security.BcryptHasher{Cost: bcrypt.MinCost},
		Tokens:     issuer,
		SessionTTL: time.Hour,
	}
}

func TestRegisterLoginResolveLogout(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, appauth.RegisterParams{Email: " Ann@Example.com ", Name: "Ann", Password: "password1", Role: "seller"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", reg.User.Email)
	assert.True(t, reg.User.HasRole(domainuser.RoleSeller))

	resolved, err := svc.ResolveToken(ctx, reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, resolved.User.ID)

	login, err := svc.Login(ctx, appauth.LoginParams{Email: "ann@example.com", Password: "password1"})
	require.NoError(t, err)
	assert.NotEqual(t, reg.Token, login.Token)

	require.NoError(t, svc.Logout(ctx, login.Token))
	_, err = svc.ResolveToken(ctx, login.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)

	// the other session is unaffected
	_, err = svc.ResolveToken(ctx, reg.Token)
	assert.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, appauth.RegisterParams{Email: "a@b.c", Name: "A", Password: "short"})
	assert.ErrorIs(t, err, appauth.ErrPasswordTooShort)

	_, err = svc.Register(ctx, appauth.RegisterParams{Email: "a@b.c", Name: "A", Password: "password1", Role: "admin"})
	assert.ErrorIs(t, err, appauth.ErrRoleNotAllowed)

	_, err = svc.Register(ctx, appauth.RegisterParams{Email: "a@b.c", Name: "A", Password: "password1", Role: "wizard"})
	assert.ErrorIs(t, err, domainuser.ErrInvalidRole)

	_, err = svc.Register(ctx, appauth.RegisterParams{Email: "a@b.c", Name: "A", Password: "password1"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, appauth.RegisterParams{Email: "A@B.C", Name: "B", Password: "password1"})
	assert.ErrorIs(t, err, domainuser.ErrEmailAlreadyUsed)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, appauth.RegisterParams{Email: "a@b.c", Name: "A", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, appauth.LoginParams{Email: "a@b.c", Password: "wrong-pass"})
	assert.ErrorIs(t, err, appauth.ErrInvalidCredentials)
	_, err = svc.Login(ctx, appauth.LoginParams{Email: "nobody@b.c", Password: "password1"})
	assert.ErrorIs(t, err, appauth.ErrInvalidCredentials)
}

func TestResolveRejectsForeignSignature(t *testing.T) {
	svc := newService(t)
	other, err := security.NewJWTIssuer("another-secret", "")
	require.NoError(t, err)
	issued, err := other.Issue("u1", nil, time.Hour, time.Now())
	require.NoError(t, err)

	_, err = svc.ResolveToken(context.Background(), issued.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)
	_, err = svc.ResolveToken(context.Background(), "")
	assert.ErrorIs(t, err, domainauth.ErrTokenRequired)
}

func TestEnsureAdminsPromotesAndCreates(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, appauth.RegisterParams{Email: "mod@example.com", Name: "Mod", Password: "password1"})
	require.NoError(t, err)

	n, err := svc.EnsureAdmins(ctx, appauth.AdminBootstrap{Emails: []string{" MOD@example.com ", "ghost@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mod, err := svc.Users.ByEmail(ctx, "mod@example.com")
	require.NoError(t, err)
	assert.True(t, mod.HasRole(domainuser.RoleAdmin))
	assert.True(t, mod.HasRole(domainuser.RoleBuyer))
	_, err = svc.ResolveToken(ctx, reg.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)

	_, err = svc.Users.ByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, domainuser.ErrNotFound)

	n, err = svc.EnsureAdmins(ctx, appauth.AdminBootstrap{Emails: []string{"mod@example.com", "root@example.com"}, Password: "rootpass1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	login, err := svc.Login(ctx, appauth.LoginParams{Email: "root@example.com", Password: "rootpass1"})
	require.NoError(t, err)
	assert.True(t, login.User.HasRole(domainuser.RoleAdmin))
	assert.Equal(t, "root", login.User.Name)
}
