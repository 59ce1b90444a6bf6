package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	domainauth "neighborhub/internal/domain/auth"
	domainuser "neighborhub/internal/domain/user"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrPasswordTooShort   = errors.New("auth: password must be at least 8 characters")
	ErrRoleNotAllowed     = errors.New("auth: role cannot be self-assigned")
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type IssuedToken struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

type VerifiedToken struct {
	SessionID string
	UserID    domainuser.ID
}

// TokenIssuer signs and verifies bearer tokens.
type TokenIssuer interface {
	Issue(userID domainuser.ID, roles []domainuser.Role, ttl time.Duration, now time.Time) (IssuedToken, error)
	Verify(token string) (VerifiedToken, error)
}

// Service owns registration, login and bearer token resolution. A token is
// valid while its signature verifies and its session is still stored.
type Service struct {
	Users      domainuser.Repository
	Sessions   domainauth.SessionStore
	Passwords  PasswordHasher
	Tokens     TokenIssuer
	SessionTTL time.Duration
	Logger     *slog.Logger
}

type RegisterParams struct {
	Email          string
	Name           string
	Password       string
	Role           string
	ProfilePicture string
}

type LoginParams struct {
	Email    string
	Password string
}

type AuthResult struct {
	User  *domainuser.User
	Token string
}

type ResolveResult struct {
	User    *domainuser.User
	Session *domainauth.Session
}

func (s *Service) Register(ctx context.Context, params RegisterParams) (*AuthResult, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	email := strings.TrimSpace(strings.ToLower(params.Email))
	name := strings.TrimSpace(params.Name)
	if email == "" {
		return nil, domainuser.ErrEmailRequired
	}
	if name == "" {
		return nil, domainuser.ErrNameRequired
	}
	if err := s.validatePassword(params.Password); err != nil {
		return nil, err
	}
	role := domainuser.RoleBuyer
	if strings.TrimSpace(params.Role) != "" {
		parsed, err := domainuser.ParseRole(params.Role)
		if err != nil {
			return nil, err
		}
		if parsed == domainuser.RoleAdmin {
			return nil, ErrRoleNotAllowed
		}
		role = parsed
	}
	if _, err := s.Users.ByEmail(ctx, email); err == nil {
		return nil, domainuser.ErrEmailAlreadyUsed
	} else if !errors.Is(err, domainuser.ErrNotFound) {
		return nil, err
	}
	hash, err := s.Passwords.Hash(params.Password)
	if err != nil {
		return nil, err
	}
	user, err := domainuser.NewUser(domainuser.CreateParams{
		ID:             domainuser.ID(uuid.NewString()),
		Email:          email,
		Name:           name,
		ProfilePicture: params.ProfilePicture,
		PasswordHash:   hash,
		Roles:          []domainuser.Role{role},
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.Users.Save(ctx, user); err != nil {
		return nil, err
	}
	token, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("user registered", "user_id", user.ID, "email", user.Email, "roles", user.Roles)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func (s *Service) Login(ctx context.Context, params LoginParams) (*AuthResult, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	email := strings.TrimSpace(strings.ToLower(params.Email))
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.Users.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.Passwords.Compare(user.PasswordHash, params.Password); err != nil {
		return nil, ErrInvalidCredentials
	}
	token, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("user authenticated", "user_id", user.ID)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// Logout revokes the session behind token. Unknown or malformed tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.ensureDependencies(); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	verified, err := s.Tokens.Verify(token)
	if err != nil {
		return nil
	}
	if err := s.Sessions.Delete(ctx, domainauth.Token(verified.SessionID)); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("session terminated", "user_id", verified.UserID)
	}
	return nil
}

func (s *Service) ResolveToken(ctx context.Context, token string) (*ResolveResult, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domainauth.ErrTokenRequired
	}
	verified, err := s.Tokens.Verify(token)
	if err != nil {
		return nil, domainauth.ErrSessionNotFound
	}
	session, err := s.Sessions.Get(ctx, domainauth.Token(verified.SessionID))
	if err != nil {
		return nil, err
	}
	if session.UserID != verified.UserID {
		return nil, domainauth.ErrSessionNotFound
	}
	user, err := s.Users.ByID(ctx, session.UserID)
	if err != nil {
		_ = s.Sessions.Delete(ctx, session.Token)
		if errors.Is(err, domainuser.ErrNotFound) {
			return nil, domainauth.ErrSessionNotFound
		}
		return nil, err
	}
	return &ResolveResult{User: user, Session: session}, nil
}

// AdminBootstrap promotes existing accounts to admin by email. Emails without
// an account are created with Password when it is set and skipped otherwise.
type AdminBootstrap struct {
	Emails   []string
	Password string
}

// EnsureAdmins applies the bootstrap and returns the number of accounts changed.
// Sessions of promoted users are revoked so their next login carries the new role.
func (s *Service) EnsureAdmins(ctx context.Context, params AdminBootstrap) (int, error) {
	if err := s.ensureDependencies(); err != nil {
		return 0, err
	}
	changed := 0
	for _, raw := range params.Emails {
		email := strings.TrimSpace(strings.ToLower(raw))
		if email == "" {
			continue
		}
		user, err := s.Users.ByEmail(ctx, email)
		switch {
		case errors.Is(err, domainuser.ErrNotFound):
			if params.Password == "" {
				if s.Logger != nil {
					s.Logger.Warn("admin bootstrap skipped unknown email", "email", email)
				}
				continue
			}
			if err := s.createAdmin(ctx, email, params.Password); err != nil {
				return changed, fmt.Errorf("auth: create admin %s: %w", email, err)
			}
			changed++
		case err != nil:
			return changed, err
		default:
			granted, err := user.GrantRole(domainuser.RoleAdmin, time.Now())
			if err != nil {
				return changed, err
			}
			if !granted {
				continue
			}
			if err := s.Users.Save(ctx, user); err != nil {
				return changed, fmt.Errorf("auth: promote %s: %w", email, err)
			}
			if err := s.Sessions.DeleteByUser(ctx, user.ID); err != nil {
				return changed, fmt.Errorf("auth: revoke sessions of %s: %w", email, err)
			}
			if s.Logger != nil {
				s.Logger.Info("user promoted to admin", "user_id", user.ID, "email", email)
			}
			changed++
		}
	}
	return changed, nil
}

func (s *Service) createAdmin(ctx context.Context, email, password string) error {
	if err := s.validatePassword(password); err != nil {
		return err
	}
	hash, err := s.Passwords.Hash(password)
	if err != nil {
		return err
	}
	name, _, _ := strings.Cut(email, "@")
	user, err := domainuser.NewUser(domainuser.CreateParams{
		ID:           domainuser.ID(uuid.NewString()),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Roles:        []domainuser.Role{domainuser.RoleAdmin},
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return err
	}
	if err := s.Users.Save(ctx, user); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("admin account created", "user_id", user.ID, "email", email)
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, user *domainuser.User) (string, error) {
	now := time.Now()
	issued, err := s.Tokens.Issue(user.ID, user.Roles, s.sessionTTL(), now)
	if err != nil {
		return "", err
	}
	session, err := domainauth.NewSession(domainauth.CreateSessionParams{
		Token:  domainauth.Token(issued.SessionID),
		UserID: user.ID,
		Roles:  append([]domainuser.Role(nil), user.Roles...),
		TTL:    s.sessionTTL(),
		Now:    now,
	})
	if err != nil {
		return "", err
	}
	if err := s.Sessions.Save(ctx, session); err != nil {
		return "", fmt.Errorf("auth: save session: %w", err)
	}
	return issued.Token, nil
}

func (s *Service) sessionTTL() time.Duration {
	if s.SessionTTL > 0 {
		return s.SessionTTL
	}
	return 24 * time.Hour
}

func (s *Service) validatePassword(password string) error {
	if utf8.RuneCountInString(password) < 8 {
		return ErrPasswordTooShort
	}
	return nil
}

func (s *Service) ensureDependencies() error {
	switch {
	case s.Users == nil:
		return errors.New("auth: user repository required")
	case s.Sessions == nil:
		return errors.New("auth: session store required")
	case s.Passwords == nil:
		return errors.New("auth: password hasher required")
	case s.Tokens == nil:
		return errors.New("auth: token issuer required")
	default:
		return nil
	}
}
