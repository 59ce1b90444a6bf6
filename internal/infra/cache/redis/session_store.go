package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	domainauth "neighborhub/internal/domain/auth"
	domainuser "neighborhub/internal/domain/user"
)

const (
	sessionKeyPrefix = "session:"
	userSessionsKey  = "user_sessions:"
)

// SessionStore keeps sessions as JSON strings that expire with the session.
// Each user also gets a set of their tokens so DeleteByUser can revoke them all.
type SessionStore struct {
	rdb goredis.Cmdable
	now func() time.Time
}

func NewSessionStore(rdb goredis.Cmdable) *SessionStore {
	return &SessionStore{rdb: rdb, now: time.Now}
}

type sessionRecord struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *SessionStore) Save(ctx context.Context, session *domainauth.Session) error {
	if session == nil {
		return errors.New("redis: session is nil")
	}
	ttl := session.TTL(s.now())
	if ttl <= 0 {
		return domainauth.ErrTTLInvalid
	}
	data, err := json.Marshal(encodeSession(session))
	if err != nil {
		return err
	}
	userKey := userSessionsKey + string(session.UserID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+string(session.Token), data, ttl)
		pipe.SAdd(ctx, userKey, string(session.Token))
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, token domainauth.Token) (*domainauth.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKeyPrefix+string(token)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domainauth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get session: %w", err)
	}
	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis: decode session: %w", err)
	}
	session := rec.toDomain()
	if session.Expired(s.now()) {
		return nil, domainauth.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Delete(ctx context.Context, token domainauth.Token) error {
	session, err := s.Get(ctx, token)
	if errors.Is(err, domainauth.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, sessionKeyPrefix+string(token))
		pipe.SRem(ctx, userSessionsKey+string(session.UserID), string(token))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID domainuser.ID) error {
	userKey := userSessionsKey + string(userID)
	tokens, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("redis: list user sessions: %w", err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, sessionKeyPrefix+t)
	}
	keys = append(keys, userKey)
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: delete user sessions: %w", err)
	}
	return nil
}

func encodeSession(s *domainauth.Session) sessionRecord {
	roles := make([]string, len(s.Roles))
	for i, r := range s.Roles {
		roles[i] = string(r)
	}
	return sessionRecord{
		Token:     string(s.Token),
		UserID:    string(s.UserID),
		Roles:     roles,
		CreatedAt: s.CreatedAt.UTC(),
		ExpiresAt: s.ExpiresAt.UTC(),
	}
}

func (r sessionRecord) toDomain() *domainauth.Session {
	roles := make([]domainuser.Role, len(r.Roles))
	for i, role := range r.Roles {
		roles[i] = domainuser.Role(role)
	}
	return &domainauth.Session{
		Token:     domainauth.Token(r.Token),
		UserID:    domainuser.ID(r.UserID),
		Roles:     roles,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

var _ domainauth.SessionStore = (*SessionStore)(nil)
