package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	appauth "neighborhub/internal/app/services/auth"
	domainuser "neighborhub/internal/domain/user"
)

var (
	ErrInvalidToken  = errors.New("security: invalid token")
	ErrSecretMissing = errors.New("security: jwt secret is required")
)

const defaultIssuer = "neighborhub"

// Claims is the bearer token payload. The registered ID (jti) names the
// server-side session, so logging out revokes the token before it expires.
type Claims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTIssuer signs HS256 bearer tokens.
type JWTIssuer struct {
	Secret []byte
	Issuer string
}

func NewJWTIssuer(secret, issuer string) (*JWTIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretMissing
	}
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &JWTIssuer{Secret: []byte(secret), Issuer: issuer}, nil
}

func (i *JWTIssuer) Issue(userID domainuser.ID, roles []domainuser.Role, ttl time.Duration, now time.Time) (appauth.IssuedToken, error) {
	if now.IsZero() {
		now = time.Now()
	}
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, string(r))
	}
	sessionID := uuid.NewString()
	expires := now.Add(ttl)
	claims := Claims{
		UserID: string(userID),
		Roles:  roleNames,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Issuer:    i.Issuer,
			Subject:   string(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return appauth.IssuedToken{}, fmt.Errorf("security: sign token: %w", err)
	}
	return appauth.IssuedToken{Token: signed, SessionID: sessionID, ExpiresAt: expires}, nil
}

// Verify checks signature, issuer and expiry and returns the session id and user.
func (i *JWTIssuer) Verify(token string) (appauth.VerifiedToken, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return appauth.VerifiedToken{}, ErrInvalidToken
	}
	if !claims.VerifyIssuer(i.Issuer, true) || claims.ID == "" || claims.UserID == "" {
		return appauth.VerifiedToken{}, ErrInvalidToken
	}
	return appauth.VerifiedToken{SessionID: claims.ID, UserID: domainuser.ID(claims.UserID)}, nil
}

var _ appauth.TokenIssuer = (*JWTIssuer)(nil)
