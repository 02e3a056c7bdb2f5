package auth

import (
	"errors"
	"fmt"
	"time"

	"shopfront/internal/config"
	"shopfront/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates access tokens from refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// All three match domain.ErrUnauthorized. Callers can still tell an
// expired token (re-authenticate) from a bad one.
var (
	ErrInvalidToken   = fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	ErrTokenExpired   = fmt.Errorf("%w: token has expired", domain.ErrUnauthorized)
	ErrWrongTokenType = fmt.Errorf("%w: wrong token type", domain.ErrUnauthorized)
)

// Claims represents the JWT claims. Subject carries the user id.
type Claims struct {
	Role string    `json:"role,omitempty"`
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

// TokenID parses the jti claim
func (c *Claims) TokenID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

// IssuedToken is a signed token plus the metadata callers persist
type IssuedToken struct {
	Token     string
	ID        uuid.UUID
	ExpiresAt time.Time
}

// TokenManager signs and verifies HS256 tokens with an injected secret
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenManager(cfg config.JWTConfig) *TokenManager {
	return &TokenManager{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL(),
		refreshTTL: cfg.RefreshTTL(),
		now:        time.Now,
	}
}

// IssueAccessToken signs {sub, role, type=access, exp}
func (m *TokenManager) IssueAccessToken(userID uuid.UUID, role string) (IssuedToken, error) {
	return m.issue(userID, role, TokenTypeAccess, m.accessTTL)
}

// IssueRefreshToken signs {sub, type=refresh, exp} with a fresh jti
func (m *TokenManager) IssueRefreshToken(userID uuid.UUID) (IssuedToken, error) {
	return m.issue(userID, "", TokenTypeRefresh, m.refreshTTL)
}

func (m *TokenManager) issue(userID uuid.UUID, role string, typ TokenType, ttl time.Duration) (IssuedToken, error) {
	now := m.now()
	jti := uuid.New()
	claims := &Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}

	return IssuedToken{Token: signed, ID: jti, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// ParseAccessToken verifies an access token. A refresh token is rejected.
func (m *TokenManager) ParseAccessToken(token string) (*Claims, error) {
	return m.parse(token, TokenTypeAccess)
}

// ParseRefreshToken verifies a refresh token. An access token is rejected.
func (m *TokenManager) ParseRefreshToken(token string) (*Claims, error) {
	return m.parse(token, TokenTypeRefresh)
}

func (m *TokenManager) parse(tokenString string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Type != want {
		return nil, ErrWrongTokenType
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	if want == TokenTypeAccess && !domain.ValidRole(claims.Role) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
