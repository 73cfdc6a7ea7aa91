package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const audience = "userhub-api"

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is what a verified token asserts about its bearer.
type Principal struct {
	IdentityID string
	Role       domain.Role
}

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock returns a copy that reads time from now.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	cp := *t
	cp.now = now
	return &cp
}

func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

func (t *TokenIssuer) Issue(identityID string, role domain.Role) (string, error) {
	if identityID == "" {
		return "", errors.New("empty identity id")
	}
	if !role.Valid() {
		return "", fmt.Errorf("issue token: %w", domain.ErrInvalidRole)
	}

	now := t.now()
	claims := Claims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			Audience:  []string{audience},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify collapses every failure (format, signature, expiry, claims) into domain.ErrInvalidToken.
func (t *TokenIssuer) Verify(tokenString string) (*Principal, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || claims.Subject == "" {
		return nil, domain.ErrInvalidToken
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	return &Principal{IdentityID: claims.Subject, Role: role}, nil
}
