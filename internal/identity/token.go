// Package identity turns signed bearer tokens into the acting identity the
// approval engine reads from the request context. It does not manage users
// or sessions; tokens are minted by an upstream identity provider (or by
// Issue, for operators and tests).
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/requestcontext"
)

// Claims are the access-token claims: the subject is the actor id.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 access tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewTokenService(signingKey, issuer, audience string) (*TokenService, error) {
	if len(signingKey) < 16 {
		return nil, errors.New("token signing key must be at least 16 bytes")
	}
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}, nil
}

// Issue mints a token for subject holding roles.
func (s *TokenService) Issue(subject string, roles []string, expiresIn time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", dErrors.New(dErrors.CodeValidation, "token subject is required")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Verify checks signature, expiry, issuer and audience.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return claims, nil
}

// Actor verifies tokenString and returns the identity it carries.
func (s *TokenService) Actor(tokenString string) (requestcontext.Actor, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return requestcontext.Actor{}, err
	}
	return requestcontext.Actor{ID: claims.Subject, Roles: claims.Roles}, nil
}

// Authenticate accepts a raw token or an "Authorization: Bearer" value and
// returns ctx carrying the actor.
func (s *TokenService) Authenticate(ctx context.Context, credential string) (context.Context, error) {
	token := strings.TrimSpace(credential)
	if after, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = strings.TrimSpace(after)
	}
	if token == "" {
		return ctx, dErrors.New(dErrors.CodeUnauthorized, "missing credentials")
	}
	actor, err := s.Actor(token)
	if err != nil {
		return ctx, err
	}
	return requestcontext.WithActor(ctx, actor), nil
}
