// Package auth resolves bearer credentials into actors.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/models"
)

// Resolver turns a credential into the actor it authenticates.
type Resolver interface {
	ResolveActor(ctx context.Context, credential string) (models.Actor, error)
}

// UserLookup loads users by ID.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Claims are the JWT claims issued for a user. The subject is the user ID.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver issues and verifies HS256 tokens.
type JWTResolver struct {
	secret []byte
	issuer string
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

// NewJWTResolver creates a resolver. The secret must not be empty.
func NewJWTResolver(secret, issuer string, ttl time.Duration, users UserLookup) (*JWTResolver, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTResolver{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}, nil
}

// Issue signs a token for user and returns it with its expiry.
func (r *JWTResolver) Issue(user *models.User) (string, time.Time, error) {
	now := r.now()
	expiresAt := now.Add(r.ttl)
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    r.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// ResolveActor verifies credential and loads the user it names. The actor's
// tier is the user's current tier.
func (r *JWTResolver) ResolveActor(ctx context.Context, credential string) (models.Actor, error) {
	const op = "auth.ResolveActor"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return models.Actor{}, perrors.Wrap(perrors.KindUnauthorized, op, err, "invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return models.Actor{}, perrors.Unauthorized(op, "invalid token claims")
	}

	user, err := r.users.GetUser(ctx, claims.Subject)
	if err != nil {
		if perrors.KindOf(err) == perrors.KindNotFound {
			return models.Actor{}, perrors.Unauthorized(op, "unknown user")
		}
		return models.Actor{}, err
	}
	return models.Actor{ID: user.ID, Tier: user.Tier}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const op = "auth.BearerToken"
	if header == "" {
		return "", perrors.Unauthorized(op, "Authorization header is required")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", perrors.Unauthorized(op, "Authorization header must use Bearer scheme")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", perrors.Unauthorized(op, "bearer token is empty")
	}
	return token, nil
}
