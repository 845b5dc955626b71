// Package identity resolves the bearer token of a payment API call to a user
// and the company it belongs to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nimasrn/payment-reconciler/internal/model"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrUnknownUser  = errors.New("token subject is not a known user")
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Claims carries the user id as the standard subject.
type Claims struct {
	CompanyID string `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	issuer string
	users  UserRepository
}

func NewAuthenticator(secret, issuer string, users UserRepository) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, users: users}
}

// Authenticate parses an Authorization header value and loads its user.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*model.User, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	user, err := a.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownUser, err)
	}
	return user, nil
}

// Issue signs a token for user, valid for ttl. Used by the CLI and tests.
func (a *Authenticator) Issue(user *model.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		CompanyID: user.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
