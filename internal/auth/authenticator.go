// Package auth verifies relay tokens and resolves them to users.
package auth

import (
	"context"
	"errors"
	"fmt"

	"chat-relay/internal/models"
	"chat-relay/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var (
	ErrMissingToken = errors.New("token missing")
	ErrInvalidToken = errors.New("token invalid")
	ErrExpiredToken = errors.New("token expired")
	ErrUnknownUser  = errors.New("unknown user")
)

// Close codes sent to the peer when authentication fails.
const (
	CloseTokenExpired = 4000
	CloseTokenInvalid = 4001
	CloseTokenMissing = 4002
	CloseUnknownUser  = 4003
)

// CloseCode maps an Authenticate error to the websocket close code sent to the peer.
func CloseCode(err error) int {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return CloseTokenExpired
	case errors.Is(err, ErrInvalidToken):
		return CloseTokenInvalid
	case errors.Is(err, ErrMissingToken):
		return CloseTokenMissing
	case errors.Is(err, ErrUnknownUser):
		return CloseUnknownUser
	default:
		return websocket.CloseInternalServerErr
	}
}

type Authenticator struct {
	keys   *keys
	issuer string
	users  store.UserStore
}

func NewAuthenticator(cfg KeyConfig, users store.UserStore) (*Authenticator, error) {
	k, err := loadKeys(cfg)
	if err != nil {
		return nil, err
	}
	return &Authenticator{keys: k, issuer: cfg.Issuer, users: users}, nil
}

// Authenticate validates token and resolves the user it was issued for.
// Errors other than the sentinel auth errors come from the user lookup.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := a.verify(token)
	if err != nil {
		return nil, err
	}

	id, err := claims.userID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := a.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownUser, id)
		}
		return nil, fmt.Errorf("lookup user %d: %w", id, err)
	}

	return user, nil
}

func (a *Authenticator) verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{a.keys.method.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.keys.verify, nil
	}, opts...)

	switch {
	case err == nil && parsed.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	default:
		return nil, ErrInvalidToken
	}
}
