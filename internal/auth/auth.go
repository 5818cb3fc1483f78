package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("authentication backend unavailable")
)

// ClientContext identifies the authenticated API client.
type ClientContext struct {
	ClientID string
	Name     string
}

// Authenticator validates an API key and returns the client context.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*ClientContext, error)
}

// ExtractBearer pulls the API key out of an Authorization header value.
// Keys carry the "mak_" prefix; anything else is rejected before any
// backend lookup happens.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAPIKey
	}
	token := header
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)

	if !strings.HasPrefix(token, "mak_") {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// StaticAuthenticator accepts any well-formed key. Development only; no
// database lookup, just format validation.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*ClientContext, error) {
	if !strings.HasPrefix(apiKey, "mak_") {
		return nil, ErrInvalidAPIKey
	}
	return &ClientContext{ClientID: "dev", Name: "development client"}, nil
}
