// Package authtest provides trivial Authenticator implementations for tests
// and local development. None of them belong anywhere near production.
package authtest

import (
	"context"
	"fmt"

	"github.com/hostbridge/mcp-host-go/auth"
)

// Static validates tokens against a fixed token-to-user table.
type Static struct {
	// Tokens maps an accepted bearer token to the user id it authenticates.
	Tokens map[string]string
}

// NewStatic builds a Static authenticator over the given token table.
func NewStatic(tokens map[string]string) *Static {
	return &Static{Tokens: tokens}
}

func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	userID, ok := s.Tokens[tok]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return staticUser(userID), nil
}

// NoAuth accepts every request as the configured user. Used where a transport
// requires an Authenticator but the test does not care about identity.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a NoAuth authenticator; an empty userID defaults to
// "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

func (n *NoAuth) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	return staticUser(n.UserID), nil
}

type staticUser string

func (u staticUser) UserID() string       { return string(u) }
func (u staticUser) Claims(ref any) error { return nil }
