// Package auth resolves bearer credentials to caller identities.
package auth

import (
	"context"
	"strings"

	"github.com/jdziat/logqueue/pkg/core"
)

// Authenticator resolves a bearer token to an identity.
// Implementations return core.ErrInvalidCredential for unknown tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (core.Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", core.ErrMissingCredential
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", core.ErrMissingCredential
	}
	return token, nil
}

// Static is a fixed token table, used for local deployments and tests.
type Static map[string]core.Identity

// Authenticate implements Authenticator.
func (s Static) Authenticate(ctx context.Context, token string) (core.Identity, error) {
	if token == "" {
		return core.Identity{}, core.ErrMissingCredential
	}
	id, ok := s[token]
	if !ok || id.UserID == "" {
		return core.Identity{}, core.ErrInvalidCredential
	}
	return id, nil
}

// ParseStatic parses "token=userID:email" entries separated by commas.
func ParseStatic(spec string) Static {
	s := Static{}
	for _, entry := range strings.Split(spec, ",") {
		token, rest, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || token == "" {
			continue
		}
		userID, email, _ := strings.Cut(rest, ":")
		if userID == "" {
			continue
		}
		s[token] = core.Identity{UserID: userID, Email: email}
	}
	return s
}
