// Package credentials resolves the backend credential at session start.
// The key can come from a static value, the environment, or an OAuth2
// token source when the backend is fronted by an identity provider.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

// ErrNoAPIKey indicates no credential could be resolved.
var ErrNoAPIKey = errors.New("credentials: no API key configured")

// Source yields the bearer credential for the realtime backend.
type Source interface {
	// APIKey returns the credential, or ErrNoAPIKey when absent.
	APIKey(ctx context.Context) (string, error)
}

// Static is a fixed credential.
type Static string

// APIKey implements Source.
func (s Static) APIKey(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoAPIKey
	}
	return string(s), nil
}

// Env reads the credential from an environment variable on every call.
type Env string

// APIKey implements Source.
func (e Env) APIKey(ctx context.Context) (string, error) {
	key := os.Getenv(string(e))
	if key == "" {
		return "", fmt.Errorf("%w: set %s", ErrNoAPIKey, string(e))
	}
	return key, nil
}

// OAuth adapts an oauth2.TokenSource into a Source. The access token is
// used as the bearer credential; refresh is the token source's concern.
type OAuth struct {
	TokenSource oauth2.TokenSource
}

// APIKey implements Source.
func (o OAuth) APIKey(ctx context.Context) (string, error) {
	if o.TokenSource == nil {
		return "", ErrNoAPIKey
	}
	tok, err := o.TokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("credentials: token fetch failed: %w", err)
	}
	if !tok.Valid() {
		return "", fmt.Errorf("%w: expired token", ErrNoAPIKey)
	}
	return tok.AccessToken, nil
}

// Chain tries each source in order and returns the first credential.
type Chain []Source

// APIKey implements Source.
func (c Chain) APIKey(ctx context.Context) (string, error) {
	for _, src := range c {
		key, err := src.APIKey(ctx)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrNoAPIKey) {
			return "", err
		}
	}
	return "", ErrNoAPIKey
}
