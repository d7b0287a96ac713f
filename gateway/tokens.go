package gateway

import (
	"context"
	"sync"
)

// TokenSource supplies the bearer token for the app API.
type TokenSource interface {
	Token(ctx context.Context) string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) string

func (f TokenFunc) Token(ctx context.Context) string { return f(ctx) }

// StaticToken always returns itself.
type StaticToken string

func (t StaticToken) Token(context.Context) string { return string(t) }

// ChainTokens returns the first non empty token, in order. The usual chain
// is the session token followed by secure storage.
type ChainTokens []TokenSource

func (c ChainTokens) Token(ctx context.Context) string {
	for _, src := range c {
		if src == nil {
			continue
		}
		if tok := src.Token(ctx); tok != "" {
			return tok
		}
	}
	return ""
}

// SessionToken holds the token of the signed in principal.
type SessionToken struct {
	mu    sync.RWMutex
	token string
}

// Set replaces the token. An empty token clears the session.
func (s *SessionToken) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *SessionToken) Token(context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
