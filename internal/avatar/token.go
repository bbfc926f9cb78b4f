package avatar

import (
	"context"
	"sync"
)

// TokenLease caches the provider auth token for the whole process. The token
// is fetched on first use and kept until Invalidate is called, which the
// client does when the provider rejects it.
type TokenLease struct {
	mu    sync.Mutex
	token string
	fetch func(ctx context.Context) (string, error)
}

// NewTokenLease creates a lease backed by fetch.
func NewTokenLease(fetch func(ctx context.Context) (string, error)) *TokenLease {
	return &TokenLease{fetch: fetch}
}

// Token returns the cached token, fetching it if none is held.
// Concurrent callers wait for a single fetch.
func (l *TokenLease) Token(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return l.token, nil
	}
	tok, err := l.fetch(ctx)
	if err != nil {
		return "", err
	}
	l.token = tok
	return tok, nil
}

// Invalidate drops token if it is still the cached one. Passing the token
// that failed keeps a late caller from discarding a newer token.
func (l *TokenLease) Invalidate(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token == token {
		l.token = ""
	}
}

// Cached reports whether a token is currently held.
func (l *TokenLease) Cached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token != ""
}
