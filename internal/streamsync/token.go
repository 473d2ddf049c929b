package streamsync

import (
	"context"
	"errors"
	"sync"

	"github.com/forkpoint/orderfeed/internal/orderfeed"
)

// TokenFetcher is the collaborator that issues stream tokens. *Client
// implements it.
type TokenFetcher interface {
	StreamToken(ctx context.Context) (TokenResponse, error)
}

// TokenProvider caches one stream token per identity. At most one fetch is in
// flight at a time, a token is never re-issued while one already exists for
// the same identity, and a failed fetch is not retried automatically; the
// failure stays retrievable as a string for the UI layer, which may prompt a
// reload or re-login.
type TokenProvider struct {
	mu          sync.Mutex
	fetcher     TokenFetcher
	identityKey string
	token       string
	lastErr     string
	inflight    chan struct{}
}

func NewTokenProvider(fetcher TokenFetcher) *TokenProvider {
	return &TokenProvider{fetcher: fetcher}
}

// Ensure returns the stream token for identity, fetching it on first need.
func (p *TokenProvider) Ensure(ctx context.Context, identity orderfeed.Identity) (string, error) {
	key := identity.Key()
	if key == "" {
		return "", orderfeed.ErrInvalidInput
	}
	for {
		p.mu.Lock()
		if p.identityKey != key {
			// Identity changed since the last fetch; the old token is bound
			// to the old identity and is discarded.
			p.identityKey = key
			p.token = ""
			p.lastErr = ""
			p.inflight = nil
		}
		if p.token != "" {
			token := p.token
			p.mu.Unlock()
			return token, nil
		}
		if p.lastErr != "" {
			message := p.lastErr
			p.mu.Unlock()
			return "", errors.New(message)
		}
		if p.inflight != nil {
			wait := p.inflight
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-wait:
			}
			continue
		}
		done := make(chan struct{})
		p.inflight = done
		p.mu.Unlock()

		resp, err := p.fetcher.StreamToken(ctx)

		p.mu.Lock()
		if p.identityKey == key {
			if err != nil {
				p.lastErr = err.Error()
			} else {
				p.token = resp.Token
			}
			p.inflight = nil
		}
		p.mu.Unlock()
		close(done)
		if err != nil {
			return "", err
		}
		if p.currentKey() != key {
			return "", orderfeed.ErrInvalidInput
		}
		return resp.Token, nil
	}
}

// Err returns the recorded fetch failure, if any, for diagnostic display.
func (p *TokenProvider) Err() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Invalidate discards any cached token and recorded failure, e.g. on logout.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identityKey = ""
	p.token = ""
	p.lastErr = ""
	p.inflight = nil
}

func (p *TokenProvider) currentKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identityKey
}
