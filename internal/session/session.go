// Package session holds the signed-in identity and tells interested
// components when it changes. The stream manager, views, and inbox all
// take the session as a collaborator rather than reading ambient state,
// so tests can drive identity changes directly.
package session

import (
	"sync"

	"github.com/forkpoint/orderfeed/internal/orderfeed"
)

// Session is the injectable holder for the current identity. The zero
// identity means signed out.
type Session struct {
	mu       sync.Mutex
	identity orderfeed.Identity
	watchers []func(orderfeed.Identity)
}

func New() *Session {
	return &Session{}
}

// Identity returns the current identity. Check Present() on the result.
func (s *Session) Identity() orderfeed.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetIdentity replaces the current identity and notifies watchers. Setting
// the identity the session already holds is a no-op.
func (s *Session) SetIdentity(identity orderfeed.Identity) {
	s.mu.Lock()
	if s.identity == identity {
		s.mu.Unlock()
		return
	}
	s.identity = identity
	watchers := make([]func(orderfeed.Identity), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, w := range watchers {
		w(identity)
	}
}

// Clear signs the session out.
func (s *Session) Clear() {
	s.SetIdentity(orderfeed.Identity{})
}

// OnChange registers a watcher called after every identity change, including
// sign-out. Watchers run on the caller's goroutine, in registration order.
func (s *Session) OnChange(fn func(orderfeed.Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}
