// Package identity reports whether a user identity is present.
//
// Authentication itself happens elsewhere; this package only observes its
// outcome. A Source emits the current user id (or "" when nobody is signed in)
// and then every change until its context is cancelled.
package identity

import (
	"context"
	"sync"
)

// Source yields user identity transitions.
type Source interface {
	// Watch returns a channel that first receives the current uid, then every
	// new value. "" means no identity. The channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan string, error)
}

// Static always reports the same uid.
type Static string

// Watch implements Source.
func (s Static) Watch(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 1)
	ch <- string(s)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// Manual is a Source driven by Set. It is used by tests and embedders that
// learn about sign-in through their own means.
type Manual struct {
	mu       sync.Mutex
	current  string
	watchers map[chan string]<-chan struct{}
}

// NewManual returns a Manual source with the given initial uid.
func NewManual(uid string) *Manual {
	return &Manual{current: uid, watchers: make(map[chan string]<-chan struct{})}
}

// Set changes the identity and notifies watchers. Setting the current value
// again is ignored.
func (m *Manual) Set(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uid == m.current {
		return
	}
	m.current = uid
	for ch, done := range m.watchers {
		select {
		case ch <- uid:
		case <-done:
		}
	}
}

// Current returns the last value passed to Set.
func (m *Manual) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Watch implements Source. Set blocks until each live watcher received the
// change.
func (m *Manual) Watch(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 1)

	m.mu.Lock()
	ch <- m.current
	m.watchers[ch] = ctx.Done()
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}
