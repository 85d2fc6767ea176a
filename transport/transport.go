// Package transport defines the minimal duplex message contract the
// multiplexer runs on, plus bindings for in-process pipes, byte streams,
// child processes and text-only links, and a per-frame compression wrapper.
package transport

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send after a transport was closed.
var ErrClosed = errors.New("transport closed")

// Handler receives one inbound frame. The slice is shared by every handler of
// the frame and must be treated as read-only.
type Handler func(frame []byte)

// Subscription identifies one registered Handler.
type Subscription struct {
	handler Handler
}

// Transport is the contract every physical link satisfies.
type Transport interface {
	// Send delivers frame to the peer. It must not block on the peer's handlers.
	Send(frame []byte) error
	Subscribe(h Handler) *Subscription
	Unsubscribe(s *Subscription)
}

// ListenerSet is a copy-on-write set of handlers, safe for concurrent use.
type ListenerSet struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add registers h and returns its subscription.
func (l *ListenerSet) Add(h Handler) *Subscription {
	s := &Subscription{handler: h}
	l.mu.Lock()
	next := make([]*Subscription, 0, len(l.subs)+1)
	next = append(next, l.subs...)
	l.subs = append(next, s)
	l.mu.Unlock()
	return s
}

// Remove unregisters s. Removing an unknown subscription is a no-op.
func (l *ListenerSet) Remove(s *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, cur := range l.subs {
		if cur == s {
			next := make([]*Subscription, 0, len(l.subs)-1)
			next = append(next, l.subs[:i]...)
			l.subs = append(next, l.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered handlers.
func (l *ListenerSet) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Clear removes every handler.
func (l *ListenerSet) Clear() {
	l.mu.Lock()
	l.subs = nil
	l.mu.Unlock()
}

// Dispatch calls every handler registered at the time of the call, in
// registration order, on the calling goroutine.
func (l *ListenerSet) Dispatch(frame []byte) {
	l.mu.Lock()
	subs := l.subs
	l.mu.Unlock()
	for _, s := range subs {
		s.handler(frame)
	}
}
