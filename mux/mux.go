// Package mux splits one physical transport into a tree of independently
// addressable logical channels.
//
// Channel ids are "/"-joined paths; the root channel has the empty id and a
// child created with CreateSubChannel("a") is "/a". Every frame on the
// transport is a wire.MuxEnvelope naming the channel it belongs to.
package mux

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/machinefabric/farcall-go/transport"
	"github.com/machinefabric/farcall-go/wire"
)

// RootID is the id of the root channel of every multiplexed transport.
const RootID = ""

var (
	cacheMu     sync.Mutex
	byTransport = make(map[transport.Transport]*Mux)
)

// Mux owns the channel tree of one transport.
type Mux struct {
	transport transport.Transport
	sub       *transport.Subscription
	logger    zerolog.Logger

	mu          sync.Mutex
	channels    map[string]*Channel
	listeners   map[string]*transport.ListenerSet
	attachments map[any]any
	closed      bool
}

// Multiplex returns the root channel of t. The first call subscribes to t;
// later calls for the same transport return the same root channel until it is
// closed.
func Multiplex(t transport.Transport) *Channel {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if m, ok := byTransport[t]; ok {
		return m.Channel(RootID)
	}

	m := &Mux{
		transport:   t,
		logger:      log.Logger.With().Str("component", "mux").Logger(),
		channels:    make(map[string]*Channel),
		listeners:   make(map[string]*transport.ListenerSet),
		attachments: make(map[any]any),
	}
	m.sub = t.Subscribe(m.dispatch)
	byTransport[t] = m
	return m.Channel(RootID)
}

// Transport returns the physical transport.
func (m *Mux) Transport() transport.Transport {
	return m.transport
}

// Channel returns the cached channel for id, creating it on first use.
func (m *Mux) Channel(id string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[id]; ok {
		return ch
	}
	ch := &Channel{id: id, mux: m}
	m.channels[id] = ch
	return ch
}

// Attachment returns the value stored under key, creating it with create on
// first use. Higher layers keep per-transport state here.
func (m *Mux) Attachment(key any, create func() any) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.attachments[key]; ok {
		return v
	}
	v := create()
	m.attachments[key] = v
	return v
}

// Closed reports whether the root channel was closed.
func (m *Mux) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mux) listenerSet(id string, create bool) *transport.ListenerSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.listeners[id]
	if !ok && create {
		set = &transport.ListenerSet{}
		m.listeners[id] = set
	}
	return set
}

func (m *Mux) dispatch(frame []byte) {
	var env wire.MuxEnvelope
	if err := wire.Unmarshal(frame, &env); err != nil {
		m.logger.Warn().Err(err).Msg("dropping frame without channel envelope")
		return
	}
	set := m.listenerSet(env.ChannelID, false)
	if set == nil {
		m.logger.Debug().Str("channel", env.ChannelID).Msg("no listeners for channel")
		return
	}
	set.Dispatch(env.Data)
}

func (m *Mux) post(id string, data []byte) error {
	frame, err := wire.Marshal(wire.MuxEnvelope{ChannelID: id, Data: data})
	if err != nil {
		return err
	}
	return m.transport.Send(frame)
}

func (m *Mux) closeChannel(id string) {
	m.mu.Lock()
	if set, ok := m.listeners[id]; ok {
		set.Clear()
		delete(m.listeners, id)
	}
	isRoot := id == RootID && !m.closed
	if isRoot {
		m.closed = true
	}
	m.mu.Unlock()

	if !isRoot {
		return
	}
	m.transport.Unsubscribe(m.sub)
	cacheMu.Lock()
	if byTransport[m.transport] == m {
		delete(byTransport, m.transport)
	}
	cacheMu.Unlock()
}
