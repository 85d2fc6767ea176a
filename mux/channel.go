package mux

import (
	"github.com/machinefabric/farcall-go/transport"
	"github.com/machinefabric/farcall-go/wire"
)

// Channel is one logical message stream on a multiplexed transport.
type Channel struct {
	id  string
	mux *Mux
}

// ID returns the full path of the channel from the root.
func (c *Channel) ID() string {
	return c.id
}

// Mux returns the multiplexer this channel belongs to.
func (c *Channel) Mux() *Mux {
	return c.mux
}

// PostMessage sends data to the listeners of the same channel id on the peer.
func (c *Channel) PostMessage(data []byte) error {
	return c.mux.post(c.id, data)
}

// Subscribe registers h for messages addressed to this channel.
func (c *Channel) Subscribe(h transport.Handler) *transport.Subscription {
	return c.mux.listenerSet(c.id, true).Add(h)
}

// Unsubscribe removes a handler registered with Subscribe.
func (c *Channel) Unsubscribe(s *transport.Subscription) {
	if set := c.mux.listenerSet(c.id, false); set != nil {
		set.Remove(s)
	}
}

// Listeners returns the number of handlers subscribed to this channel.
func (c *Channel) Listeners() int {
	if set := c.mux.listenerSet(c.id, false); set != nil {
		return set.Len()
	}
	return 0
}

// CreateSubChannel returns the child channel named localID. The same id
// always yields the same *Channel.
func (c *Channel) CreateSubChannel(localID string) *Channel {
	return c.mux.Channel(c.id + wire.PathSeparator + localID)
}

// Close drops this channel's listeners. Sub-channels stay registered since
// in-flight messages may still address them. Closing the root channel also
// detaches from the transport.
func (c *Channel) Close() {
	c.mux.closeChannel(c.id)
}
