package farcall

import (
	"context"
	"runtime"

	"github.com/machinefabric/farcall-go/mux"
	"github.com/machinefabric/farcall-go/wire"
)

// Remote is a handle on an object provided by the peer, or on a property
// path below it. Handles are cheap and immutable: Get returns a new handle
// and nothing is sent until an operation runs.
//
// All handles derived from one Remote share its consumer. Dropping every
// one of them, or calling Release on any, tells the provider to let the
// object go.
type Remote struct {
	c    *consumer
	root *Remote
	path []string
}

// Consume returns a handle on the object provided on ch by the peer.
func Consume(ch *mux.Channel, opts ConsumeOptions) *Remote {
	r := realmOf(ch)
	c := newConsumer(ch, opts, r)
	rem := newRootRemote(c)
	c.start()
	return rem
}

// Outcome is the result of an asynchronous call.
type Outcome struct {
	Value *Value
	Err   error
}

// Get returns a handle on property name. A name containing "/" addresses
// several levels at once.
func (r *Remote) Get(name string) *Remote {
	return r.at(name)
}

func (r *Remote) at(names ...string) *Remote {
	path := make([]string, 0, len(r.path)+len(names))
	path = append(path, r.path...)
	path = append(path, names...)
	return &Remote{c: r.c, root: r.anchor(), path: path}
}

func (r *Remote) anchor() *Remote {
	if r.root != nil {
		return r.root
	}
	return r
}

// Path returns the property path of the handle, "" for the root.
func (r *Remote) Path() string {
	return wire.JoinPath(r.path)
}

// Channel returns the channel the handle talks on.
func (r *Remote) Channel() *mux.Channel {
	return r.c.channel
}

// Await fetches the value at the handle's path.
func (r *Remote) Await(ctx context.Context) (*Value, error) {
	defer runtime.KeepAlive(r)
	return r.c.request(ctx, wire.OpAwait, r.path, nil)
}

// Call invokes the function at the handle's path.
func (r *Remote) Call(ctx context.Context, args ...any) (*Value, error) {
	defer runtime.KeepAlive(r)
	return r.c.request(ctx, wire.OpCall, r.path, args)
}

// Construct invokes the factory at the handle's path. The result always
// comes back as a live reference.
func (r *Remote) Construct(ctx context.Context, args ...any) (*Value, error) {
	defer runtime.KeepAlive(r)
	return r.c.request(ctx, wire.OpConstruct, r.path, args)
}

// Set assigns value to property name below the handle's path.
func (r *Remote) Set(ctx context.Context, name string, value any) error {
	defer runtime.KeepAlive(r)
	path := append(append([]string(nil), r.path...), name)
	_, err := r.c.request(ctx, wire.OpSet, path, []any{value})
	return err
}

// Ping checks that the provider is still serving.
func (r *Remote) Ping(ctx context.Context) error {
	defer runtime.KeepAlive(r)
	_, err := r.c.request(ctx, wire.OpPing, nil, nil)
	return err
}

// Go calls the function at the handle's path without blocking. The channel
// receives exactly one Outcome.
func (r *Remote) Go(ctx context.Context, args ...any) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		v, err := r.Call(ctx, args...)
		out <- Outcome{Value: v, Err: err}
	}()
	return out
}

// Release lets the provider drop the object now rather than when the handle
// is garbage collected. Every handle sharing the consumer stops working.
func (r *Remote) Release() {
	r.c.release("released")
}

// Released reports whether Release ran or the handle was collected.
func (r *Remote) Released() bool {
	return r.c.isClosed()
}

func (r *Remote) String() string {
	return "farcall.Remote(" + r.c.channel.ID() + ":" + r.Path() + ")"
}
