package farcall

import (
	"strings"
	"sync"

	"github.com/machinefabric/farcall-go/mux"
	"github.com/machinefabric/farcall-go/weakmap"
	"github.com/machinefabric/farcall-go/wire"
	"github.com/rs/zerolog"
)

type realmKey struct{}

// realm is the state shared by every provider and consumer on one
// multiplexed transport: which local objects are exposed under which channel
// id, and which remote references are already bound to a handle.
type realm struct {
	id     string
	mux    *mux.Mux
	logger zerolog.Logger

	mu         sync.Mutex
	byIdentity map[identity]string
	provided   map[string]*Provider
	remotes    *weakmap.Map[string, Remote]
}

func realmOf(ch *mux.Channel) *realm {
	m := ch.Mux()
	return m.Attachment(realmKey{}, func() any {
		r := &realm{
			id:         wire.NewID(),
			mux:        m,
			byIdentity: make(map[identity]string),
			provided:   make(map[string]*Provider),
			remotes:    weakmap.New[string, Remote](),
		}
		r.logger = componentLogger(nil, "realm", "").With().Str("realm", r.id).Logger()
		r.remotes.OnEvict(func(id string) {
			r.logger.Debug().Str("channel", id).Msg("remote handle collected")
		})
		return r
	}).(*realm)
}

// wrapConfig carries the options for providers and consumers opened while
// wrapping or unwrapping on behalf of one endpoint.
type wrapConfig struct {
	provide ProvideOptions
	consume ConsumeOptions
}

// wrap turns v into a wire argument for a message sent on ch. byRef forces a
// live reference even for plain data.
func (r *realm) wrap(ch *mux.Channel, v any, byRef bool, cfg wrapConfig) (wire.WrappedArgument, error) {
	if val, ok := v.(*Value); ok {
		switch {
		case val == nil:
			v = nil
		case val.kind == valueRemote:
			v = val.ref
		case val.kind == valueLocal:
			v = val.local
		case !byRef:
			return wire.WrappedArgument{Type: wire.ArgRaw, Value: val.data}, nil
		default:
			v = val.Interface()
		}
	}
	if v == nil {
		return wire.NewRaw(nil)
	}
	if rem, ok := v.(*Remote); ok {
		if rem == nil {
			return wire.NewRaw(nil)
		}
		if id, ok := r.token(rem); ok {
			return wire.NewWrapped(id), nil
		}
		return r.provideRef(ch, rem, cfg)
	}
	if !byRef {
		if clonable(v) {
			return wire.NewRaw(v)
		}
		if c := codecFor(v); c != nil {
			return encodeWithCodec(c, v)
		}
	}
	return r.provideRef(ch, v, cfg)
}

// token returns the channel id a peer knows rem by, when rem is a root
// handle received over this same transport.
func (r *realm) token(rem *Remote) (string, bool) {
	if rem == nil || rem.root != nil || len(rem.path) > 0 {
		return "", false
	}
	ch := rem.c.channel
	if ch.Mux() != r.mux || ch.ID() == mux.RootID {
		return "", false
	}
	return ch.ID(), true
}

// provideRef exposes v on a fresh sub-channel of ch, or returns the channel
// already exposing the same object.
func (r *realm) provideRef(ch *mux.Channel, v any, cfg wrapConfig) (wire.WrappedArgument, error) {
	key, keyed := identityOf(v)

	r.mu.Lock()
	defer r.mu.Unlock()
	if keyed {
		if id, ok := r.byIdentity[key]; ok {
			if p := r.provided[id]; p != nil && !p.Closed() {
				return wire.NewWrapped(id), nil
			}
		}
	}

	sub := ch.CreateSubChannel(wire.NewID())
	p := newProvider(v, sub, cfg.provide, r)
	r.provided[sub.ID()] = p
	if keyed {
		p.identity = key
		p.keyed = true
		r.byIdentity[key] = sub.ID()
	}
	return wire.NewWrapped(sub.ID()), nil
}

// track registers a provider created through Provide.
func (r *realm) track(p *Provider) {
	r.mu.Lock()
	r.provided[p.channel.ID()] = p
	r.mu.Unlock()
}

// untrack evicts a torn down provider so the same object gets a fresh
// channel the next time it is sent.
func (r *realm) untrack(p *Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.channel.ID()
	if r.provided[id] == p {
		delete(r.provided, id)
	}
	if p.keyed && r.byIdentity[p.identity] == id {
		delete(r.byIdentity, p.identity)
	}
}

// unwrap turns a wire argument received on this transport into a Value.
func (r *realm) unwrap(arg wire.WrappedArgument, cfg wrapConfig) (*Value, error) {
	switch arg.Type {
	case wire.ArgRaw:
		return &Value{kind: valueRaw, data: arg.Value}, nil
	case wire.ArgWrapped:
		id, err := arg.ChannelID()
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(id, wire.PathSeparator) {
			return nil, wire.NewProtocolErrorf(wire.CodeInvalidChannelID, "channel %q", id)
		}
		return r.bind(id, cfg), nil
	default:
		c := codecNamed(arg.Type)
		if c == nil {
			return nil, wire.NewProtocolErrorf(wire.CodeMalformedRequest, "unknown argument type %q", arg.Type)
		}
		obj, err := c.Decode(arg.Value)
		if err != nil {
			return nil, wire.NewProtocolErrorf(wire.CodeMalformedRequest, "codec %s: %v", arg.Type, err)
		}
		return &Value{kind: valueLocal, local: obj}, nil
	}
}

// bind resolves a reference token: our own objects come back as themselves,
// remote ones share one handle per channel while that handle is reachable.
func (r *realm) bind(id string, cfg wrapConfig) *Value {
	r.mu.Lock()
	if p := r.provided[id]; p != nil {
		r.mu.Unlock()
		return &Value{kind: valueLocal, local: p.target}
	}
	if rem, ok := r.remotes.Get(id); ok {
		r.mu.Unlock()
		return &Value{kind: valueRemote, ref: rem}
	}
	c := newConsumer(r.mux.Channel(id), cfg.consume, r)
	rem := newRootRemote(c)
	r.remotes.Set(id, rem)
	r.mu.Unlock()

	c.start()
	return &Value{kind: valueRemote, ref: rem}
}

// forgetRemote drops the cached handle of a released consumer.
func (r *realm) forgetRemote(c *consumer) {
	id := c.channel.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if rem, ok := r.remotes.Get(id); ok && rem.c == c {
		r.remotes.Delete(id)
	}
}
