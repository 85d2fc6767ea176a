package farcall

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/machinefabric/farcall-go/mux"
	"github.com/machinefabric/farcall-go/transport"
	"github.com/machinefabric/farcall-go/wire"
	"github.com/rs/zerolog"
)

// Provider serves requests against a target on one channel.
type Provider struct {
	id      string
	target  any
	root    reflect.Value
	channel *mux.Channel
	realm   *realm
	opts    ProvideOptions
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// set while the realm lock is held, before the provider is reachable
	identity identity
	keyed    bool

	mu        sync.Mutex
	sub       *transport.Subscription
	consumers map[string]struct{}
	idle      *time.Timer
	closed    bool
}

// Provide exposes target on ch and returns once the provider is listening.
func Provide(target any, ch *mux.Channel, opts ProvideOptions) *Provider {
	r := realmOf(ch)
	p := newProvider(target, ch, opts, r)
	r.track(p)
	return p
}

func newProvider(target any, ch *mux.Channel, opts ProvideOptions, r *realm) *Provider {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		id:        wire.NewID(),
		target:    target,
		root:      reflect.ValueOf(target),
		channel:   ch,
		realm:     r,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		consumers: make(map[string]struct{}),
	}
	p.logger = componentLogger(opts.Logger, "provider", opts.Name).With().
		Str("channel", ch.ID()).Logger()
	p.sub = ch.Subscribe(p.handle)
	if d := opts.idleTimeout(); d > 0 {
		p.idle = time.AfterFunc(d, func() { p.release("idle") })
	}
	return p
}

// ID identifies the provider in responses.
func (p *Provider) ID() string {
	return p.id
}

// Channel returns the channel the provider listens on.
func (p *Provider) Channel() *mux.Channel {
	return p.channel
}

// Consumers returns the number of registered consumer handles.
func (p *Provider) Consumers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.consumers)
}

// Done is closed once the provider stopped listening.
func (p *Provider) Done() <-chan struct{} {
	return p.done
}

// Closed reports whether the provider stopped listening.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops serving. Calls in flight see their context canceled.
func (p *Provider) Close() {
	p.release("closed")
}

func (p *Provider) release(reason string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sub := p.sub
	if p.idle != nil {
		p.idle.Stop()
	}
	p.mu.Unlock()

	p.channel.Unsubscribe(sub)
	p.cancel()
	p.realm.untrack(p)
	close(p.done)
	p.logger.Info().Str("reason", reason).Msg("provider released")
}

// touch resets the idle timer. It reports false once the provider is closed.
func (p *Provider) touch() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.idle != nil {
		p.idle.Reset(p.opts.idleTimeout())
	}
	return true
}

func (p *Provider) wrapConfig() wrapConfig {
	return wrapConfig{
		provide: p.opts,
		consume: ConsumeOptions{Name: p.opts.Name, Logger: p.opts.Logger},
	}
}

func (p *Provider) handle(data []byte) {
	// responses on a shared channel belong to consumers
	if kind, err := wire.Peek(data); err == nil && kind == wire.TypeResponse {
		return
	}
	if !p.touch() {
		return
	}
	req, err := wire.DecodeRequest(data)
	if err != nil {
		p.logger.Warn().Err(err).Msg("rejecting malformed request")
		p.rejectMalformed(data, err)
		return
	}
	p.logger.Debug().
		Str("op", string(req.OperationType)).
		Str("path", req.PropertyPath).
		Str("request", req.RequestID).
		Msg("request")

	p.serve(req)
}

// rejectMalformed answers a request that failed validation when it still
// carries enough to be addressed.
func (p *Provider) rejectMalformed(data []byte, cause error) {
	var head struct {
		RequestID  string `cbor:"requestID"`
		ConsumerID string `cbor:"consumerID"`
	}
	if err := wire.Unmarshal(data, &head); err != nil || head.RequestID == "" {
		return
	}
	req := &wire.Request{RequestID: head.RequestID, ConsumerID: head.ConsumerID}
	p.send(wire.NewErrorResponse(req, p.id, cause))
}

// pending is the part of a request that may block: invoking a func or
// forwarding to a peer. It runs off the delivery goroutine and must not touch
// the target's fields or entries.
type pending func() (wire.WrappedArgument, error)

// serve answers req. Validation, the path walk and every read or write of the
// target happen here on the delivery goroutine, so they are serialized per
// channel; only a pending step is handed to its own goroutine.
func (p *Provider) serve(req *wire.Request) {
	result, next, err := p.execute(req)
	if next != nil {
		go func() {
			result, err := p.finish(next)
			p.respond(req, result, err)
		}()
		return
	}
	p.respond(req, result, err)
}

func (p *Provider) finish(next pending) (result wire.WrappedArgument, err error) {
	defer p.recoverTarget(&err)
	return next()
}

func (p *Provider) recoverTarget(err *error) {
	if rec := recover(); rec != nil {
		p.logger.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("target panicked")
		*err = fmt.Errorf("panic: %v", rec)
	}
}

func (p *Provider) respond(req *wire.Request, result wire.WrappedArgument, err error) {
	var resp *wire.Response
	if err == nil {
		resp, err = wire.NewResultResponse(req, p.id, result)
	}
	if err != nil {
		p.logger.Debug().Err(err).Str("request", req.RequestID).Msg("request failed")
		resp = wire.NewErrorResponse(req, p.id, err)
	}
	p.send(resp)

	if req.OperationType == wire.OpGCCollect && p.Consumers() == 0 {
		p.release("collected")
	}
}

func (p *Provider) send(resp *wire.Response) {
	data, err := wire.Marshal(resp)
	if err != nil {
		p.logger.Error().Err(err).Msg("encode response")
		return
	}
	if err := p.channel.PostMessage(data); err != nil {
		p.logger.Warn().Err(err).Str("request", resp.RequestID).Msg("send response")
	}
}

func (p *Provider) execute(req *wire.Request) (result wire.WrappedArgument, next pending, err error) {
	defer p.recoverTarget(&err)

	op := req.OperationType
	if !op.Known() {
		return result, nil, wire.NewProtocolErrorf(wire.CodeUnknownOperation, "%q", op)
	}

	segments := wire.SplitPath(req.PropertyPath)
	walk := segments
	if op == wire.OpSet {
		if !p.opts.AllowWrite {
			return result, nil, wire.NewProtocolError(wire.CodeWriteDisabled)
		}
		if len(segments) == 0 {
			return result, nil, wire.NewProtocolError(wire.CodeSetRoot)
		}
		walk = segments[:len(segments)-1]
	}
	for _, seg := range walk {
		if forbiddenSegment(seg) {
			return result, nil, wire.NewProtocolErrorf(wire.CodeForbiddenPath, "segment %q", seg)
		}
	}
	cur, err := navigate(p.root, walk)
	if err != nil {
		return result, nil, err
	}

	switch op {
	case wire.OpAwait:
		return p.await(cur)
	case wire.OpCall:
		next, err = p.call(cur, req.Args, false)
		return result, next, err
	case wire.OpConstruct:
		next, err = p.call(cur, req.Args, true)
		return result, next, err
	case wire.OpSet:
		return p.set(cur, segments[len(segments)-1], req.Args)
	case wire.OpGCRegister, wire.OpGCCollect:
		result, err = p.registry(op, req.Args)
		return result, nil, err
	default: // ping
		result, err = wire.NewRaw(true)
		return result, nil, err
	}
}

func (p *Provider) await(cur reflect.Value) (wire.WrappedArgument, pending, error) {
	if rem := remoteOf(cur); rem != nil {
		return wire.WrappedArgument{}, func() (wire.WrappedArgument, error) {
			v, err := rem.Await(p.ctx)
			if err != nil {
				return wire.WrappedArgument{}, err
			}
			return p.realm.wrap(p.channel, v, false, p.wrapConfig())
		}, nil
	}
	result, err := p.realm.wrap(p.channel, interfaceOf(cur), false, p.wrapConfig())
	return result, nil, err
}

// call resolves the func at cur and returns the step that invokes it. byRef
// forces the result to travel as a live reference, as construct requires.
func (p *Provider) call(cur reflect.Value, raw []wire.WrappedArgument, byRef bool) (pending, error) {
	args, err := p.unwrapArgs(raw)
	if err != nil {
		return nil, err
	}

	if rem := remoteOf(cur); rem != nil {
		forward := make([]any, len(args))
		for i, a := range args {
			forward[i] = a
		}
		return func() (wire.WrappedArgument, error) {
			var v *Value
			var err error
			if byRef {
				v, err = rem.Construct(p.ctx, forward...)
			} else {
				v, err = rem.Call(p.ctx, forward...)
			}
			if err != nil {
				return wire.WrappedArgument{}, err
			}
			return p.realm.wrap(p.channel, v, byRef, p.wrapConfig())
		}, nil
	}

	fn := indirectInterface(cur)
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, wire.NewProtocolError(wire.CodeNotCallable)
	}
	// detach from the field or entry it was read from
	fn = reflect.ValueOf(fn.Interface())
	return func() (wire.WrappedArgument, error) {
		result, err := invoke(p.ctx, fn, args)
		if err != nil {
			return wire.WrappedArgument{}, err
		}
		return p.realm.wrap(p.channel, result, byRef, p.wrapConfig())
	}, nil
}

func (p *Provider) set(parent reflect.Value, name string, raw []wire.WrappedArgument) (wire.WrappedArgument, pending, error) {
	if forbiddenSegment(name) {
		return wire.WrappedArgument{}, nil, wire.NewProtocolErrorf(wire.CodeForbiddenWrite, "property %q", name)
	}
	if len(raw) == 0 {
		return wire.WrappedArgument{}, nil, wire.NewProtocolErrorf(wire.CodeMalformedRequest, "set without a value")
	}
	val, err := p.realm.unwrap(raw[0], p.wrapConfig())
	if err != nil {
		return wire.WrappedArgument{}, nil, err
	}
	if rem := remoteOf(parent); rem != nil {
		return wire.WrappedArgument{}, func() (wire.WrappedArgument, error) {
			if err := rem.Set(p.ctx, name, val); err != nil {
				return wire.WrappedArgument{}, err
			}
			return wire.NewRaw(true)
		}, nil
	}
	if err := assign(p.ctx, parent, name, val); err != nil {
		return wire.WrappedArgument{}, nil, err
	}
	result, err := wire.NewRaw(true)
	return result, nil, err
}

func (p *Provider) unwrapArgs(raw []wire.WrappedArgument) ([]*Value, error) {
	args := make([]*Value, len(raw))
	for i, a := range raw {
		v, err := p.realm.unwrap(a, p.wrapConfig())
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}
