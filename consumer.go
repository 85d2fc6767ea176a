package farcall

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/machinefabric/farcall-go/mux"
	"github.com/machinefabric/farcall-go/transport"
	"github.com/machinefabric/farcall-go/wire"
	"github.com/rs/zerolog"
)

// consumer issues requests on one channel and settles their responses. It
// is shared by every Remote derived from the same root handle.
type consumer struct {
	id      string
	channel *mux.Channel
	realm   *realm
	opts    ConsumeOptions
	logger  zerolog.Logger
	stop    chan struct{}
	pinging chan struct{} // closed once keepalive pings stopped

	mu      sync.Mutex
	sub     *transport.Subscription
	pending map[string]*pendingCall
	closed  bool
}

type outcome struct {
	resp *wire.Response
	err  error
}

// pendingCall is settled exactly once, by whichever of the response, the
// timeout, the caller's context or a close gets there first.
type pendingCall struct {
	settled atomic.Bool
	done    chan outcome
}

func (pc *pendingCall) settle(o outcome) bool {
	if !pc.settled.CompareAndSwap(false, true) {
		return false
	}
	pc.done <- o
	return true
}

func newConsumer(ch *mux.Channel, opts ConsumeOptions, r *realm) *consumer {
	c := &consumer{
		id:      wire.NewID(),
		channel: ch,
		realm:   r,
		opts:    opts,
		stop:    make(chan struct{}),
		pinging: make(chan struct{}),
		pending: make(map[string]*pendingCall),
	}
	c.logger = componentLogger(opts.Logger, "consumer", opts.Name).With().
		Str("channel", ch.ID()).Logger()
	c.sub = ch.Subscribe(c.handle)
	return c
}

// start registers with the provider and begins keepalive pings.
func (c *consumer) start() {
	c.notify(wire.OpGCRegister)
	if every := c.opts.keepaliveInterval(); every > 0 {
		go c.keepalive(every)
	} else {
		close(c.pinging)
	}
}

func (c *consumer) wrapConfig() wrapConfig {
	return wrapConfig{
		provide: ProvideOptions{Name: c.opts.Name, Logger: c.opts.Logger},
		consume: c.opts,
	}
}

func (c *consumer) handle(data []byte) {
	kind, err := wire.Peek(data)
	if err != nil || kind != wire.TypeResponse {
		return
	}
	resp, err := wire.DecodeResponse(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed response")
		return
	}
	if resp.ConsumerID != c.id {
		return
	}

	c.mu.Lock()
	pc := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	c.mu.Unlock()

	if pc == nil {
		c.logger.Debug().Str("request", resp.RequestID).Msg("dropping response for unknown request")
		return
	}
	pc.settle(outcome{resp: resp})
}

// request wraps args and performs one round trip.
func (c *consumer) request(ctx context.Context, op wire.OperationType, path []string, args []any) (*Value, error) {
	cfg := c.wrapConfig()
	wrapped := make([]wire.WrappedArgument, len(args))
	for i, a := range args {
		w, err := c.realm.wrap(c.channel, a, false, cfg)
		if err != nil {
			return nil, &CallError{Type: CallErrorTypeEncode, Message: fmt.Sprintf("argument %d: %v", i, err), Err: err}
		}
		wrapped[i] = w
	}
	return c.roundTrip(ctx, op, path, wrapped)
}

func (c *consumer) roundTrip(ctx context.Context, op wire.OperationType, path []string, args []wire.WrappedArgument) (*Value, error) {
	req := c.newRequest(op, path, args)
	data, err := wire.Marshal(req)
	if err != nil {
		return nil, &CallError{Type: CallErrorTypeEncode, Message: err.Error(), Err: err}
	}

	pc := &pendingCall{done: make(chan outcome, 1)}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, closedError()
	}
	c.pending[req.RequestID] = pc
	c.mu.Unlock()

	var timeout <-chan time.Time
	if c.opts.Timeout > 0 {
		timer := time.NewTimer(c.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	if err := c.channel.PostMessage(data); err != nil {
		c.forget(req.RequestID)
		return nil, &CallError{Type: CallErrorTypeTransport, Message: err.Error(), Err: err}
	}

	select {
	case o := <-pc.done:
		return c.resolve(o)
	case <-timeout:
		pc.settle(outcome{err: &CallError{
			Type:    CallErrorTypeTimeout,
			Message: fmt.Sprintf("%s %q after %s", op, req.PropertyPath, c.opts.Timeout),
		}})
	case <-ctx.Done():
		pc.settle(outcome{err: &CallError{Type: CallErrorTypeCanceled, Message: ctx.Err().Error(), Err: ctx.Err()}})
	}
	c.forget(req.RequestID)
	return c.resolve(<-pc.done)
}

func (c *consumer) newRequest(op wire.OperationType, path []string, args []wire.WrappedArgument) *wire.Request {
	if args == nil {
		args = []wire.WrappedArgument{}
	}
	return &wire.Request{
		Type:          wire.TypeRequest,
		RequestID:     wire.NewID(),
		ConsumerID:    c.id,
		RealmID:       c.realm.id,
		OperationType: op,
		PropertyPath:  wire.JoinPath(path),
		Args:          args,
	}
}

func (c *consumer) resolve(o outcome) (*Value, error) {
	if o.err != nil {
		return nil, o.err
	}
	if o.resp.ResultType == wire.ResultError {
		payload, err := o.resp.Error()
		if err != nil {
			return nil, decodeError(err)
		}
		return nil, errorFromPayload(payload)
	}
	arg, err := o.resp.Argument()
	if err != nil {
		return nil, decodeError(err)
	}
	v, err := c.realm.unwrap(arg, c.wrapConfig())
	if err != nil {
		if perr, ok := err.(*wire.ProtocolError); ok {
			return nil, &CallError{Type: CallErrorTypeValidation, Code: perr.Code, Message: perr.Error(), Err: err}
		}
		return nil, decodeError(err)
	}
	return v, nil
}

func (c *consumer) forget(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// notify posts a lifetime message whose response nobody waits for. The
// consumer id is the only argument.
func (c *consumer) notify(op wire.OperationType) {
	id, err := wire.NewRaw(c.id)
	if err != nil {
		return
	}
	data, err := wire.Marshal(c.newRequest(op, nil, []wire.WrappedArgument{id}))
	if err != nil {
		c.logger.Error().Err(err).Msg("encode lifetime message")
		return
	}
	if err := c.channel.PostMessage(data); err != nil {
		c.logger.Debug().Err(err).Str("op", string(op)).Msg("lifetime message not sent")
	}
}

// keepalive pings until the first failure or until the consumer closes.
// A failed ping does not close the consumer.
func (c *consumer) keepalive(every time.Duration) {
	defer close(c.pinging)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			_, err := c.roundTrip(ctx, wire.OpPing, nil, nil)
			cancel()
			if err != nil {
				c.logger.Warn().Err(err).Msg("keepalive failed, pings stopped")
				return
			}
		}
	}
}

func (c *consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// release withdraws from the provider and rejects calls still pending.
func (c *consumer) release(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	sub := c.sub
	c.mu.Unlock()

	close(c.stop)
	c.channel.Unsubscribe(sub)
	for _, pc := range pending {
		pc.settle(outcome{err: closedError()})
	}
	c.notify(wire.OpGCCollect)
	c.realm.forgetRemote(c)
	c.logger.Debug().Str("reason", reason).Msg("consumer released")
}
