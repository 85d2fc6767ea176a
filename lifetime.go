package farcall

import (
	"runtime"

	"github.com/machinefabric/farcall-go/wire"
)

// newRootRemote creates the handle that anchors c. Every handle derived from
// c shares this root; once it is unreachable the cleanup withdraws the
// consumer with gc-collect, as Release does deterministically. The cleanup
// argument is the consumer, which never points back at its handles.
func newRootRemote(c *consumer) *Remote {
	rem := &Remote{c: c}
	runtime.AddCleanup(rem, func(c *consumer) { c.release("collected") }, c)
	return rem
}

// registry applies gc-register and gc-collect. args[0] is the consumer id.
// A provider whose registry empties after a collect stops listening; its idle
// timer bounds the wait when a collect never arrives.
func (p *Provider) registry(op wire.OperationType, args []wire.WrappedArgument) (wire.WrappedArgument, error) {
	if len(args) == 0 || args[0].Type != wire.ArgRaw {
		return wire.WrappedArgument{}, wire.NewProtocolErrorf(wire.CodeMalformedRequest, "%s without consumer id", op)
	}
	var id string
	if err := wire.Unmarshal(args[0].Value, &id); err != nil || id == "" {
		return wire.WrappedArgument{}, wire.NewProtocolErrorf(wire.CodeMalformedRequest, "%s without consumer id", op)
	}

	p.mu.Lock()
	if op == wire.OpGCRegister {
		p.consumers[id] = struct{}{}
	} else {
		delete(p.consumers, id)
	}
	n := len(p.consumers)
	p.mu.Unlock()

	p.logger.Debug().Str("op", string(op)).Str("consumer", id).Int("consumers", n).Msg("registry")
	return wire.NewRaw(true)
}
