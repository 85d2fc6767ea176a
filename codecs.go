package farcall

import (
	"fmt"
	"sync"
	"time"

	"github.com/machinefabric/farcall-go/wire"
)

// ValueCodec carries values that are neither plain data nor worth a live
// reference. The encoded form must itself be plain data.
type ValueCodec interface {
	// Name is the wire tag. "raw" and "wrapped" are reserved.
	Name() string
	Accepts(v any) bool
	Encode(v any) (any, error)
	// Decode receives the CBOR encoding of what Encode returned.
	Decode(data []byte) (any, error)
}

var (
	codecMu  sync.RWMutex
	codecs   []ValueCodec
	byCodecs = map[string]ValueCodec{}
)

func init() {
	RegisterCodec(dateCodec{})
}

// RegisterCodec adds c to the process-wide codec table. Registering a name
// twice replaces the earlier codec.
func RegisterCodec(c ValueCodec) {
	name := c.Name()
	if name == wire.ArgRaw || name == wire.ArgWrapped || name == "" {
		panic(fmt.Sprintf("farcall: reserved codec name %q", name))
	}
	codecMu.Lock()
	defer codecMu.Unlock()
	if _, ok := byCodecs[name]; ok {
		for i, existing := range codecs {
			if existing.Name() == name {
				codecs = append(codecs[:i:i], codecs[i+1:]...)
				break
			}
		}
	}
	codecs = append(codecs, c)
	byCodecs[name] = c
}

func codecFor(v any) ValueCodec {
	codecMu.RLock()
	defer codecMu.RUnlock()
	for _, c := range codecs {
		if c.Accepts(v) {
			return c
		}
	}
	return nil
}

func codecNamed(name string) ValueCodec {
	codecMu.RLock()
	defer codecMu.RUnlock()
	return byCodecs[name]
}

func encodeWithCodec(c ValueCodec, v any) (wire.WrappedArgument, error) {
	repr, err := c.Encode(v)
	if err != nil {
		return wire.WrappedArgument{}, fmt.Errorf("codec %s: %w", c.Name(), err)
	}
	data, err := wire.Marshal(repr)
	if err != nil {
		return wire.WrappedArgument{}, fmt.Errorf("codec %s: %w", c.Name(), err)
	}
	return wire.WrappedArgument{Type: c.Name(), Value: data}, nil
}

// dateCodec sends time.Time as milliseconds since the Unix epoch.
type dateCodec struct{}

func (dateCodec) Name() string { return "date" }

func (dateCodec) Accepts(v any) bool {
	switch v.(type) {
	case time.Time, *time.Time:
		return true
	}
	return false
}

func (dateCodec) Encode(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), nil
	case *time.Time:
		if t == nil {
			return nil, fmt.Errorf("nil time")
		}
		return t.UnixMilli(), nil
	}
	return nil, fmt.Errorf("not a time: %T", v)
}

func (dateCodec) Decode(data []byte) (any, error) {
	var ms int64
	if err := wire.Unmarshal(data, &ms); err != nil {
		return nil, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
