package farcall

import (
	"context"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/machinefabric/farcall-go/wire"
)

type valueKind int

const (
	valueRaw valueKind = iota
	valueLocal
	valueRemote
)

var valueType = reflect.TypeOf((*Value)(nil))

// Value is a result or argument received from the peer. It is either a copy
// of plain data, a live reference to a peer object, or one of our own
// objects that made a round trip.
type Value struct {
	kind  valueKind
	data  cbor.RawMessage
	local any
	ref   *Remote
}

// IsRemote reports whether the value is a live reference.
func (v *Value) IsRemote() bool {
	return v != nil && v.kind == valueRemote
}

// Remote returns the live reference, or nil when the value was copied.
func (v *Value) Remote() *Remote {
	if v == nil {
		return nil
	}
	return v.ref
}

// Interface returns the value in its generic form: maps decode as
// map[string]any, references as *Remote.
func (v *Value) Interface() any {
	if v == nil {
		return nil
	}
	switch v.kind {
	case valueLocal:
		return v.local
	case valueRemote:
		return v.ref
	}
	var out any
	if err := wire.Unmarshal(v.data, &out); err != nil {
		return nil
	}
	return out
}

// Decode stores the value in the variable out points to. Func variables
// receiving a reference get an adapter that calls the peer.
func (v *Value) Decode(out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", out)
	}
	x, err := v.convert(rv.Type().Elem())
	if err != nil {
		return err
	}
	rv.Elem().Set(x)
	return nil
}

// As decodes v into a T.
func As[T any](v *Value) (T, error) {
	var out T
	err := v.Decode(&out)
	return out, err
}

func (v *Value) convert(t reflect.Type) (reflect.Value, error) {
	if t == valueType {
		return reflect.ValueOf(v), nil
	}
	if v == nil {
		return reflect.Zero(t), nil
	}
	switch v.kind {
	case valueLocal:
		if v.local == nil {
			return reflect.Zero(t), nil
		}
		x := reflect.ValueOf(v.local)
		if !x.Type().AssignableTo(t) {
			return reflect.Value{}, decodeError(fmt.Errorf("cannot use %s as %s", x.Type(), t))
		}
		return x.Convert(t), nil
	case valueRemote:
		switch {
		case t == remoteType:
			return reflect.ValueOf(v.ref), nil
		case t.Kind() == reflect.Func:
			return remoteFunc(v.ref, t), nil
		case remoteType.AssignableTo(t):
			return reflect.ValueOf(v.ref).Convert(t), nil
		}
		return reflect.Value{}, decodeError(fmt.Errorf("cannot use remote reference as %s", t))
	}
	if v.isNull() {
		return reflect.Zero(t), nil
	}
	if t == remoteType || t.Kind() == reflect.Func {
		return reflect.Value{}, decodeError(fmt.Errorf("cannot use copied value as %s", t))
	}
	ptr := reflect.New(t)
	if err := wire.Unmarshal(v.data, ptr.Interface()); err != nil {
		return reflect.Value{}, decodeError(err)
	}
	return ptr.Elem(), nil
}

// isNull reports a copied CBOR null or undefined.
func (v *Value) isNull() bool {
	return len(v.data) == 1 && (v.data[0] == 0xf6 || v.data[0] == 0xf7)
}

// elements splits a copied array into one Value per element.
func (v *Value) elements() ([]*Value, error) {
	if v == nil || v.kind != valueRaw {
		return nil, decodeError(fmt.Errorf("expected a copied list"))
	}
	var parts []cbor.RawMessage
	if err := wire.Unmarshal(v.data, &parts); err != nil {
		return nil, decodeError(err)
	}
	out := make([]*Value, len(parts))
	for i, p := range parts {
		out[i] = &Value{kind: valueRaw, data: p}
	}
	return out, nil
}

func decodeError(err error) *CallError {
	return &CallError{Type: CallErrorTypeDecode, Message: err.Error(), Err: err}
}

// remoteFunc builds a func of type ft that forwards its arguments to rem. A
// leading context.Context argument bounds the call. Failures surface through
// a trailing error result, or as a panic when ft has none.
func remoteFunc(rem *Remote, ft reflect.Type) reflect.Value {
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if ft.NumIn() > 0 && ft.In(0) == contextType {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			in = in[1:]
		}
		args := make([]any, 0, len(in))
		for i, x := range in {
			if ft.IsVariadic() && i == len(in)-1 {
				for j := 0; j < x.Len(); j++ {
					args = append(args, x.Index(j).Interface())
				}
				continue
			}
			args = append(args, x.Interface())
		}
		v, err := rem.Call(ctx, args...)
		return funcResults(ft, v, err)
	})
}

func funcResults(ft reflect.Type, v *Value, err error) []reflect.Value {
	n := ft.NumOut()
	out := make([]reflect.Value, n)
	for i := range out {
		out[i] = reflect.Zero(ft.Out(i))
	}
	values := n
	hasErr := n > 0 && ft.Out(n-1) == errorType
	if hasErr {
		values--
	}

	if err == nil {
		switch {
		case values == 1:
			var x reflect.Value
			if x, err = v.convert(ft.Out(0)); err == nil {
				out[0] = x
			}
		case values > 1:
			var parts []*Value
			if parts, err = v.elements(); err == nil {
				for i := 0; i < values && i < len(parts); i++ {
					var x reflect.Value
					if x, err = parts[i].convert(ft.Out(i)); err != nil {
						break
					}
					out[i] = x
				}
			}
		}
	}

	if err != nil {
		if !hasErr {
			panic(err)
		}
		out[n-1] = reflect.ValueOf(&err).Elem()
	}
	return out
}
