package farcall

import (
	"context"
	"fmt"
	"reflect"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// invoke calls fn with args decoded into its parameter types. A leading
// context.Context parameter receives ctx. Missing arguments are zero values
// and surplus arguments of non-variadic funcs are ignored. A non-nil trailing
// error result is returned as the error; several other results come back as
// a []any.
func invoke(ctx context.Context, fn reflect.Value, args []*Value) (any, error) {
	ft := fn.Type()
	in := make([]reflect.Value, 0, ft.NumIn())
	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		in = append(in, reflect.ValueOf(&ctx).Elem())
		first = 1
	}
	fixed := ft.NumIn() - first
	if ft.IsVariadic() {
		fixed--
	}

	for i := 0; i < fixed; i++ {
		t := ft.In(first + i)
		if i >= len(args) {
			in = append(in, reflect.Zero(t))
			continue
		}
		x, err := args[i].convert(t)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, x)
	}
	if ft.IsVariadic() {
		elem := ft.In(ft.NumIn() - 1).Elem()
		for i := fixed; i < len(args); i++ {
			x, err := args[i].convert(elem)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, x)
		}
	}

	return results(ft, fn.Call(in))
}

func results(ft reflect.Type, out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && ft.Out(n-1) == errorType {
		if err, _ := out[n-1].Interface().(error); err != nil {
			return nil, err
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	}
	values := make([]any, len(out))
	for i, x := range out {
		values[i] = x.Interface()
	}
	return values, nil
}
