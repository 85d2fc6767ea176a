package farcall

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/machinefabric/farcall-go/wire"
)

// tagName is the struct tag renaming a field on the wire. "-" hides it.
const tagName = "farcall"

var forbiddenSegments = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

func forbiddenSegment(s string) bool {
	return forbiddenSegments[s]
}

// navigate walks segments down from root. A missing member yields the
// invalid Value; stepping into one, or into anything that has no members,
// fails with E005. Reaching a *Remote extends its path with the rest.
func navigate(root reflect.Value, segments []string) (reflect.Value, error) {
	cur := root
	for i, seg := range segments {
		if rem := remoteOf(cur); rem != nil {
			return reflect.ValueOf(rem.at(segments[i:]...)), nil
		}
		next, err := step(cur, seg)
		if err != nil {
			return reflect.Value{}, err
		}
		cur = next
	}
	return cur, nil
}

func step(cur reflect.Value, seg string) (reflect.Value, error) {
	v := indirectInterface(cur)
	if !v.IsValid() {
		return reflect.Value{}, wire.NewProtocolErrorf(wire.CodeForbiddenPath, "cannot read %q of nil", seg)
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Value{}, wire.NewProtocolErrorf(wire.CodeForbiddenPath, "cannot read %q of nil", seg)
		}
		if v.Elem().Kind() == reflect.Struct {
			return member(v.Elem(), v, seg), nil
		}
		if m, ok := method(v, seg); ok {
			return m, nil
		}
		return step(v.Elem(), seg)
	case reflect.Struct:
		var ptr reflect.Value
		if v.CanAddr() {
			ptr = v.Addr()
		}
		return member(v, ptr, seg), nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, wire.NewProtocolErrorf(wire.CodeForbiddenPath, "map keyed by %s", v.Type().Key())
		}
		if x := v.MapIndex(reflect.ValueOf(seg).Convert(v.Type().Key())); x.IsValid() {
			return x, nil
		}
		m, _ := method(v, seg)
		return m, nil
	case reflect.Slice, reflect.Array:
		if i, err := strconv.Atoi(seg); err == nil {
			if i >= 0 && i < v.Len() {
				return v.Index(i), nil
			}
			return reflect.Value{}, nil
		}
		m, _ := method(v, seg)
		return m, nil
	default:
		if m, ok := method(v, seg); ok {
			return m, nil
		}
		return reflect.Value{}, wire.NewProtocolErrorf(wire.CodeForbiddenPath, "cannot read %q of %s", seg, v.Type())
	}
}

// member resolves seg on a struct: tagged field, then field or method by the
// exact name, then by the capitalized name. ptr, when valid, exposes pointer
// receiver methods.
func member(v, ptr reflect.Value, seg string) reflect.Value {
	recv := v
	if ptr.IsValid() {
		recv = ptr
	}
	if f, ok := taggedField(v.Type(), seg); ok {
		if x, err := v.FieldByIndexErr(f.Index); err == nil {
			return x
		}
		return reflect.Value{}
	}
	for _, name := range candidates(seg) {
		if f, ok := v.Type().FieldByName(name); ok && f.IsExported() && f.Tag.Get(tagName) == "" {
			if x, err := v.FieldByIndexErr(f.Index); err == nil {
				return x
			}
			return reflect.Value{}
		}
		if m := recv.MethodByName(name); m.IsValid() {
			return m
		}
	}
	return reflect.Value{}
}

func taggedField(t reflect.Type, seg string) (reflect.StructField, bool) {
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() {
			continue
		}
		if tag := f.Tag.Get(tagName); tag != "" && tag != "-" && tag == seg {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

func method(v reflect.Value, seg string) (reflect.Value, bool) {
	for _, name := range candidates(seg) {
		if m := v.MethodByName(name); m.IsValid() {
			return m, true
		}
	}
	return reflect.Value{}, false
}

// candidates lists the Go names a wire property may refer to.
func candidates(seg string) []string {
	r, size := utf8.DecodeRuneInString(seg)
	upper := unicode.ToUpper(r)
	if r == utf8.RuneError || upper == r {
		return []string{seg}
	}
	return []string{seg, string(upper) + seg[size:]}
}

func indirectInterface(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func remoteOf(v reflect.Value) *Remote {
	v = indirectInterface(v)
	if v.IsValid() && v.Type() == remoteType && !v.IsNil() {
		return v.Interface().(*Remote)
	}
	return nil
}

// interfaceOf returns the Go value held by v, nil for missing members.
func interfaceOf(v reflect.Value) any {
	v = indirectInterface(v)
	if !v.IsValid() {
		return nil
	}
	return v.Interface()
}

// assign stores val under name in parent. Only map entries, settable struct
// fields and slice elements are writable.
func assign(ctx context.Context, parent reflect.Value, name string, val *Value) error {
	if rem := remoteOf(parent); rem != nil {
		return rem.Set(ctx, name, val)
	}
	v := indirectInterface(parent)
	if !v.IsValid() {
		return wire.NewProtocolErrorf(wire.CodeNotWritable, "cannot set %q of nil", name)
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return wire.NewProtocolErrorf(wire.CodeNotWritable, "cannot set %q of nil", name)
		}
		return assign(ctx, v.Elem(), name, val)
	case reflect.Struct:
		field := structField(v, name)
		if !field.IsValid() || !field.CanSet() {
			return wire.NewProtocolErrorf(wire.CodeNotWritable, "field %s", name)
		}
		return setValue(field, val)
	case reflect.Map:
		if v.IsNil() || v.Type().Key().Kind() != reflect.String {
			return wire.NewProtocolErrorf(wire.CodeNotWritable, "map %s", v.Type())
		}
		x, err := val.convert(v.Type().Elem())
		if err != nil {
			return err
		}
		v.SetMapIndex(reflect.ValueOf(name).Convert(v.Type().Key()), x)
		return nil
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(name)
		if err != nil || i < 0 || i >= v.Len() || !v.Index(i).CanSet() {
			return wire.NewProtocolErrorf(wire.CodeNotWritable, "index %s", name)
		}
		return setValue(v.Index(i), val)
	}
	return wire.NewProtocolErrorf(wire.CodeNotWritable, "cannot set %q on %s", name, v.Type())
}

func structField(v reflect.Value, name string) reflect.Value {
	if f, ok := taggedField(v.Type(), name); ok {
		x, _ := v.FieldByIndexErr(f.Index)
		return x
	}
	for _, n := range candidates(name) {
		if f, ok := v.Type().FieldByName(n); ok && f.IsExported() && f.Tag.Get(tagName) == "" {
			x, _ := v.FieldByIndexErr(f.Index)
			return x
		}
	}
	return reflect.Value{}
}

func setValue(dst reflect.Value, val *Value) error {
	x, err := val.convert(dst.Type())
	if err != nil {
		return fmt.Errorf("assign %s: %w", dst.Type(), err)
	}
	dst.Set(x)
	return nil
}
