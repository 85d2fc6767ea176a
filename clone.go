package farcall

import (
	"reflect"
	"time"
	"unsafe"
)

var (
	remoteType = reflect.TypeOf((*Remote)(nil))
	timeType   = reflect.TypeOf(time.Time{})
)

// clonable reports whether v can travel by copy: plain data made of scalars,
// strings, dates, slices, arrays, string keyed maps and structs without
// methods, with no cycles. A date on its own is left to the date codec.
func clonable(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if isTime(rv.Type()) && !(rv.Kind() == reflect.Pointer && rv.IsNil()) {
		return false
	}
	return clonableValue(rv, map[uintptr]bool{})
}

func isTime(t reflect.Type) bool {
	return t == timeType || (t.Kind() == reflect.Pointer && t.Elem() == timeType)
}

func clonableValue(v reflect.Value, onPath map[uintptr]bool) bool {
	if !v.IsValid() {
		return true
	}
	// nested dates encode as RFC 3339 text
	if isTime(v.Type()) {
		return true
	}
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Interface:
		if v.IsNil() {
			return true
		}
		return clonableValue(v.Elem(), onPath)
	case reflect.Pointer:
		if v.IsNil() {
			return true
		}
		if v.Type() == remoteType || hasBehavior(v.Type()) {
			return false
		}
		return enter(v, onPath, func() bool { return clonableValue(v.Elem(), onPath) })
	case reflect.Struct:
		if hasBehavior(v.Type()) {
			return false
		}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if !clonableValue(v.Field(i), onPath) {
				return false
			}
		}
		return true
	case reflect.Slice:
		if v.IsNil() {
			return true
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return true
		}
		return enter(v, onPath, func() bool { return clonableElems(v, onPath) })
	case reflect.Array:
		return clonableElems(v, onPath)
	case reflect.Map:
		if v.IsNil() {
			return true
		}
		if v.Type().Key().Kind() != reflect.String {
			return false
		}
		return enter(v, onPath, func() bool {
			iter := v.MapRange()
			for iter.Next() {
				if !clonableValue(iter.Value(), onPath) {
					return false
				}
			}
			return true
		})
	default:
		// funcs, channels, complex numbers, unsafe pointers
		return false
	}
}

func clonableElems(v reflect.Value, onPath map[uintptr]bool) bool {
	for i := 0; i < v.Len(); i++ {
		if !clonableValue(v.Index(i), onPath) {
			return false
		}
	}
	return true
}

// enter marks v as being on the current path while check runs. Meeting it
// again below itself is a cycle. Shared but acyclic data is fine.
func enter(v reflect.Value, onPath map[uintptr]bool, check func() bool) bool {
	p := v.Pointer()
	if p == 0 {
		return check()
	}
	if onPath[p] {
		return false
	}
	onPath[p] = true
	ok := check()
	delete(onPath, p)
	return ok
}

// hasBehavior reports whether a struct (or pointer to struct) type declares
// methods, which makes its values objects rather than data.
func hasBehavior(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	return t.NumMethod() > 0 || reflect.PointerTo(t).NumMethod() > 0
}

// identity names a referenceable value for as long as it is alive.
type identity struct {
	typ reflect.Type
	ptr uintptr
}

// identityOf returns the identity of pointer-like values. Funcs are
// identified by their closure, so two evaluations of the same func literal
// are distinct while passing one func value twice is not.
func identityOf(v any) (identity, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Func:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{typ: rv.Type(), ptr: closureOf(v)}, true
	case reflect.Slice:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{typ: rv.Type(), ptr: rv.Pointer()}, true
	}
	return identity{}, false
}

// closureOf returns the data word of an interface holding a func, which is
// the closure pointer. reflect.Value.Pointer only yields the code pointer.
func closureOf(fn any) uintptr {
	type eface struct {
		typ  unsafe.Pointer
		data unsafe.Pointer
	}
	return uintptr((*eface)(unsafe.Pointer(&fn)).data)
}
