package compiler

import (
	"math"
	"reflect"
)

type converter func(reflect.Value) (reflect.Value, error)

// Convert returns a node yielding the value of n as type to. Conversions that can
// never succeed fail here; narrowing and interface assertions are checked when the
// unit runs.
func Convert(n *Node, to reflect.Type) (*Node, error) {
	if to == nil || n.Type == to {
		return n, nil
	}

	conv, err := Converter(n.Type, to)
	if err != nil {
		return nil, err
	}

	return &Node{
		Op:      OpConvert,
		Type:    to,
		Kids:    []*Node{n},
		convert: conv,
	}, nil
}

// Converter returns the boundary conversion from values of type from to type to.
func Converter(from, to reflect.Type) (func(reflect.Value) (reflect.Value, error), error) {
	switch {
	case from == to:
		return identity, nil
	case from.AssignableTo(to):
		return assign(to), nil
	case numeric(from) && numeric(to):
		if lossless(from, to) {
			return widen(to), nil
		}
		return narrow(to), nil
	case from.Kind() == reflect.Interface && (to.Kind() == reflect.Interface || to.Implements(from)):
		return assertion(from, to), nil
	}

	return nil, CompilationError{From: from, To: to, Reason: "no boundary conversion exists"}
}

func identity(v reflect.Value) (reflect.Value, error) {
	return v, nil
}

func assign(to reflect.Type) converter {
	return func(v reflect.Value) (reflect.Value, error) {
		if to.Kind() == reflect.Interface {
			out := reflect.New(to).Elem()
			if v.IsValid() {
				out.Set(v)
			}
			return out, nil
		}
		return v.Convert(to), nil
	}
}

func widen(to reflect.Type) converter {
	return func(v reflect.Value) (reflect.Value, error) {
		return v.Convert(to), nil
	}
}

func narrow(to reflect.Type) converter {
	return func(v reflect.Value) (reflect.Value, error) {
		out, ok := checked(v, to)
		if !ok {
			return reflect.Value{}, ConversionError{
				From:   v.Type(),
				To:     to,
				Value:  v.Interface(),
				Reason: "value does not fit",
			}
		}
		return out, nil
	}
}

// checked converts v and reports whether the conversion lost nothing. A value
// survives when converting back yields the original and the sign is kept.
func checked(v reflect.Value, to reflect.Type) (reflect.Value, bool) {
	out := v.Convert(to)

	switch {
	case isInt(v.Type()) && isUint(to) && v.Int() < 0:
		return out, false
	case isUint(v.Type()) && isInt(to) && out.Int() < 0:
		return out, false
	case isFloat(v.Type()) && isFloat(to) && math.IsNaN(v.Float()):
		return out, true
	}

	return out, out.Convert(v.Type()).Equal(v)
}

func assertion(from, to reflect.Type) converter {
	return func(v reflect.Value) (reflect.Value, error) {
		inner := v
		if v.Kind() == reflect.Interface {
			inner = v.Elem()
		}

		if !inner.IsValid() {
			if nilable(to) {
				return reflect.Zero(to), nil
			}
			return reflect.Value{}, ConversionError{From: from, To: to, Reason: "value is nil"}
		}

		it := inner.Type()
		switch {
		case it.AssignableTo(to):
			return assign(to)(inner)
		case numeric(it) && numeric(to):
			if lossless(it, to) {
				return inner.Convert(to), nil
			}
			return narrow(to)(inner)
		}

		return reflect.Value{}, ConversionError{From: it, To: to, Reason: "type assertion failed"}
	}
}

func lossless(from, to reflect.Type) bool {
	fb, tb := from.Bits(), to.Bits()
	switch {
	case isInt(from) && isInt(to), isUint(from) && isUint(to), isFloat(from) && isFloat(to):
		return tb >= fb
	case isUint(from) && isInt(to):
		return tb > fb
	case (isInt(from) || isUint(from)) && isFloat(to):
		if to.Kind() == reflect.Float64 {
			return fb <= 32
		}
		return fb <= 16
	}
	return false
}

func numeric(t reflect.Type) bool {
	return isInt(t) || isUint(t) || isFloat(t)
}

func isInt(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
