package compiler

import (
	"fmt"
	"reflect"
	"strings"
)

var (
	_ error = InvocationError{}
	_ error = CompilationError{}
	_ error = ConversionError{}
)

// InvocationError reports a failure raised by user code: a constructor, an injected
// method, a factory or a listener. Either Err or Panic is set.
type InvocationError struct {
	Site  string
	Err   error
	Panic any
	Stack []byte
}

func (e InvocationError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("%s panicked: %v", e.Site, e.Panic)
	}
	return fmt.Sprintf("%s failed: %v", e.Site, e.Err)
}

func (e InvocationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if err, ok := e.Panic.(error); ok {
		return err
	}
	return nil
}

// CompilationError reports a plan that cannot be turned into a unit.
type CompilationError struct {
	Unit   string
	From   reflect.Type
	To     reflect.Type
	Reason string
}

func (e CompilationError) Error() string {
	var b strings.Builder
	b.WriteString("compilation failed")
	if e.Unit != "" {
		fmt.Fprintf(&b, " for %s", e.Unit)
	}
	if e.From != nil || e.To != nil {
		fmt.Fprintf(&b, ": cannot convert %v to %v", e.From, e.To)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// ConversionError reports a checked conversion that failed while a unit ran.
type ConversionError struct {
	From   reflect.Type
	To     reflect.Type
	Value  any
	Reason string
}

func (e ConversionError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("cannot convert %v (%v) to %v: %s", e.Value, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot convert %v to %v: %s", e.From, e.To, e.Reason)
}
