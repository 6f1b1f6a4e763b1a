package kiln

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/junioryono/kiln/internal/compiler"
	"github.com/junioryono/kiln/internal/graph"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// Typed errors below match these through errors.Is, so callers can test for a
// whole family without knowing the concrete kind.

var (
	// ErrConfiguration matches every error caused by the rules or bindings
	// rather than by the code being constructed.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderMisuse matches deferred handles used before their target is
	// ready or during their own construction.
	ErrProviderMisuse = errors.New("provider misuse")

	ErrNilKey        = errors.New("key type cannot be nil")
	ErrNilInstance   = errors.New("instance cannot be nil")
	ErrInvalidConfig = errors.New("invalid configuration")
)

var (
	_ error = (*Error)(nil)
	_ error = AmbiguousBindingError{}
	_ error = AmbiguousConstructorError{}
	_ error = NoConstructorError{}
	_ error = UnknownScopeAnnotationError{}
	_ error = MultipleScopeAnnotationsError{}
	_ error = ImmutableFieldError{}
	_ error = AbstractMethodError{}
	_ error = InvalidMethodError{}
	_ error = InvalidBindingError{}
	_ error = RecursiveRecipeCreationError{}
	_ error = ProviderNotReadyError{}
	_ error = ProviderReentrantError{}
	_ error = AssemblyReentrantError{}
	_ error = OutOfScopeError{}
	_ error = NoRecipeFoundError{}
	_ error = ModuleError{}
)

// Type aliases for error types raised by internal packages.
type (
	// UserCodeError is a failure or panic escaping a constructor, an injected
	// method, a factory or a listener. The original cause is kept intact.
	UserCodeError = compiler.InvocationError

	// CompilationError reports a plan that cannot become a compiled unit.
	CompilationError = compiler.CompilationError

	// ConversionError reports a checked boundary conversion that failed.
	ConversionError = compiler.ConversionError

	// CircularDependencyError reports a cycle among recorded dependency edges.
	CircularDependencyError = graph.CircularDependencyError
)

// Error is the root of every failure returned by an Injector. It names the
// operation, the requested key and the chain of keys being assembled or
// constructed when the failure happened.
type Error struct {
	Op    string
	Key   Key
	Chain []Key
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kiln: %s %s", e.Op, e.Key)
	if e.Key.Point != nil {
		fmt.Fprintf(&b, " (%s)", e.Key.Point)
	}
	fmt.Fprintf(&b, ": %v", e.Err)

	if len(e.Chain) > 1 {
		parts := make([]string, len(e.Chain))
		for i, k := range e.Chain {
			parts[i] = k.String()
		}
		fmt.Fprintf(&b, "\n\tdependency chain: %s", strings.Join(parts, " -> "))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Causes flattens the cause tree of err, err itself first. Both single and
// multi-error wrapping are followed.
func Causes(err error) []error {
	var out []error
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		out = append(out, e)
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}

// ========================================
// Configuration Errors
// ========================================

// AmbiguousBindingError indicates more than one static binding matches a key.
type AmbiguousBindingError struct {
	Key      Key
	Bindings []string
}

func (e AmbiguousBindingError) Error() string {
	return fmt.Sprintf("ambiguous bindings for %s: %s", e.Key, strings.Join(e.Bindings, ", "))
}

func (e AmbiguousBindingError) Is(target error) bool { return target == ErrConfiguration }

// AmbiguousConstructorError indicates two or more instantiators share the
// highest priority for a type.
type AmbiguousConstructorError struct {
	Type       reflect.Type
	Priority   int
	Candidates []string
}

func (e AmbiguousConstructorError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ambiguous constructors for %s at priority %d:\n", formatType(e.Type), e.Priority)
	for _, c := range e.Candidates {
		fmt.Fprintf(&b, "  • %s\n", c)
	}
	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Register only one constructor for the type\n")
	b.WriteString("  • Bind the type explicitly to the constructor you want\n")
	return b.String()
}

func (e AmbiguousConstructorError) Is(target error) bool { return target == ErrConfiguration }

// NoConstructorError indicates no instantiator rule accepted any candidate.
type NoConstructorError struct {
	Type reflect.Type
}

func (e NoConstructorError) Error() string {
	return fmt.Sprintf("no usable constructor for %s", formatType(e.Type))
}

func (e NoConstructorError) Is(target error) bool { return target == ErrConfiguration }

// UnknownScopeAnnotationError indicates a scope annotation with no scope mapped to it.
type UnknownScopeAnnotationError struct {
	Type       reflect.Type
	Annotation reflect.Type
}

func (e UnknownScopeAnnotationError) Error() string {
	return fmt.Sprintf("%s carries scope annotation %s, which is not bound to a scope",
		formatType(e.Type), formatType(e.Annotation))
}

func (e UnknownScopeAnnotationError) Is(target error) bool { return target == ErrConfiguration }

// MultipleScopeAnnotationsError indicates a type carries more than one scope annotation.
type MultipleScopeAnnotationsError struct {
	Type        reflect.Type
	Annotations []reflect.Type
}

func (e MultipleScopeAnnotationsError) Error() string {
	names := make([]string, len(e.Annotations))
	for i, a := range e.Annotations {
		names[i] = formatType(a)
	}
	return fmt.Sprintf("%s carries more than one scope annotation: %s", formatType(e.Type), strings.Join(names, ", "))
}

func (e MultipleScopeAnnotationsError) Is(target error) bool { return target == ErrConfiguration }

// ImmutableFieldError indicates a field marked for injection that cannot be set.
type ImmutableFieldError struct {
	Owner reflect.Type
	Field string
}

func (e ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %s of %s is marked for injection but is unexported", e.Field, formatType(e.Owner))
}

func (e ImmutableFieldError) Is(target error) bool { return target == ErrConfiguration }

// AbstractMethodError indicates an injected method with no implementation behind it.
type AbstractMethodError struct {
	Owner  reflect.Type
	Method string
}

func (e AbstractMethodError) Error() string {
	return fmt.Sprintf("method %s of %s is marked for injection but only an embedded interface provides it",
		e.Method, formatType(e.Owner))
}

func (e AbstractMethodError) Is(target error) bool { return target == ErrConfiguration }

// InvalidMethodError indicates a method marked for injection that cannot be called.
type InvalidMethodError struct {
	Owner  reflect.Type
	Method string
	Reason string
}

func (e InvalidMethodError) Error() string {
	return fmt.Sprintf("method %s of %s cannot be injected: %s", e.Method, formatType(e.Owner), e.Reason)
}

func (e InvalidMethodError) Is(target error) bool { return target == ErrConfiguration }

// InvalidBindingError indicates a binding or constructor that cannot be used.
type InvalidBindingError struct {
	Binding string
	Cause   error
}

func (e InvalidBindingError) Error() string {
	return fmt.Sprintf("invalid binding %s: %v", e.Binding, e.Cause)
}

func (e InvalidBindingError) Unwrap() error { return e.Cause }

func (e InvalidBindingError) Is(target error) bool { return target == ErrConfiguration }

// ModuleError wraps errors from module registration.
type ModuleError struct {
	Module string
	Cause  error
}

func (e ModuleError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e ModuleError) Unwrap() error {
	return e.Cause
}

// ========================================
// Cycle and Provider Errors
// ========================================

// RecursiveRecipeCreationError indicates a binding whose assembly needs itself.
// Chain starts at the outermost binding and ends with the repeated one.
type RecursiveRecipeCreationError struct {
	Chain []Key
}

func (e RecursiveRecipeCreationError) Error() string {
	var b strings.Builder
	b.WriteString("recursive recipe creation:\n\n")
	for i, k := range e.Chain {
		fmt.Fprintf(&b, "    %s\n", k)
		if i < len(e.Chain)-1 {
			b.WriteString("      ↓\n")
		}
	}
	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Depend on a provider function such as func() (T, error) instead of T\n")
	b.WriteString("  • Restructure to remove the circular relationship\n")
	return b.String()
}

// ProviderNotReadyError indicates a deferred handle used while its target is
// still being assembled.
type ProviderNotReadyError struct {
	Key Key
}

func (e ProviderNotReadyError) Error() string {
	return fmt.Sprintf("provider for %s used before its recipe is ready", e.Key)
}

func (e ProviderNotReadyError) Is(target error) bool { return target == ErrProviderMisuse }

// ProviderReentrantError indicates a request for an instance from inside its
// own construction.
type ProviderReentrantError struct {
	Key Key
}

func (e ProviderReentrantError) Error() string {
	return fmt.Sprintf("%s requested during its own construction", e.Key)
}

func (e ProviderReentrantError) Is(target error) bool { return target == ErrProviderMisuse }

// AssemblyReentrantError indicates a rule requested an unassembled key from
// the injector while that injector was assembling recipes.
type AssemblyReentrantError struct {
	Key Key
}

func (e AssemblyReentrantError) Error() string {
	return fmt.Sprintf("%s requested by a rule during recipe assembly", e.Key)
}

func (e AssemblyReentrantError) Is(target error) bool { return target == ErrConfiguration }

// ========================================
// Resolution Errors
// ========================================

// OutOfScopeError indicates a scoped instance requested with no active session.
type OutOfScopeError struct {
	Scope string
	Key   Key
}

func (e OutOfScopeError) Error() string {
	return fmt.Sprintf("%s is %s scoped but no %s session is active", e.Key, e.Scope, e.Scope)
}

// NoRecipeFoundError indicates no rule or binding can produce a key.
type NoRecipeFoundError struct {
	Key Key
}

func (e NoRecipeFoundError) Error() string {
	if e.Key.Point != nil {
		return fmt.Sprintf("no recipe for %s, required by %s", e.Key, e.Key.Point)
	}
	return fmt.Sprintf("no recipe for %s", e.Key)
}

// ========================================
// Classification Helpers
// ========================================

// IsConfigurationError reports whether err is caused by the rules or bindings.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsProviderMisuse reports whether err is caused by a misused deferred handle.
func IsProviderMisuse(err error) bool {
	return errors.Is(err, ErrProviderMisuse)
}

// IsOutOfScope reports whether err is caused by a missing scope session.
func IsOutOfScope(err error) bool {
	var target OutOfScopeError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is caused by a key nothing can produce.
func IsNotFound(err error) bool {
	var target NoRecipeFoundError
	return errors.As(err, &target)
}

// IsRecursive reports whether err is caused by recursive recipe creation.
func IsRecursive(err error) bool {
	var target RecursiveRecipeCreationError
	return errors.As(err, &target)
}

// IsUserCode reports whether err escaped user code.
func IsUserCode(err error) bool {
	var target UserCodeError
	return errors.As(err, &target)
}

// errorKind names the family of err for metrics and logs.
func errorKind(err error) string {
	switch {
	case IsRecursive(err):
		return "recursive"
	case IsConfigurationError(err):
		return "configuration"
	case IsProviderMisuse(err):
		return "provider_misuse"
	case IsOutOfScope(err):
		return "out_of_scope"
	case IsNotFound(err):
		return "not_found"
	case IsUserCode(err):
		return "user_code"
	}

	var ce CompilationError
	var cv ConversionError
	switch {
	case errors.As(err, &ce):
		return "compilation"
	case errors.As(err, &cv):
		return "conversion"
	}
	return "other"
}

// formatType formats a reflect.Type for error messages.
func formatType(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "*" + shortPkg(elem.PkgPath()) + "." + elem.Name()
		}
		return t.String()
	case reflect.Slice:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "[]" + shortPkg(elem.PkgPath()) + "." + elem.Name()
		}
		return t.String()
	}

	if t.PkgPath() != "" && t.Name() != "" {
		return shortPkg(t.PkgPath()) + "." + t.Name()
	}
	return t.String()
}

func shortPkg(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
