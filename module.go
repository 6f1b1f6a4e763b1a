package kiln

import (
	"fmt"
	"reflect"
	"strings"
)

// Module contributes rules and bindings to an injector under construction.
type Module func(*Rules) error

// NewModule groups modules under a name. A failure inside is reported as a
// ModuleError naming it.
//
// Example:
//
//	var StorageModule = kiln.NewModule("storage",
//	    kiln.Provide(NewDatabase, kiln.InScope(kiln.Singleton)),
//	    kiln.Provide(NewReplica, kiln.Qualified(kiln.Named("replica"))),
//	    kiln.Constructor(NewUserRepository),
//	)
//
//	var AppModule = kiln.NewModule("app",
//	    StorageModule,
//	    kiln.Install(kiln.Bind(kiln.KeyOf[Clock](), kiln.ToInstance(systemClock{}))),
//	)
func NewModule(name string, modules ...Module) Module {
	return func(r *Rules) error {
		for _, m := range modules {
			if m == nil {
				continue
			}
			if err := m(r); err != nil {
				return ModuleError{Module: name, Cause: err}
			}
		}
		return nil
	}
}

// BindOption adjusts the static binding Provide creates.
type BindOption func(*bindOptions)

type bindOptions struct {
	qualifiers []Qualifier
	scope      Scope
	as         []reflect.Type
}

// Qualified binds the constructor under the given qualifiers.
func Qualified(q ...Qualifier) BindOption {
	return func(o *bindOptions) {
		o.qualifiers = append(o.qualifiers, q...)
	}
}

// InScope pins the binding to s.
func InScope(s Scope) BindOption {
	return func(o *bindOptions) {
		o.scope = s
	}
}

// As additionally binds the constructor's result under each interface type,
// given as a pointer to the interface: kiln.As(new(io.Writer)).
func As(ifaces ...any) BindOption {
	return func(o *bindOptions) {
		for _, i := range ifaces {
			o.as = append(o.as, reflect.TypeOf(i))
		}
	}
}

// Provide binds the result type of ctor, with the options' qualifiers, to a
// call of ctor. With As the interfaces are linked to that binding, so they
// share its instances.
func Provide(ctor any, opts ...BindOption) Module {
	return func(r *Rules) error {
		var o bindOptions
		for _, opt := range opts {
			opt(&o)
		}

		t := ToConstructor(ctor)
		if t.typ == nil {
			return InvalidBindingError{Binding: fmt.Sprintf("%T", ctor), Cause: fmt.Errorf("constructor must be a function returning a value")}
		}

		k := NewKey(t.typ, o.qualifiers...)
		r.Bindings = append(r.Bindings, Bind(k, t).In(o.scope))

		for _, it := range o.as {
			if it == nil || it.Kind() != reflect.Pointer || it.Elem().Kind() != reflect.Interface {
				return InvalidBindingError{Binding: t.name, Cause: fmt.Errorf("kiln.As(%v): argument must be a pointer to an interface", it)}
			}
			iface := it.Elem()
			if !t.typ.Implements(iface) {
				return InvalidBindingError{Binding: t.name, Cause: fmt.Errorf("%s does not implement %s", formatType(t.typ), formatType(iface))}
			}
			r.Bindings = append(r.Bindings, Bind(NewKey(iface, o.qualifiers...), ToKey(k)))
		}
		return nil
	}
}

// Install adds static bindings.
func Install(bindings ...StaticBinding) Module {
	return func(r *Rules) error {
		for _, b := range bindings {
			if strings.ContainsRune(b.Name, '\n') {
				return InvalidBindingError{Binding: b.Name, Cause: fmt.Errorf("binding names cannot span lines")}
			}
		}
		r.Bindings = append(r.Bindings, bindings...)
		return nil
	}
}

// Constructor registers constructors as instantiation candidates for their
// result types. Unlike Provide they create no binding: the type's derived
// binding picks among its candidates with the instantiator rules.
func Constructor(ctors ...any) Module {
	return func(r *Rules) error {
		for _, c := range ctors {
			if c == nil {
				return InvalidBindingError{Binding: "constructor", Cause: fmt.Errorf("constructor cannot be nil")}
			}
		}
		r.Constructors = append(r.Constructors, ctors...)
		return nil
	}
}

// BindScope maps a scope annotation type to s. annotation is a value of the
// marker type, typically its zero value.
func BindScope(annotation ScopeAnnotation, s Scope) Module {
	return func(r *Rules) error {
		if annotation == nil || s == nil {
			return fmt.Errorf("%w: scope annotation and scope are required", ErrInvalidConfig)
		}
		if r.ScopeAnnotations == nil {
			r.ScopeAnnotations = make(map[reflect.Type]Scope)
		}
		r.ScopeAnnotations[reflect.TypeOf(annotation)] = s
		return nil
	}
}

// DefaultScope sets the scope of bindings no other scope source decides.
func DefaultScope(s Scope) Module {
	return func(r *Rules) error {
		r.DefaultScope = s
		return nil
	}
}

// Listen runs l after member injection of every instance whose type is t or,
// for interface types, implements it.
func Listen(t reflect.Type, l Listener) Module {
	return UseListenerRule(func(produced reflect.Type) (Listener, bool) {
		if produced == t || (t.Kind() == reflect.Interface && produced.Implements(t)) {
			return l, true
		}
		return nil, false
	})
}

// UseCreationRule appends creation rules.
func UseCreationRule(rules ...CreationRule) Module {
	return func(r *Rules) error {
		r.Creation = append(r.Creation, rules...)
		return nil
	}
}

// UseInstantiatorRule prepends instantiator rules, so they are asked before
// the defaults.
func UseInstantiatorRule(rules ...InstantiatorRule) Module {
	return func(r *Rules) error {
		r.Instantiators = append(append([]InstantiatorRule(nil), rules...), r.Instantiators...)
		return nil
	}
}

// UseMembersRule prepends members-injector rules.
func UseMembersRule(rules ...MembersInjectorRule) Module {
	return func(r *Rules) error {
		r.Members = append(append([]MembersInjectorRule(nil), rules...), r.Members...)
		return nil
	}
}

// UseMembersInjectorFactory appends member-injector factories.
func UseMembersInjectorFactory(factories ...MembersInjectorFactory) Module {
	return func(r *Rules) error {
		r.MemberFactories = append(r.MemberFactories, factories...)
		return nil
	}
}

// UseScopeRule appends scope rules.
func UseScopeRule(rules ...ScopeRule) Module {
	return func(r *Rules) error {
		r.Scopes = append(r.Scopes, rules...)
		return nil
	}
}

// UseQualifierExtractor appends required-qualifier extractors.
func UseQualifierExtractor(extractors ...QualifierExtractor) Module {
	return func(r *Rules) error {
		r.RequiredQualifiers = append(r.RequiredQualifiers, extractors...)
		return nil
	}
}

// UseTypeQualifierExtractor appends available-qualifier extractors.
func UseTypeQualifierExtractor(extractors ...TypeQualifierExtractor) Module {
	return func(r *Rules) error {
		r.AvailableQualifiers = append(r.AvailableQualifiers, extractors...)
		return nil
	}
}

// UseListenerRule appends listener rules.
func UseListenerRule(rules ...ListenerRule) Module {
	return func(r *Rules) error {
		r.Listeners = append(r.Listeners, rules...)
		return nil
	}
}
