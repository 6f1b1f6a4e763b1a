package kiln

import (
	"context"
	"reflect"

	"github.com/junioryono/kiln/internal/hierarchy"
	"github.com/junioryono/kiln/internal/reflection"
)

// CreationRule claims keys before any binding is consulted. Structural keys
// such as provider functions or the injector itself are served this way.
type CreationRule func(Key) (Target, bool)

// Candidate is one way to instantiate a type, offered to instantiator rules.
type Candidate struct {
	Name string
	Type reflect.Type

	// Constructor is the registered constructor, nil for the zero-value candidate.
	Constructor any

	info *reflection.ConstructorInfo
}

// Zero reports whether the candidate allocates a zero value instead of calling
// a constructor.
func (c Candidate) Zero() bool {
	return c.Constructor == nil
}

// InstantiatorRule returns the priority of a candidate, or false to reject it.
type InstantiatorRule func(Candidate) (priority int, ok bool)

// Decision is what a members-injector rule wants done with a member.
type Decision int

const (
	// Abstain leaves the decision to later rules.
	Abstain Decision = iota
	// Inject populates the field or calls the method.
	Inject
	// Skip leaves the member alone; later rules are not asked.
	Skip
)

func (d Decision) String() string {
	switch d {
	case Inject:
		return "inject"
	case Skip:
		return "skip"
	default:
		return "abstain"
	}
}

// MemberKind tells fields from methods.
type MemberKind int

const (
	FieldMember MemberKind = iota
	MethodMember
)

// Member is a field or method considered for injection.
type Member struct {
	Kind  MemberKind
	Owner reflect.Type
	Name  string

	// Type is the field type, or the method's function type without receiver.
	Type     reflect.Type
	Tag      reflect.StructTag
	Exported bool

	// Marked is set for methods named by a blank inject field of their level.
	Marked bool
}

// MembersInjectorRule decides whether a member is injected. An error fails the
// assembly of the owning type.
type MembersInjectorRule func(Member) (Decision, error)

// CustomInjector is extra member injection contributed by a factory. Inject runs
// after the standard members with the resolved values of Deps.
type CustomInjector struct {
	Name   string
	Deps   []Key
	Inject func(instance any, deps []any) error
}

// MembersInjectorFactory contributes a custom injector for a type.
type MembersInjectorFactory func(reflect.Type) (CustomInjector, bool)

// ScopeRule selects a scope for a binding by its key and produced type.
type ScopeRule func(Key, reflect.Type) (Scope, bool)

// QualifierExtractor returns the qualifiers an injection point requires.
type QualifierExtractor func(InjectionPoint) []Qualifier

// TypeQualifierExtractor returns the qualifiers a type satisfies on its own.
type TypeQualifierExtractor func(reflect.Type) []Qualifier

// Listener runs after member injection and may replace the instance.
type Listener func(ctx context.Context, instance any) (any, error)

// ListenerRule returns the listener for a produced type, if any.
type ListenerRule func(reflect.Type) (Listener, bool)

// ScopeAnnotation is implemented by zero-size marker types that select a scope
// when embedded directly in a struct.
type ScopeAnnotation interface {
	IsScopeAnnotation()
}

// AsSingleton marks a struct as singleton scoped when embedded.
type AsSingleton struct{}

// IsScopeAnnotation implements ScopeAnnotation.
func (AsSingleton) IsScopeAnnotation() {}

// Rules are the ordered rule chains an Injector consults. Every chain is tried
// in order; the first accepting result wins, except for qualifier extractors,
// listeners and member factories whose results are combined.
type Rules struct {
	Creation            []CreationRule
	Instantiators       []InstantiatorRule
	Members             []MembersInjectorRule
	MemberFactories     []MembersInjectorFactory
	Scopes              []ScopeRule
	ScopeAnnotations    map[reflect.Type]Scope
	RequiredQualifiers  []QualifierExtractor
	AvailableQualifiers []TypeQualifierExtractor
	Listeners           []ListenerRule

	Bindings     []StaticBinding
	Constructors []any
	DefaultScope Scope
}

// DefaultRules returns the built-in rule set: provider functions, the injector
// and contexts as creation rules; registered constructors ahead of zero values;
// inject tags and marks for members; name tags and marker qualifiers.
func DefaultRules() Rules {
	return Rules{
		Creation: []CreationRule{
			injectorRule,
			contextRule,
			providerRule,
		},
		Instantiators: []InstantiatorRule{
			defaultPriority,
		},
		Members: []MembersInjectorRule{
			taggedMembers,
		},
		ScopeAnnotations: map[reflect.Type]Scope{
			reflect.TypeOf(AsSingleton{}): Singleton,
		},
		RequiredQualifiers: []QualifierExtractor{
			nameTag,
		},
		AvailableQualifiers: []TypeQualifierExtractor{
			markerQualifiers,
		},
		DefaultScope: Unscoped,
	}
}

// Merge appends the chains of o after those of r. Annotation mappings in o
// replace those of r; a non-nil default scope in o wins.
func (r Rules) Merge(o Rules) Rules {
	out := Rules{
		Creation:            append(append([]CreationRule(nil), r.Creation...), o.Creation...),
		Instantiators:       append(append([]InstantiatorRule(nil), r.Instantiators...), o.Instantiators...),
		Members:             append(append([]MembersInjectorRule(nil), r.Members...), o.Members...),
		MemberFactories:     append(append([]MembersInjectorFactory(nil), r.MemberFactories...), o.MemberFactories...),
		Scopes:              append(append([]ScopeRule(nil), r.Scopes...), o.Scopes...),
		ScopeAnnotations:    make(map[reflect.Type]Scope, len(r.ScopeAnnotations)+len(o.ScopeAnnotations)),
		RequiredQualifiers:  append(append([]QualifierExtractor(nil), r.RequiredQualifiers...), o.RequiredQualifiers...),
		AvailableQualifiers: append(append([]TypeQualifierExtractor(nil), r.AvailableQualifiers...), o.AvailableQualifiers...),
		Listeners:           append(append([]ListenerRule(nil), r.Listeners...), o.Listeners...),
		Bindings:            append(append([]StaticBinding(nil), r.Bindings...), o.Bindings...),
		Constructors:        append(append([]any(nil), r.Constructors...), o.Constructors...),
		DefaultScope:        r.DefaultScope,
	}

	for t, s := range r.ScopeAnnotations {
		out.ScopeAnnotations[t] = s
	}
	for t, s := range o.ScopeAnnotations {
		out.ScopeAnnotations[t] = s
	}
	if o.DefaultScope != nil {
		out.DefaultScope = o.DefaultScope
	}
	return out
}

var (
	injectorType = reflect.TypeOf((*Injector)(nil))
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	qualType     = reflect.TypeOf((*Qualifier)(nil)).Elem()
	scopeAnnType = reflect.TypeOf((*ScopeAnnotation)(nil)).Elem()
)

func injectorRule(k Key) (Target, bool) {
	if k.Type != injectorType || len(k.qualifiers) > 0 {
		return Target{}, false
	}
	return Target{kind: injectorTarget, name: "injector", typ: injectorType}, true
}

func contextRule(k Key) (Target, bool) {
	if k.Type != contextType || len(k.qualifiers) > 0 {
		return Target{}, false
	}
	return Target{kind: contextTarget, name: "context", typ: contextType}, true
}

// providerRule serves func() (T, error) and func() T with a deferred handle for
// T carrying the same qualifiers. Either form may take a context.Context, which
// lets the call join the caller's construction chain.
func providerRule(k Key) (Target, bool) {
	if _, ok := providedType(k.Type); !ok {
		return Target{}, false
	}
	return Target{kind: providerTarget, name: "provider " + formatType(k.Type), typ: k.Type}, true
}

func providedType(t reflect.Type) (reflect.Type, bool) {
	if t == nil || t.Kind() != reflect.Func || t.IsVariadic() {
		return nil, false
	}
	if t.NumIn() > 1 || (t.NumIn() == 1 && t.In(0) != contextType) {
		return nil, false
	}
	switch {
	case t.NumOut() == 1 && t.Out(0) != errorType:
		return t.Out(0), true
	case t.NumOut() == 2 && t.Out(1) == errorType:
		return t.Out(0), true
	}
	return nil, false
}

// defaultPriority ranks registered constructors above zero-value allocation.
func defaultPriority(c Candidate) (int, bool) {
	if c.Zero() {
		return 0, true
	}
	return 10, true
}

// taggedMembers injects fields carrying an inject tag other than "-" and methods
// marked by a blank inject field.
func taggedMembers(m Member) (Decision, error) {
	switch m.Kind {
	case FieldMember:
		v, ok := m.Tag.Lookup(hierarchy.TagKey)
		if !ok {
			return Abstain, nil
		}
		if v == "-" {
			return Skip, nil
		}
		return Inject, nil
	case MethodMember:
		if m.Marked {
			return Inject, nil
		}
	}
	return Abstain, nil
}

func nameTag(p InjectionPoint) []Qualifier {
	if name := reflection.ParseTag(p.Tag).Name; name != "" {
		return []Qualifier{Name(name)}
	}
	return nil
}

// markerQualifiers returns the zero-size qualifier markers embedded directly
// in a struct type.
func markerQualifiers(t reflect.Type) []Qualifier {
	var out []Qualifier
	for _, ann := range hierarchy.For(t).Annotations {
		if ann.Implements(qualType) {
			out = append(out, reflect.Zero(ann).Interface().(Qualifier))
		}
	}
	return out
}
