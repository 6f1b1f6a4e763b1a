package kiln

import (
	"reflect"

	"go.uber.org/zap"
)

// resolve finds the binding for k: creation rules first, then static bindings,
// then the just-in-time cache. Resolving never assembles.
func (inj *Injector) resolve(k Key) (*Binding, error) {
	if k.Type == nil {
		return nil, ErrNilKey
	}

	for _, rule := range inj.rules.Creation {
		t, ok := rule(k)
		if !ok {
			continue
		}

		b, created, err := inj.creations.GetOrCreate(k.full(), func() (*Binding, error) {
			if err := t.validate(); err != nil {
				return nil, InvalidBindingError{Binding: t.String(), Cause: err}
			}
			return inj.newBinding(CreationKind, t.String(), k, t), nil
		})
		if err != nil {
			return nil, err
		}
		if created {
			inj.log.Debug("creation binding created", zap.Stringer("key", k), zap.String("target", t.String()))
		}
		return b, nil
	}

	var matches []*Binding
	for _, b := range inj.static {
		if b.match(k) {
			matches = append(matches, b)
		}
	}
	switch len(matches) {
	case 0:
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, b := range matches {
			names[i] = b.name
		}
		return nil, AmbiguousBindingError{Key: k, Bindings: names}
	}

	b, created, err := inj.jit.GetOrCreate(k.jit(), func() (*Binding, error) {
		return inj.newJIT(k)
	})
	switch {
	case err != nil:
		inj.metrics.jit.WithLabelValues("failed").Inc()
		return nil, err
	case created:
		inj.metrics.jit.WithLabelValues("created").Inc()
		inj.log.Debug("jit binding created", zap.Stringer("key", k))
	default:
		inj.metrics.jit.WithLabelValues("hit").Inc()
	}
	return b, nil
}

// newJIT derives a binding for k when some instantiator could produce its type
// and the type carries every qualifier k asks for.
func (inj *Injector) newJIT(k Key) (*Binding, error) {
	if len(inj.candidates(k.Type)) == 0 {
		return nil, NoRecipeFoundError{Key: k}
	}

	if len(k.qualifiers) > 0 {
		available := make(map[string]bool)
		for _, extract := range inj.rules.AvailableQualifiers {
			for _, q := range extract(k.Type) {
				available[q.QualifierName()] = true
			}
		}
		for _, q := range k.qualifiers {
			if !available[q.QualifierName()] {
				return nil, NoRecipeFoundError{Key: k}
			}
		}
	}

	t := Target{kind: jitTarget, name: "jit " + k.WithPoint(nil).String(), typ: k.Type}
	return inj.newBinding(JITKind, t.name, k.WithPoint(nil), t), nil
}

// candidates lists every way to instantiate t: registered constructors in
// registration order, then zero-value allocation for struct pointers.
func (inj *Injector) candidates(t reflect.Type) []Candidate {
	var out []Candidate
	for _, info := range inj.constructors[t] {
		out = append(out, Candidate{Name: info.Name, Type: t, Constructor: info.Value.Interface(), info: info})
	}
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		out = append(out, Candidate{Name: "new(" + formatType(t.Elem()) + ")", Type: t})
	}
	return out
}

func (inj *Injector) newBinding(kind BindingKind, name string, k Key, t Target) *Binding {
	b := &Binding{
		id:     inj.seq.Add(1),
		inj:    inj,
		kind:   kind,
		name:   name,
		key:    k,
		target: t,
	}
	inj.metrics.bindings.WithLabelValues(kind.String()).Inc()
	return b
}

// newStatic turns a configured binding into a Binding.
func (inj *Injector) newStatic(sb StaticBinding) (*Binding, error) {
	name := sb.Name
	if name == "" {
		name = sb.Target.String()
	}

	if err := sb.Target.validate(); err != nil {
		return nil, InvalidBindingError{Binding: name, Cause: err}
	}

	k := sb.Key.WithPoint(nil)
	if k.Type == nil {
		k = NewKey(sb.Target.typ)
	}
	if k.Type == nil {
		return nil, InvalidBindingError{Binding: name, Cause: ErrNilKey}
	}

	match := sb.Match
	if match == nil {
		match = k.Same
	}

	b := inj.newBinding(StaticKind, name, k, sb.Target)
	b.match = match
	b.explicit = sb.Scope
	return b, nil
}
