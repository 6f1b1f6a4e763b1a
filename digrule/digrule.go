// Package digrule serves kiln keys from a go.uber.org/dig container. Keys are
// claimed only when the container can produce them, so everything else keeps
// resolving through the injector's own bindings.
package digrule

import (
	"context"
	"reflect"
	"sync"

	"github.com/junioryono/kiln"
	"go.uber.org/dig"
)

var inType = reflect.TypeOf(dig.In{})

type probeKey struct {
	typ  reflect.Type
	name string
}

// Rule adapts a dig container to kiln creation rules.
type Rule struct {
	c *dig.Container

	mu     sync.Mutex
	probes map[probeKey]bool
}

// New returns a rule serving keys from c. A key is served when it carries no
// qualifier or exactly one kiln.Name, which maps to the dig name of the same
// value.
func New(c *dig.Container) *Rule {
	return &Rule{c: c, probes: make(map[probeKey]bool)}
}

// Module installs the rule. It runs after the built-in creation rules.
func Module(c *dig.Container) kiln.Module {
	return kiln.UseCreationRule(New(c).Create)
}

// Create implements kiln.CreationRule. The value is taken from the container
// once, when the binding is first constructed; dig keeps it as a singleton.
func (r *Rule) Create(k kiln.Key) (kiln.Target, bool) {
	pk, ok := project(k)
	if !ok || !r.provides(pk) {
		return kiln.Target{}, false
	}

	c := r.c
	fn := func(context.Context, []any) (any, error) {
		st := paramStruct(pk, false)

		var out reflect.Value
		invoke := reflect.MakeFunc(reflect.FuncOf([]reflect.Type{st}, nil, false), func(args []reflect.Value) []reflect.Value {
			out = args[0].Field(1)
			return nil
		})
		if err := c.Invoke(invoke.Interface()); err != nil {
			return nil, err
		}
		return out.Interface(), nil
	}

	return kiln.ToFactory(k.Type, nil, fn).Named("dig " + k.String()).In(kiln.Singleton), true
}

// provides reports whether the container can produce pk, asking it once per
// key. Zero values of optional parameters cannot be told from absent ones, so
// a container providing a zero value is treated as not providing it.
func (r *Rule) provides(pk probeKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ok, seen := r.probes[pk]; seen {
		return ok
	}

	st := paramStruct(pk, true)
	var present bool
	invoke := reflect.MakeFunc(reflect.FuncOf([]reflect.Type{st}, nil, false), func(args []reflect.Value) []reflect.Value {
		present = !args[0].Field(1).IsZero()
		return nil
	})
	if err := r.c.Invoke(invoke.Interface()); err != nil {
		// The container knows the type but failed building it; the failure
		// surfaces when the binding is constructed.
		present = true
	}

	r.probes[pk] = present
	return present
}

func project(k kiln.Key) (probeKey, bool) {
	pk := probeKey{typ: k.Type}

	quals := k.Qualifiers()
	switch len(quals) {
	case 0:
		return pk, true
	case 1:
		if n, ok := quals[0].(kiln.Name); ok {
			pk.name = string(n)
			return pk, true
		}
	}
	return probeKey{}, false
}

// paramStruct builds struct { dig.In; V T } with the tags selecting pk.
func paramStruct(pk probeKey, optional bool) reflect.Type {
	tag := ""
	if pk.name != "" {
		tag = `name:"` + pk.name + `"`
	}
	if optional {
		if tag != "" {
			tag += " "
		}
		tag += `optional:"true"`
	}

	return reflect.StructOf([]reflect.StructField{
		{Name: "In", Type: inType, Anonymous: true},
		{Name: "V", Type: pk.typ, Tag: reflect.StructTag(tag)},
	})
}
