package kiln

import (
	"reflect"

	"github.com/junioryono/kiln/internal/compiler"
)

// CompiledUnit is the cached, directly invokable routine built from a recipe.
type CompiledUnit = compiler.Unit

// Recipe is the assembled plan of a binding: how it instantiates, which members
// it injects, which listeners run and which scope applies. Recipes are
// immutable once assembled.
type Recipe struct {
	Key          Key
	Type         reflect.Type
	Instantiator string
	Members      []string
	Listeners    []string
	Scope        Scope
	Dependencies []Key

	binding *Binding
	plan    *compiler.Node
}

// Binding returns the binding the recipe belongs to.
func (r *Recipe) Binding() *Binding {
	return r.binding
}

// Size returns the estimated size of the recipe's plan.
func (r *Recipe) Size() int {
	return r.plan.Size()
}
