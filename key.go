package kiln

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/junioryono/kiln/internal/graph"
)

// Qualifier distinguishes keys of the same type. Two qualifiers are the same
// when their names are equal.
type Qualifier interface {
	QualifierName() string
}

// Name is the built-in qualifier selecting a dependency by name.
type Name string

// QualifierName implements Qualifier.
func (n Name) QualifierName() string {
	return "name:" + string(n)
}

// Named returns a Name qualifier.
func Named(name string) Qualifier {
	return Name(name)
}

// InjectionPoint describes the member that asked for a key.
type InjectionPoint struct {
	Owner  reflect.Type
	Member string

	// Index is the parameter position, or -1 for fields.
	Index int
	Tag   reflect.StructTag
}

func (p *InjectionPoint) String() string {
	if p == nil {
		return ""
	}
	if p.Index < 0 {
		return fmt.Sprintf("field %s of %s", p.Member, formatType(p.Owner))
	}
	return fmt.Sprintf("parameter %d of %s", p.Index, p.Member)
}

func (p *InjectionPoint) equal(o *InjectionPoint) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Owner == o.Owner && p.Member == o.Member && p.Index == o.Index && p.Tag == o.Tag
}

// Key identifies what is wanted: a type, a set of qualifiers and optionally the
// injection point asking for it. Keys are immutable values.
type Key struct {
	Type  reflect.Type
	Point *InjectionPoint

	qualifiers []Qualifier
	quals      string
}

// NewKey returns the key for t with the given qualifiers. Qualifier order and
// duplicates do not matter.
func NewKey(t reflect.Type, qualifiers ...Qualifier) Key {
	k := Key{Type: t}
	if len(qualifiers) == 0 {
		return k
	}

	byName := make(map[string]Qualifier, len(qualifiers))
	for _, q := range qualifiers {
		if q != nil {
			byName[q.QualifierName()] = q
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	k.qualifiers = make([]Qualifier, len(names))
	for i, name := range names {
		k.qualifiers[i] = byName[name]
	}
	k.quals = strings.Join(names, ",")
	return k
}

// KeyOf returns the key for T.
func KeyOf[T any](qualifiers ...Qualifier) Key {
	return NewKey(reflect.TypeOf((*T)(nil)).Elem(), qualifiers...)
}

// Qualifiers returns the key's qualifiers sorted by name.
func (k Key) Qualifiers() []Qualifier {
	return append([]Qualifier(nil), k.qualifiers...)
}

// HasQualifier reports whether the key carries a qualifier named like q.
func (k Key) HasQualifier(q Qualifier) bool {
	name := q.QualifierName()
	for _, own := range k.qualifiers {
		if own.QualifierName() == name {
			return true
		}
	}
	return false
}

// WithPoint returns a copy of k attributed to p.
func (k Key) WithPoint(p *InjectionPoint) Key {
	k.Point = p
	return k
}

// WithQualifiers returns a copy of k with qualifiers added.
func (k Key) WithQualifiers(qualifiers ...Qualifier) Key {
	if len(qualifiers) == 0 {
		return k
	}
	out := NewKey(k.Type, append(k.Qualifiers(), qualifiers...)...)
	out.Point = k.Point
	return out
}

// Equal reports whether both keys have the same type, qualifier set and
// injection point.
func (k Key) Equal(o Key) bool {
	return k.Type == o.Type && k.quals == o.quals && k.Point.equal(o.Point)
}

// Same reports whether both keys ask for the same thing, ignoring where they
// are asked from.
func (k Key) Same(o Key) bool {
	return k.Type == o.Type && k.quals == o.quals
}

func (k Key) String() string {
	if k.quals != "" {
		return fmt.Sprintf("%s[%s]", formatType(k.Type), k.quals)
	}
	return formatType(k.Type)
}

// jitKey is the projection of a key that indexes just-in-time bindings.
type jitKey struct {
	typ   reflect.Type
	quals string
}

func (k Key) jit() jitKey {
	return jitKey{typ: k.Type, quals: k.quals}
}

func (k jitKey) flight() string {
	return fmt.Sprintf("%p|%s", k.typ, k.quals)
}

// pointKey is the full identity of a key, injection point included. It indexes
// creation bindings, whose rules may answer differently per point.
type pointKey struct {
	jitKey
	pointed bool
	owner   reflect.Type
	member  string
	index   int
	tag     reflect.StructTag
}

func (k Key) full() pointKey {
	pk := pointKey{jitKey: k.jit()}
	if p := k.Point; p != nil {
		pk.pointed = true
		pk.owner, pk.member, pk.index, pk.tag = p.Owner, p.Member, p.Index, p.Tag
	}
	return pk
}

func (k pointKey) flight() string {
	if !k.pointed {
		return k.jitKey.flight()
	}
	return fmt.Sprintf("%s@%p|%s|%d|%q", k.jitKey.flight(), k.owner, k.member, k.index, k.tag)
}

func (k Key) node() graph.NodeKey {
	return graph.NodeKey{Type: k.Type, Qualifiers: k.quals}
}
