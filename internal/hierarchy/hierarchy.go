// Package hierarchy builds per-type tables of the struct embedding hierarchy behind a
// leaf type: the levels ordered root first, the fields and methods each level declares,
// and an override index answering which level's method is the one that should run.
package hierarchy

import (
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// TagKey is the struct tag carrying injection marks.
const TagKey = "inject"

// Field is a named, non-embedded field declared by a level.
type Field struct {
	Name     string
	Index    int
	Type     reflect.Type
	Tag      reflect.StructTag
	Exported bool
}

// Level is one struct type in the embedding hierarchy of a leaf.
type Level struct {
	Type reflect.Type

	// Path is the field index path from the leaf struct to this level.
	// The leaf itself has an empty path.
	Path []int

	Fields []Field

	// Marks are the method names marked for injection at this level through a
	// blank field: _ struct{} `inject:"Init,Start"`.
	Marks []string

	// Declared lists exported methods the level declares itself, as opposed to
	// methods promoted from embedded fields.
	Declared []string

	// Abstract lists methods promoted from interfaces embedded by this level.
	Abstract []string
}

// Depth returns the embedding depth of the level below the leaf.
func (l *Level) Depth() int {
	return len(l.Path)
}

// Declares reports whether the level declares name itself.
func (l *Level) Declares(name string) bool {
	for _, d := range l.Declared {
		if d == name {
			return true
		}
	}
	return false
}

// Table describes the hierarchy of one leaf struct type.
type Table struct {
	Leaf reflect.Type

	// Levels are ordered root first; the leaf is the last entry.
	Levels []*Level

	// Annotations are the zero-size types embedded directly in the leaf. Those
	// declaring methods are levels too.
	Annotations []reflect.Type

	Index *OverrideIndex
}

// LeafIndex returns the index of the leaf level, or -1 for non-struct types.
func (t *Table) LeafIndex() int {
	return len(t.Levels) - 1
}

var tables sync.Map // map[reflect.Type]*Table

// For returns the table for t, building it once per type. Pointer types are
// dereferenced; non-struct types produce an empty table.
func For(t reflect.Type) *Table {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if cached, ok := tables.Load(t); ok {
		return cached.(*Table)
	}

	table := build(t)
	actual, _ := tables.LoadOrStore(t, table)
	return actual.(*Table)
}

func build(leaf reflect.Type) *Table {
	table := &Table{Leaf: leaf}
	if leaf == nil || leaf.Kind() != reflect.Struct {
		table.Index = newOverrideIndex(nil)
		return table
	}

	onPath := make(map[reflect.Type]bool)

	var walk func(t reflect.Type, path []int)
	walk = func(t reflect.Type, path []int) {
		onPath[t] = true
		defer delete(onPath, t)

		level := &Level{Type: t, Path: path}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)

			if f.Anonymous {
				switch {
				case f.Type.Kind() == reflect.Interface:
					for j := 0; j < f.Type.NumMethod(); j++ {
						level.Abstract = append(level.Abstract, f.Type.Method(j).Name)
					}
				case IsMarker(f.Type):
					if len(path) == 0 {
						table.Annotations = append(table.Annotations, f.Type)
					}
					// A stateless mixin still contributes its methods.
					if reflect.PointerTo(f.Type).NumMethod() > 0 && !onPath[f.Type] {
						walk(f.Type, childPath(path, i))
					}
				default:
					if st := structOf(f.Type); st != nil && !onPath[st] {
						walk(st, childPath(path, i))
					}
				}
				continue
			}

			if f.Name == "_" {
				if marks, ok := f.Tag.Lookup(TagKey); ok {
					level.Marks = appendMarks(level.Marks, marks)
				}
				continue
			}

			level.Fields = append(level.Fields, Field{
				Name:     f.Name,
				Index:    i,
				Type:     f.Type,
				Tag:      f.Tag,
				Exported: f.IsExported(),
			})
		}

		level.Declared = declaredMethods(t)
		table.Levels = append(table.Levels, level)
	}

	walk(leaf, nil)
	table.Index = newOverrideIndex(table.Levels)
	return table
}

// IsMarker reports whether t is a zero-size struct used as an annotation when embedded.
func IsMarker(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t.Size() == 0 && t.NumField() == 0
}

func structOf(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

func childPath(path []int, i int) []int {
	out := make([]int, len(path)+1)
	copy(out, path)
	out[len(path)] = i
	return out
}

func appendMarks(marks []string, tag string) []string {
	for _, name := range strings.Split(tag, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		dup := false
		for _, m := range marks {
			if m == name {
				dup = true
				break
			}
		}
		if !dup {
			marks = append(marks, name)
		}
	}
	return marks
}

// declaredMethods lists the exported methods of *t that t declares itself. A method
// counts as promoted when an embedded field provides it and the method table entry
// is a compiler generated wrapper.
func declaredMethods(t reflect.Type) []string {
	pt := reflect.PointerTo(t)

	var names []string
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if promoted(t, m.Name) && isWrapper(m.Func) {
			if vm, ok := t.MethodByName(m.Name); !ok || isWrapper(vm.Func) {
				continue
			}
		}
		names = append(names, m.Name)
	}
	return names
}

func promoted(t reflect.Type, name string) bool {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}

		ft := f.Type
		if ft.Kind() != reflect.Interface && ft.Kind() != reflect.Pointer {
			ft = reflect.PointerTo(ft)
		}
		if _, ok := ft.MethodByName(name); ok {
			return true
		}
	}
	return false
}

func isWrapper(fn reflect.Value) bool {
	if !fn.IsValid() {
		return false
	}

	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return false
	}

	file, _ := f.FileLine(f.Entry())
	return file == "<autogenerated>"
}
