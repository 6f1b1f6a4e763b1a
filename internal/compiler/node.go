package compiler

import (
	"fmt"
	"reflect"
)

// Op selects what a plan node does when its unit runs.
type Op uint8

const (
	// OpConst yields Value.
	OpConst Op = iota
	// OpInput yields the value handed to the unit.
	OpInput
	// OpNew allocates a zero value of Type.Elem() and yields the pointer.
	OpNew
	// OpCall calls Fn with the values of Kids and yields the first result. A non-nil
	// trailing error result fails the call.
	OpCall
	// OpInject evaluates Kids[0] and then runs Kids[1:] as steps against it.
	OpInject
	// OpSetField is a step: it assigns Kids[0] to the field at Path of the input.
	OpSetField
	// OpInvoke is a step: it calls method Fn on the struct at Path of the input
	// with the values of Kids.
	OpInvoke
	// OpHook calls Hook with the values of Kids.
	OpHook
	// OpConvert converts Kids[0] to Type.
	OpConvert
	// OpDeref yields the value Kids[0] points to.
	OpDeref
	// OpLink yields Link.Invoke.
	OpLink
	// OpInline evaluates Kids[0] inside the scope opened by Enter.
	OpInline
	// OpUnit runs a separately compiled unit.
	OpUnit
)

var opNames = [...]string{
	OpConst:    "const",
	OpInput:    "input",
	OpNew:      "new",
	OpCall:     "call",
	OpInject:   "inject",
	OpSetField: "set",
	OpInvoke:   "invoke",
	OpHook:     "hook",
	OpConvert:  "convert",
	OpDeref:    "deref",
	OpLink:     "link",
	OpInline:   "inline",
	OpUnit:     "unit",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

// Env is the per-invocation environment threaded through every node. The
// compiler never looks inside it.
type Env any

// Linker produces a value owned by something outside the unit.
type Linker interface {
	Invoke(env Env) (reflect.Value, error)
}

// Enterer opens a nested environment for inlined plans. leave is called once
// the inlined plan finishes.
type Enterer interface {
	Enter(env Env) (inner Env, leave func(), err error)
}

// Hook is custom node behavior. in is the unit input, args the evaluated kids.
type Hook func(env Env, in reflect.Value, args []reflect.Value) (reflect.Value, error)

// Node is one operation of a construction plan. Plans are trees; the compiler
// never mutates a plan handed to it.
type Node struct {
	Op   Op
	Name string
	Type reflect.Type

	Value reflect.Value
	Fn    reflect.Value
	Path  []int
	Hook  Hook
	Link  Linker
	Enter Enterer

	// User marks Fn or Hook as user code; its failures and panics become
	// InvocationErrors.
	User bool

	Kids []*Node

	convert converter
	unit    *Unit
}

// Cost weights. A node costs its own weight plus its kids.
const (
	costLeaf   = 2
	costAlloc  = 3
	costCall   = 4
	costArg    = 1
	costStep   = 3
	costLink   = 3
	costSplice = 3
)

// Size estimates the emitted size of the subtree rooted at n.
func (n *Node) Size() int {
	size := n.ownCost()
	for _, k := range n.Kids {
		size += k.Size()
	}
	return size
}

func (n *Node) ownCost() int {
	switch n.Op {
	case OpConst, OpConvert:
		return costLeaf
	case OpInput, OpDeref:
		return 1
	case OpNew:
		return costAlloc
	case OpCall, OpHook, OpInvoke:
		return costCall + costArg*len(n.Kids)
	case OpInject:
		return costLeaf
	case OpSetField:
		return costStep
	case OpLink, OpInline:
		return costLink
	case OpUnit:
		return costSplice
	default:
		return costLeaf
	}
}

// Const returns a node yielding v.
func Const(v reflect.Value) *Node {
	return &Node{Op: OpConst, Type: v.Type(), Value: v}
}

// Clone copies the tree rooted at n. Shared subtrees are copied once per use.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	c := *n
	if len(n.Kids) > 0 {
		c.Kids = make([]*Node, len(n.Kids))
		for i, k := range n.Kids {
			c.Kids[i] = k.Clone()
		}
	}
	return &c
}

func (n *Node) label() string {
	if n.Name != "" {
		return n.Name
	}
	if n.Type != nil {
		return n.Op.String() + " " + n.Type.String()
	}
	return n.Op.String()
}
