// Package abi implements the System-V AMD64 parameter classifier of
// spec.md §4.6, grounded directly on lacc's abi.c
// (original_source/src/backend/x86_64/abi.c).
package abi

import "c89cc/pkg/types"

// Class is a System-V eightbyte parameter class.
type Class int

const (
	NoClass Class = iota
	Integer
	SSE
	Memory
)

func (c Class) String() string {
	switch c {
	case Integer:
		return "INTEGER"
	case SSE:
		return "SSE"
	case Memory:
		return "MEMORY"
	}
	return "NO_CLASS"
}

// combine merges two eightbyte classes per the System-V rules:
// NO_CLASS is the identity, MEMORY absorbs everything, INTEGER
// absorbs SSE, and SSE+SSE stays SSE.
func combine(a, b Class) Class {
	if a == b {
		return a
	}
	if a == NoClass {
		return b
	}
	if b == NoClass {
		return a
	}
	if a == Memory || b == Memory {
		return Memory
	}
	if a == Integer || b == Integer {
		return Integer
	}
	return SSE
}

func nEightbytes(t *types.Type) int {
	size := types.SizeOf(t)
	return (size + 7) / 8
}

func hasUnalignedFields(t *types.Type) bool {
	if !types.IsStructOrUnion(t) {
		return false
	}
	u := types.Unwrap(t)
	for i := 0; i < types.NMembers(u); i++ {
		m := types.GetMember(u, i)
		if m.Offset%types.SizeOf(m.Type) != 0 {
			return true
		}
	}
	return false
}

// flatten walks t depth-first, combining each scalar's class into the
// eightbyte slot selected by its absolute byte offset / 8.
func flatten(slots []Class, t *types.Type, offset int) {
	switch {
	case types.IsInteger(t) || types.IsPointer(t):
		i := offset / 8
		slots[i] = combine(slots[i], Integer)
	case t.Kind == types.Real:
		i := offset / 8
		slots[i] = combine(slots[i], SSE)
	case types.IsStructOrUnion(t):
		u := types.Unwrap(t)
		for i := 0; i < types.NMembers(u); i++ {
			m := types.GetMember(u, i)
			flatten(slots, m.Type, m.Offset+offset)
		}
	case types.IsArray(t):
		elemSize := types.SizeOf(t.Next)
		count := types.SizeOf(t) / elemSize
		for i := 0; i < count; i++ {
			flatten(slots, t.Next, i*elemSize+offset)
		}
	}
}

// Classify returns the eight-byte class vector for an object type t.
// t must not be void or a function type. When the result's first
// slot is not Memory, the vector's length equals
// ceil(size_of(t)/8); when any slot is Memory the returned vector has
// exactly one element (spec.md §8 testable property).
func Classify(t *types.Type) []Class {
	switch {
	case types.IsInteger(t) || types.IsPointer(t):
		return []Class{Integer}
	case t.Kind == types.Real:
		return []Class{SSE}
	case nEightbytes(t) > 4 || hasUnalignedFields(t):
		return []Class{Memory}
	case types.IsStructOrUnion(t):
		n := nEightbytes(t)
		slots := make([]Class, n)
		flatten(slots, t, 0)
		if anyMemory(slots) {
			return []Class{Memory}
		}
		return slots
	default:
		return []Class{Memory}
	}
}

func anyMemory(slots []Class) bool {
	for _, c := range slots {
		if c == Memory {
			return true
		}
	}
	return false
}

// CallClass is the classification result for one call argument or
// return value: its eightbyte classes plus, when they do not fit in
// registers, a demotion to Memory ("arguments are never partially
// passed in registers; they spill entirely to the stack", spec.md
// §4.6).
type CallClass struct {
	Classes []Class
}

func (c CallClass) IsMemory() bool { return len(c.Classes) > 0 && c.Classes[0] == Memory }

// ClassifyCall classifies a call's return type first, then its
// arguments left to right, demoting an argument to Memory once the
// six integer argument registers ({DI, SI, DX, CX, R8, R9}, minus a
// hidden pointer slot reserved when the return is Memory) run out.
func ClassifyCall(args []*types.Type, ret *types.Type) (params []CallClass, retClass CallClass) {
	nextIntReg := 0
	if ret != nil && ret.Kind != types.Void {
		retClass = CallClass{Classes: Classify(ret)}
		if retClass.IsMemory() {
			nextIntReg = 1
		}
	}

	params = make([]CallClass, len(args))
	for i, arg := range args {
		params[i] = CallClass{Classes: Classify(arg)}
		if !params[i].IsMemory() {
			chunks := nEightbytes(arg)
			if nextIntReg+chunks <= 6 {
				nextIntReg += chunks
			} else {
				params[i] = CallClass{Classes: []Class{Memory}}
			}
		}
	}
	return params, retClass
}

// ParamIntRegs and RetIntRegs name the System-V integer argument and
// return registers in assignment order.
var ParamIntRegs = [...]string{"DI", "SI", "DX", "CX", "R8", "R9"}
var RetIntRegs = [...]string{"AX", "DX"}
