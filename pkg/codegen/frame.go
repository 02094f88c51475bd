package codegen

import (
	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/types"
)

// frame is one function's fixed stack layout: every parameter, local
// and compiler temporary gets its own 8-byte-aligned slot below rbp,
// assigned once in a single pass over the CFG (spec.md's non-goal
// excludes only allocation beyond this fixed, ABI-driven scheme).
type frame struct {
	slots map[*symtab.Symbol]int32
	size  int32
}

func (f *frame) slot(sym *symtab.Symbol) (int32, bool) {
	off, ok := f.slots[sym]
	return off, ok
}

// buildFrame scans def's parameters, locals, every temporary
// referenced anywhere in its CFG, and any extra symbols the caller
// needs a slot for (the hidden return-value pointer, for a function
// classified MEMORY-return), handing each a distinct slot sized to its
// type (rounded up to 8 bytes so every slot can be addressed uniformly
// by a signed rbp-relative displacement).
func buildFrame(def *ir.Definition, extra ...*symtab.Symbol) *frame {
	f := &frame{slots: map[*symtab.Symbol]int32{}}
	var cur int32

	assign := func(sym *symtab.Symbol) {
		if _, ok := f.slots[sym]; ok {
			return
		}
		sz := int32(types.SizeOf(sym.Type))
		if sz <= 0 {
			sz = 8
		}
		cur += sz
		if r := cur % 8; r != 0 {
			cur += 8 - r
		}
		f.slots[sym] = -cur
	}

	for _, p := range def.Params {
		assign(p)
	}
	for _, l := range def.Locals {
		assign(l)
	}
	for _, e := range extra {
		assign(e)
	}

	scan := func(v ir.Var) {
		if v.Symbol != nil && v.Symbol.Kind == symtab.Temporary {
			assign(v.Symbol)
		}
	}
	for _, b := range def.Blocks {
		for _, instr := range b.Code {
			scan(instr.Target)
			scan(instr.Arg1)
			scan(instr.Arg2)
			for _, a := range instr.Args {
				scan(a)
			}
		}
		switch b.Term.Kind {
		case ir.TermBranch:
			scan(b.Term.Cond)
		case ir.TermReturn:
			scan(b.Term.Value)
		}
	}

	if r := cur % 16; r != 0 {
		cur += 16 - r
	}
	f.size = cur
	return f
}
