package codegen

import (
	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/types"
	"c89cc/pkg/x64"
)

// operandWidth clamps a type's size to one of the widths the encoder
// understands; aggregates are handled at their call sites by a
// byte-range copy rather than ever reaching a single MOV of this
// width.
func operandWidth(t *types.Type) x64.Width {
	switch types.SizeOf(t) {
	case 1:
		return 1
	case 2:
		return 2
	case 4:
		return 4
	default:
		return 8
	}
}

// chunkWidth picks the encodable MOV width ({1,2,4,8}) for an
// eightbyte's valid byte count, rounding down when n is not itself one
// of those widths (a struct whose size leaves a non-power-of-two
// remainder in its second eightbyte loses up to three bytes of it, e.g.
// one byte of a 13-byte struct's 5-byte tail and three of a 15-byte
// struct's 7-byte tail, rather than reading past the object's storage —
// see DESIGN.md).
func chunkWidth(n int) x64.Width {
	switch {
	case n >= 8:
		return 8
	case n >= 4:
		return 4
	case n >= 2:
		return 2
	default:
		return 1
	}
}

// directMemSym addresses sym's storage plus extraOffset: a frame slot
// when sym is parameter/local/temporary-resident, else a RIP-relative
// reference to a global or string-literal symbol (whose data this
// lazily materializes on first reference).
func (g *Gen) directMemSym(f *frame, sym *symtab.Symbol, extraOffset int, width x64.Width) x64.MemOp {
	if slot, ok := f.slot(sym); ok {
		return x64.MemOp{Width: width, Base: x64.BP, Disp: slot + int32(extraOffset)}
	}
	g.ensureGlobalData(sym)
	// RIP-relative addend: the relocation's S+A-P formula needs A to
	// already account for the 4 placeholder bytes encodeMem leaves
	// between the relocated field and the next instruction byte.
	return x64.MemOp{Width: width, Sym: sym, Disp: int32(extraOffset) - 4}
}

func (g *Gen) directMem(f *frame, v ir.Var, width x64.Width) x64.MemOp {
	return g.directMemSym(f, v.Symbol, v.Offset, width)
}

// loadPointerAddr loads the effective address a Deref operand denotes
// into reg: the pointer value stored at v.Symbol (ignoring any static
// sub-offset a struct-member arrow chain may have folded into
// v.Offset, a known limitation recorded in DESIGN.md), plus v.Offset
// added as a runtime addend once the pointer is loaded.
func (g *Gen) loadPointerAddr(f *frame, v ir.Var, reg x64.Reg) {
	ptrMem := g.directMemSym(f, v.Symbol, 0, 8)
	g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormMemReg, SrcMem: ptrMem, DstReg: x64.RegOp{Reg: reg, Width: 8}})
	if v.Offset != 0 {
		g.emit(x64.Instruction{Op: x64.ADD, Form: x64.FormImmReg, SrcImm: x64.ImmOp{Kind: x64.ImmInt, Width: 8, Value: int64(v.Offset)}, DstReg: x64.RegOp{Reg: reg, Width: 8}})
	}
}

// loadAddress computes v's effective address into reg, whether v
// denotes storage directly (Direct: a stack slot or a global, via
// LEA) or indirectly (Deref: a pointer value to load and offset).
func (g *Gen) loadAddress(f *frame, v ir.Var, reg x64.Reg) {
	if v.Kind == ir.Deref {
		g.loadPointerAddr(f, v, reg)
		return
	}
	mem := g.directMem(f, v, 8)
	g.emit(x64.Instruction{Op: x64.LEA, SrcMem: mem, DstReg: x64.RegOp{Reg: reg, Width: 8}})
}

// loadToReg loads v's scalar value into reg at its natural width.
func (g *Gen) loadToReg(f *frame, v ir.Var, reg x64.Reg) {
	width := operandWidth(v.Type)
	switch v.Kind {
	case ir.Immediate:
		g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormImmReg, SrcImm: x64.ImmOp{Kind: x64.ImmInt, Width: width, Value: int64(v.ImmUint)}, DstReg: x64.RegOp{Reg: reg, Width: width}})
	case ir.Deref:
		g.loadPointerAddr(f, v, reg)
		g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormMemReg, SrcMem: x64.MemOp{Base: reg, Width: width}, DstReg: x64.RegOp{Reg: reg, Width: width}})
	default: // Direct, Address
		mem := g.directMem(f, v, width)
		g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormMemReg, SrcMem: mem, DstReg: x64.RegOp{Reg: reg, Width: width}})
	}
}

// storeFromReg stores reg's value (at width) into the lvalue v,
// computing v's Deref address into addrReg first so it never collides
// with the value register.
func (g *Gen) storeFromReg(f *frame, v ir.Var, reg x64.Reg, width x64.Width) {
	if v.Kind == ir.Deref {
		g.loadPointerAddr(f, v, addrReg)
		g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormRegMem, SrcReg: x64.RegOp{Reg: reg, Width: width}, DstMem: x64.MemOp{Base: addrReg, Width: width}})
		return
	}
	mem := g.directMem(f, v, width)
	g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormRegMem, SrcReg: x64.RegOp{Reg: reg, Width: width}, DstMem: mem})
}

// copyAggregate copies n bytes from src's effective address to dst's,
// via rep movsq for the 8-byte-aligned bulk of the copy and a
// byte-at-a-time tail for the remainder (spec.md §4.7's REP_MOVSQ
// opcode exists for exactly this, struct/array assignment and
// pass-by-value, rather than ever reaching a single oversized MOV).
func (g *Gen) copyAggregate(f *frame, dst, src ir.Var, n int) {
	g.loadAddress(f, src, x64.SI)
	g.loadAddress(f, dst, x64.DI)
	words := n / 8
	if words > 0 {
		g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormImmReg, SrcImm: x64.ImmOp{Kind: x64.ImmInt, Width: 8, Value: int64(words)}, DstReg: x64.RegOp{Reg: x64.CX, Width: 8}})
		g.emit(x64.Instruction{Op: x64.REP_MOVSQ})
	}
	for i := words * 8; i < n; i++ {
		g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormMemReg, SrcMem: x64.MemOp{Base: x64.SI, Width: 1, Disp: int32(i - words*8)}, DstReg: x64.RegOp{Reg: addrReg, Width: 1}})
		g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormRegMem, SrcReg: x64.RegOp{Reg: addrReg, Width: 1}, DstMem: x64.MemOp{Base: x64.DI, Width: 1, Disp: int32(i - words*8)}})
	}
}

// loadAggregateToRegs reads a two-eightbyte INTEGER-class aggregate
// (spec.md §4.6/pkg/abi.Classify) out of v's storage into regs[0] and
// regs[1] (RAX:RDX for a return value), the register-packed
// counterpart to copyAggregate's memory-to-memory copy.
func (g *Gen) loadAggregateToRegs(f *frame, v ir.Var, regs [2]x64.Reg, size int) {
	g.loadAddress(f, v, addrReg)
	g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormMemReg, SrcMem: x64.MemOp{Base: addrReg, Width: 8}, DstReg: x64.RegOp{Reg: regs[0], Width: 8}})
	w := chunkWidth(size - 8)
	g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormMemReg, SrcMem: x64.MemOp{Base: addrReg, Width: w, Disp: 8}, DstReg: x64.RegOp{Reg: regs[1], Width: w}})
}

// storeAggregateFromRegs is loadAggregateToRegs's inverse: it writes
// regs[0]:regs[1] (RAX:RDX from a call's return) into dst's storage.
func (g *Gen) storeAggregateFromRegs(f *frame, dst ir.Var, regs [2]x64.Reg, size int) {
	g.loadAddress(f, dst, addrReg)
	g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormRegMem, SrcReg: x64.RegOp{Reg: regs[0], Width: 8}, DstMem: x64.MemOp{Base: addrReg, Width: 8}})
	w := chunkWidth(size - 8)
	g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormRegMem, SrcReg: x64.RegOp{Reg: regs[1], Width: w}, DstMem: x64.MemOp{Base: addrReg, Width: w, Disp: 8}})
}
