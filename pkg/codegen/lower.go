package codegen

import (
	"c89cc/pkg/abi"
	"c89cc/pkg/ir"
	"c89cc/pkg/types"
	"c89cc/pkg/x64"
)

var arithOpcode = map[ir.Op]x64.Opcode{
	ir.OpAdd: x64.ADD, ir.OpSub: x64.SUB,
	ir.OpAnd: x64.AND, ir.OpOr: x64.OR, ir.OpXor: x64.XOR,
}

// lowerInstruction appends the x64 instructions implementing one
// three-address op.
func (g *Gen) lowerInstruction(f *frame, instr ir.Instruction) {
	switch instr.Op {
	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor:
		g.lowerSimpleBinary(f, instr)
	case ir.OpMul:
		g.lowerMulDiv(f, instr, false)
	case ir.OpDiv, ir.OpMod:
		g.lowerMulDiv(f, instr, instr.Op == ir.OpMod)
	case ir.OpShl, ir.OpShr:
		g.lowerShift(f, instr, x64.SHL)
	case ir.OpNeg:
		g.lowerUnary(f, instr, x64.NOT, true)
	case ir.OpNot:
		g.lowerUnary(f, instr, x64.NOT, false)
	case ir.OpLNot:
		g.lowerLogicalNot(f, instr)
	case ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		g.lowerCompare(f, instr)
	case ir.OpConv:
		g.lowerConv(f, instr)
	case ir.OpLoad:
		g.lowerLoad(f, instr)
	case ir.OpStore:
		g.lowerStore(f, instr)
	case ir.OpAddr:
		g.loadAddress(f, instr.Arg1, x64.AX)
		g.storeFromReg(f, instr.Target, x64.AX, 8)
	case ir.OpCall:
		g.lowerCall(f, instr)
	case ir.OpParam:
		// No-op: eval.Context.Call also attaches the full argument list
		// to the OpCall instruction itself, which lowerCall reads from
		// directly rather than re-deriving it from the OpParam stream.
	}
}

// lowerSimpleBinary covers add/sub/and/or/xor: AX = AX op CX.
func (g *Gen) lowerSimpleBinary(f *frame, instr ir.Instruction) {
	width := operandWidth(instr.Target.Type)
	g.loadToReg(f, instr.Arg1, x64.AX)
	g.loadToReg(f, instr.Arg2, x64.CX)
	op := arithOpcode[instr.Op]
	g.emit(x64.Instruction{Op: op, Form: x64.FormRegReg, SrcReg: x64.RegOp{Reg: x64.CX, Width: width}, DstReg: x64.RegOp{Reg: x64.AX, Width: width}})
	g.storeFromReg(f, instr.Target, x64.AX, width)
}

// lowerMulDiv implements multiply, divide and modulo via the x86
// one-operand MUL/DIV forms: AX (and DX for the 128-bit dividend) are
// implicit operands. Both MUL and DIV are the unsigned machine
// instructions (pkg/x64 never implements signed IMUL/IDIV); the low
// bits of an unsigned multiply match a signed one at the same width,
// but signed division/modulo of a negative operand is a known gap
// (see DESIGN.md).
func (g *Gen) lowerMulDiv(f *frame, instr ir.Instruction, mod bool) {
	width := operandWidth(instr.Target.Type)
	g.loadToReg(f, instr.Arg1, x64.AX)
	if instr.Op != ir.OpMul {
		g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormImmReg, SrcImm: x64.ImmOp{Kind: x64.ImmInt, Width: width, Value: 0}, DstReg: x64.RegOp{Reg: x64.DX, Width: width}})
	}
	g.loadToReg(f, instr.Arg2, x64.CX)
	op := x64.MUL
	if instr.Op != ir.OpMul {
		op = x64.DIV
	}
	g.emit(x64.Instruction{Op: op, SrcReg: x64.RegOp{Reg: x64.CX, Width: width}})
	result := x64.AX
	if mod {
		result = x64.DX
	}
	g.storeFromReg(f, instr.Target, result, width)
}

// lowerShift implements << with SHL and every >> with SHR, the logical
// shift, whatever the operand's signedness; pkg/x64's SAR is never
// emitted here. The count operand must be CL, so the shift amount is
// always loaded into CX first regardless of which operand register
// slot it originated from.
func (g *Gen) lowerShift(f *frame, instr ir.Instruction, _ x64.Opcode) {
	width := operandWidth(instr.Target.Type)
	g.loadToReg(f, instr.Arg1, x64.AX)
	g.loadToReg(f, instr.Arg2, x64.CX)
	op := x64.SHL
	if instr.Op == ir.OpShr {
		op = x64.SHR
	}
	g.emit(x64.Instruction{Op: op, SrcReg: x64.RegOp{Reg: x64.CX, Width: 1}, DstReg: x64.RegOp{Reg: x64.AX, Width: width}})
	g.storeFromReg(f, instr.Target, x64.AX, width)
}

// lowerUnary implements bitwise complement (neg reuses the same NOT
// encoding plus a following add-1, two's-complement negation, since
// pkg/x64 has no dedicated NEG opcode).
func (g *Gen) lowerUnary(f *frame, instr ir.Instruction, op x64.Opcode, negate bool) {
	width := operandWidth(instr.Target.Type)
	g.loadToReg(f, instr.Arg1, x64.AX)
	g.emit(x64.Instruction{Op: op, SrcReg: x64.RegOp{Reg: x64.AX, Width: width}})
	if negate {
		g.emit(x64.Instruction{Op: x64.ADD, Form: x64.FormImmReg, SrcImm: x64.ImmOp{Kind: x64.ImmInt, Width: width, Value: 1}, DstReg: x64.RegOp{Reg: x64.AX, Width: width}})
	}
	g.storeFromReg(f, instr.Target, x64.AX, width)
}

// lowerLogicalNot computes `!v` as `v == 0`.
func (g *Gen) lowerLogicalNot(f *frame, instr ir.Instruction) {
	width := operandWidth(instr.Arg1.Type)
	g.loadToReg(f, instr.Arg1, x64.AX)
	g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormImmReg, SrcImm: x64.ImmOp{Kind: x64.ImmInt, Width: width, Value: 0}, DstReg: x64.RegOp{Reg: x64.CX, Width: width}})
	g.emit(x64.Instruction{Op: x64.CMP, Form: x64.FormRegReg, SrcReg: x64.RegOp{Reg: x64.CX, Width: width}, DstReg: x64.RegOp{Reg: x64.AX, Width: width}})
	g.emit(x64.Instruction{Op: x64.SETZ, SrcReg: x64.RegOp{Reg: x64.AX, Width: 1}})
	g.storeFromReg(f, instr.Target, x64.AX, 1)
}

// compareSetcc maps a comparison op to the CMP-operand order (swap)
// and SETcc opcode that implements it, inverting SETZ's sense for !=
// since pkg/x64 has no dedicated SETNE (and likewise no SETL/SETLE/
// SETB/SETBE, worked around by comparing in the opposite order and
// reusing SETG/SETGE/SETA/SETAE).
func compareSetcc(op ir.Op, signed bool) (swap, invert bool, setOp x64.Opcode) {
	switch op {
	case ir.OpEq:
		return false, false, x64.SETZ
	case ir.OpNe:
		return false, true, x64.SETZ
	case ir.OpGt:
		if signed {
			return false, false, x64.SETG
		}
		return false, false, x64.SETA
	case ir.OpGe:
		if signed {
			return false, false, x64.SETGE
		}
		return false, false, x64.SETAE
	case ir.OpLt:
		if signed {
			return true, false, x64.SETG
		}
		return true, false, x64.SETA
	default: // OpLe
		if signed {
			return true, false, x64.SETGE
		}
		return true, false, x64.SETAE
	}
}

func (g *Gen) lowerCompare(f *frame, instr ir.Instruction) {
	width := operandWidth(instr.Arg1.Type)
	signed := !types.IsUnsigned(instr.Arg1.Type)
	g.loadToReg(f, instr.Arg1, x64.AX)
	g.loadToReg(f, instr.Arg2, x64.CX)
	swap, invert, setOp := compareSetcc(instr.Op, signed)
	src, dst := x64.CX, x64.AX
	if swap {
		src, dst = x64.AX, x64.CX
	}
	g.emit(x64.Instruction{Op: x64.CMP, Form: x64.FormRegReg, SrcReg: x64.RegOp{Reg: src, Width: width}, DstReg: x64.RegOp{Reg: dst, Width: width}})
	g.emit(x64.Instruction{Op: setOp, SrcReg: x64.RegOp{Reg: x64.AX, Width: 1}})
	if invert {
		g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormImmReg, SrcImm: x64.ImmOp{Kind: x64.ImmInt, Width: 1, Value: 1}, DstReg: x64.RegOp{Reg: x64.CX, Width: 1}})
		g.emit(x64.Instruction{Op: x64.XOR, Form: x64.FormRegReg, SrcReg: x64.RegOp{Reg: x64.CX, Width: 1}, DstReg: x64.RegOp{Reg: x64.AX, Width: 1}})
	}
	g.storeFromReg(f, instr.Target, x64.AX, 1)
}

// lowerConv widens or narrows between integer widths: MOVZX/MOVSX to
// widen (by the source operand's signedness), a same-size-truncating MOV to
// narrow.
func (g *Gen) lowerConv(f *frame, instr ir.Instruction) {
	srcWidth := operandWidth(instr.Arg1.Type)
	dstWidth := operandWidth(instr.Target.Type)
	if dstWidth <= srcWidth {
		g.loadToReg(f, instr.Arg1, x64.AX)
		g.storeFromReg(f, instr.Target, x64.AX, dstWidth)
		return
	}
	// Widen: MOVSX/MOVZX read straight from memory, so materialize the
	// source's address-or-slot as a MemOp rather than going through
	// loadToReg (which would load at the narrower width first).
	mem := g.sourceMem(f, instr.Arg1, srcWidth)
	op := x64.MOVZX
	if !types.IsUnsigned(instr.Arg1.Type) {
		op = x64.MOVSX
	}
	g.emit(x64.Instruction{Op: op, SrcMem: mem, DstReg: x64.RegOp{Reg: x64.AX, Width: dstWidth}})
	g.storeFromReg(f, instr.Target, x64.AX, dstWidth)
}

// sourceMem resolves v to a memory operand, loading a Deref's pointer
// into addrReg first when needed.
func (g *Gen) sourceMem(f *frame, v ir.Var, width x64.Width) x64.MemOp {
	if v.Kind == ir.Deref {
		g.loadPointerAddr(f, v, addrReg)
		return x64.MemOp{Base: addrReg, Width: width}
	}
	return g.directMem(f, v, width)
}

// lowerLoad implements explicit lvalue-to-rvalue loads through a Deref
// operand (spec.md §4.3's pkg/eval.RValue); an aggregate-typed load
// (Arg1 denotes a struct/array through a pointer) instead copies the
// whole range into Target's storage.
func (g *Gen) lowerLoad(f *frame, instr ir.Instruction) {
	if types.IsStructOrUnion(instr.Target.Type) || types.IsArray(instr.Target.Type) {
		g.copyAggregate(f, instr.Target, instr.Arg1, types.SizeOf(instr.Target.Type))
		return
	}
	width := operandWidth(instr.Target.Type)
	g.loadToReg(f, instr.Arg1, x64.AX)
	g.storeFromReg(f, instr.Target, x64.AX, width)
}

// lowerStore implements an assignment's store (spec.md §4.3's
// pkg/eval.Assign): a scalar value is moved through a register, an
// aggregate value is copied byte range to byte range.
func (g *Gen) lowerStore(f *frame, instr ir.Instruction) {
	if types.IsStructOrUnion(instr.Target.Type) || types.IsArray(instr.Target.Type) {
		g.copyAggregate(f, instr.Target, instr.Arg1, types.SizeOf(instr.Target.Type))
		return
	}
	width := operandWidth(instr.Target.Type)
	g.loadToReg(f, instr.Arg1, x64.AX)
	g.storeFromReg(f, instr.Target, x64.AX, width)
}

// lowerCall classifies instr.Args through the System-V integer
// registers (an SSE or stack-spilled argument, beyond the first six
// integer-class eightbytes, is a known gap: see DESIGN.md), calls the
// callee, and stores its result when the call is not used as a
// statement: through AX for a scalar or single-eightbyte aggregate,
// through RAX:RDX for a two-eightbyte INTEGER aggregate, or not at all
// for a MEMORY-classified aggregate, whose hidden pointer argument
// (loaded ahead of every real argument, reserving the first integer
// register exactly as abi.ClassifyCall's nextIntReg=1 anticipates)
// already names instr.Target's own storage as the callee's write
// target.
func (g *Gen) lowerCall(f *frame, instr ir.Instruction) {
	callee := instr.Arg1.Symbol
	fnType := types.Unwrap(callee.Type)
	argTypes := make([]*types.Type, len(instr.Args))
	for i, a := range instr.Args {
		argTypes[i] = a.Type
	}
	params, retClass := abi.ClassifyCall(argTypes, fnType.Next)

	reg := 0
	if retClass.IsMemory() {
		g.loadAddress(f, instr.Target, intParamRegs[0])
		reg = 1
	}
	for i, a := range instr.Args {
		if reg >= len(intParamRegs) || params[i].IsMemory() {
			continue // stack-spilled argument: unsupported, see DESIGN.md
		}
		g.loadToReg(f, a, intParamRegs[reg])
		reg++
	}

	g.emit(x64.Instruction{Op: x64.CALL, Form: x64.FormImm, SrcImm: x64.ImmOp{Kind: x64.ImmAddr, Sym: callee, Disp: -4}})

	switch {
	case retClass.IsMemory():
		// Written directly into instr.Target's storage through the
		// hidden pointer; nothing left to move.
	case len(retClass.Classes) == 2:
		g.storeAggregateFromRegs(f, instr.Target, [2]x64.Reg{x64.AX, x64.DX}, types.SizeOf(instr.Target.Type))
	case instr.Target.Symbol != nil:
		width := operandWidth(instr.Target.Type)
		g.storeFromReg(f, instr.Target, x64.AX, width)
	}
}

// lowerTerminator appends the jump/return closing a block. fallthrough
// is the block id that will be emitted immediately next, so a jump or
// branch arm targeting it is elided rather than emitting a
// needless jump-to-next-instruction.
func (g *Gen) lowerTerminator(f *frame, b *ir.Block, fallthrough_ ir.BlockID) {
	switch b.Term.Kind {
	case ir.TermJump:
		g.jumpTo(b.Term.Next, fallthrough_)
	case ir.TermBranch:
		width := operandWidth(b.Term.Cond.Type)
		g.loadToReg(f, b.Term.Cond, x64.AX)
		g.emit(x64.Instruction{Op: x64.TEST, SrcReg: x64.RegOp{Reg: x64.AX, Width: width}, DstReg: x64.RegOp{Reg: x64.AX, Width: width}})
		g.emit(x64.Instruction{Op: x64.JZ, Form: x64.FormImm, SrcImm: x64.ImmOp{Sym: g.labels[b.Term.Else]}})
		g.jumpTo(b.Term.Then, fallthrough_)
	case ir.TermReturn:
		g.lowerReturnValue(f, b.Term.Value)
		g.emit(x64.Instruction{Op: x64.LEAVE})
		g.emit(x64.Instruction{Op: x64.RET})
	case ir.TermReturnVoid:
		g.emit(x64.Instruction{Op: x64.LEAVE})
		g.emit(x64.Instruction{Op: x64.RET})
	}
}

// lowerReturnValue moves v into the current function's return
// convention slot(s), per g.retClass (computed once per Function from
// abi.ClassifyCall): a scalar or single-eightbyte aggregate through
// AX, a two-eightbyte INTEGER aggregate packed into RAX:RDX, or a
// MEMORY-classified aggregate copied into the caller-supplied buffer
// named by g.retPtrSym, echoing that same pointer back through AX per
// the System-V hidden-pointer convention.
func (g *Gen) lowerReturnValue(f *frame, v ir.Var) {
	switch {
	case g.retPtrSym != nil:
		dst := ir.Var{Kind: ir.Deref, Type: v.Type, Symbol: g.retPtrSym}
		g.copyAggregate(f, dst, v, types.SizeOf(v.Type))
		g.loadToReg(f, ir.Var{Kind: ir.Direct, Type: types.BasicLong, Symbol: g.retPtrSym}, x64.AX)
	case len(g.retClass.Classes) == 2:
		g.loadAggregateToRegs(f, v, [2]x64.Reg{x64.AX, x64.DX}, types.SizeOf(v.Type))
	default:
		g.loadToReg(f, v, x64.AX)
	}
}

// jumpTo emits an unconditional jump to target, eliding it entirely
// when target is simply the block about to be emitted next.
func (g *Gen) jumpTo(target, fallthrough_ ir.BlockID) {
	if target == fallthrough_ {
		return
	}
	g.emit(x64.Instruction{Op: x64.JMP, Form: x64.FormImm, SrcImm: x64.ImmOp{Sym: g.labels[target]}})
}
