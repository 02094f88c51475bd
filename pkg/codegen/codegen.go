// Package codegen implements spec.md §3's back-end: it walks a
// function's control-flow graph, assigns every local, parameter and
// compiler temporary a fixed stack slot (no register allocation beyond
// that fixed, ABI-driven assignment, per spec.md's explicit
// non-goal), lowers each three-address ir.Instruction to one or more
// pkg/x64 Instructions, and appends the encoded bytes to a pkg/elfobj
// Object. Grounded on original_source/src/backend/x86_64's overall
// shape (codegen.c walking blocks in id order, emitting a fixed
// prologue/epilogue per function) and on pkg/x64 and pkg/elfobj's
// already-built encoder/writer pair.
package codegen

import (
	"fmt"

	"c89cc/pkg/abi"
	"c89cc/pkg/elfobj"
	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/types"
	"c89cc/pkg/x64"
)

// intParamRegs names the System-V integer argument registers in
// assignment order, mirroring pkg/abi.ParamIntRegs (named there as
// strings for documentation; named here as the pkg/x64 register
// constants codegen actually emits).
var intParamRegs = [...]x64.Reg{x64.DI, x64.SI, x64.DX, x64.CX, x64.R8, x64.R9}

// addrReg is the register dedicated to computing a Deref operand's
// effective address; it is never used to hold an ordinary value, so a
// value already loaded into AX/CX/DX is never clobbered by an address
// computation done on its way to or from memory.
const addrReg = x64.R10

// Gen lowers ir.Definitions into an *elfobj.Object.
type Gen struct {
	obj *elfobj.Object

	// labels holds the synthetic per-block jump-target symbol minted
	// for the function currently being lowered.
	labels map[ir.BlockID]*symtab.Symbol

	// dataDefined dedupes global/string data definitions: a string
	// literal's symbol is minted fresh per occurrence by the parser, so
	// codegen defines its bytes into .data the first time it sees it.
	dataDefined map[*symtab.Symbol]bool

	// retClass and retPtrSym describe the function currently being
	// lowered by Function: retClass is its abi.ClassifyCall-computed
	// return classification, and retPtrSym is non-nil (and holds a
	// frame slot for the incoming hidden pointer) exactly when retClass
	// is MEMORY.
	retClass  abi.CallClass
	retPtrSym *symtab.Symbol
}

// New returns a Gen that appends to obj.
func New(obj *elfobj.Object) *Gen {
	return &Gen{obj: obj, dataDefined: map[*symtab.Symbol]bool{}}
}

// Compile drains prog, lowering every buffered Definition in order
// (spec.md §3 "driver repeatedly calls parse()" then hands the result
// to the back-end).
func (g *Gen) Compile(prog *ir.Program) error {
	for {
		def := prog.Pop()
		if def == nil {
			return nil
		}
		if err := g.Definition(def); err != nil {
			return err
		}
	}
}

// Definition lowers one function or object definition.
func (g *Gen) Definition(def *ir.Definition) error {
	if def.IsFunction() {
		return g.Function(def)
	}
	return g.Object(def)
}

// Object defines a file-scope variable's storage in .data: its
// compile-time initializer bytes when present, else that many zero
// bytes (this object has no .bss section; every object's storage is
// materialized in .data, spec.md §5's "append-only byte-buffer model"
// kept uniform rather than adding a second, sparser section kind).
func (g *Gen) Object(def *ir.Definition) error {
	size := types.SizeOf(def.Symbol.Type)
	data := make([]byte, size)
	if len(def.InitData) > 0 {
		copy(data, def.InitData)
	} else {
		g.foldConstantInit(def, data)
	}
	off := g.obj.AppendData(data)
	g.obj.DefineData(def.Symbol, off, int64(size))
	g.dataDefined[def.Symbol] = true
	return nil
}

// foldConstantInit evaluates a file-scope initializer's block at
// compile time instead of lowering it to code: pkg/parser builds a
// global initializer the same way it builds a function body (an
// eval.Context driving ordinary OpConv/OpStore instructions into a
// throwaway block), but a translation-unit-scope object's storage must
// resolve to link-time constant bytes, never a sequence run at program
// startup. This walks that block folding OpConv chains of immediates
// and recording each OpStore of a known-constant value into def's own
// storage. An initializer this cannot reduce to a constant (a string
// literal's address, e.g. `char *s = "hi";`, which would need a .data
// relocation pkg/elfobj does not support) is left zero-filled, see
// DESIGN.md. `int *p = &g;` never reaches this point: pkg/parser
// rejects it as not a compile-time constant.
func (g *Gen) foldConstantInit(def *ir.Definition, data []byte) {
	known := map[*symtab.Symbol]uint64{}
	constOf := func(v ir.Var) (uint64, bool) {
		switch v.Kind {
		case ir.Immediate:
			return v.ImmUint, true
		case ir.Direct:
			n, ok := known[v.Symbol]
			return n, ok
		}
		return 0, false
	}
	for _, b := range def.Blocks {
		for _, instr := range b.Code {
			switch instr.Op {
			case ir.OpConv:
				if n, ok := constOf(instr.Arg1); ok && instr.Target.Kind == ir.Direct {
					known[instr.Target.Symbol] = n
				}
			case ir.OpStore:
				n, ok := constOf(instr.Arg1)
				if !ok || instr.Target.Symbol != def.Symbol {
					continue
				}
				writeLittleEndian(data, instr.Target.Offset, n, types.SizeOf(instr.Target.Type))
			}
		}
	}
}

func writeLittleEndian(data []byte, offset int, v uint64, size int) {
	for i := 0; i < size && offset+i < len(data); i++ {
		data[offset+i] = byte(v >> (8 * i))
	}
}

// Function lowers one function body: prologue, every block in id
// order (skipping a trailing unconditional jump when its target is
// simply the next block in that order), epilogue.
func (g *Gen) Function(def *ir.Definition) error {
	fnType := types.Unwrap(def.Symbol.Type)
	_, g.retClass = abi.ClassifyCall(nil, fnType.Next)
	g.retPtrSym = nil
	if g.retClass.IsMemory() {
		g.retPtrSym = &symtab.Symbol{Name: "$retptr." + def.Symbol.Name, Kind: symtab.Temporary, Type: types.BasicLong}
	}

	var f *frame
	if g.retPtrSym != nil {
		f = buildFrame(def, g.retPtrSym)
	} else {
		f = buildFrame(def)
	}
	g.labels = make(map[ir.BlockID]*symtab.Symbol, len(def.Blocks))
	for _, b := range def.Blocks {
		g.labels[b.ID] = &symtab.Symbol{Name: fmt.Sprintf("%s.L%d", def.Symbol.Name, b.ID), Kind: symtab.Label}
	}

	start := g.obj.TextLen()
	g.obj.DefineText(def.Symbol, start, 0)

	g.emit(x64.Instruction{Op: x64.PUSH, SrcReg: x64.RegOp{Reg: x64.BP, Width: 8}})
	g.emit(x64.Instruction{Op: x64.MOV, Form: x64.FormRegReg, SrcReg: x64.RegOp{Reg: x64.SP, Width: 8}, DstReg: x64.RegOp{Reg: x64.BP, Width: 8}})
	if f.size > 0 {
		g.emit(x64.Instruction{Op: x64.SUB, Form: x64.FormImmReg, SrcImm: x64.ImmOp{Kind: x64.ImmInt, Width: 8, Value: int64(f.size)}, DstReg: x64.RegOp{Reg: x64.SP, Width: 8}})
	}
	g.spillParams(f, def)

	for i, b := range def.Blocks {
		g.obj.DefineText(g.labels[b.ID], g.obj.TextLen(), 0)
		for _, instr := range b.Code {
			g.lowerInstruction(f, instr)
		}
		fallthroughNext := ir.BlockID(i + 1)
		g.lowerTerminator(f, b, fallthroughNext)
	}

	g.obj.DefineText(def.Symbol, start, int64(g.obj.TextLen()-start))
	return nil
}

// spillParams stores each incoming integer-class parameter from its
// System-V argument register into its frame slot; parameters
// classified Memory (aggregates larger than four eightbytes, or with a
// misaligned member) are not spilled, see DESIGN.md. When the function's own return value is
// classified MEMORY, the caller-supplied destination pointer arrives
// in the first integer register ahead of every real parameter
// (abi.ClassifyCall's nextIntReg=1 reservation), so that register is
// spilled into g.retPtrSym's slot first and every declared parameter
// shifts one register over.
func (g *Gen) spillParams(f *frame, def *ir.Definition) {
	reg := 0
	if g.retPtrSym != nil {
		slot, _ := f.slot(g.retPtrSym)
		g.emit(x64.Instruction{
			Op: x64.MOV, Form: x64.FormRegMem,
			SrcReg: x64.RegOp{Reg: intParamRegs[0], Width: 8},
			DstMem: x64.MemOp{Base: x64.BP, Disp: slot, Width: 8},
		})
		reg = 1
	}
	for _, p := range def.Params {
		if reg >= len(intParamRegs) {
			break
		}
		width := operandWidth(p.Type)
		slot, _ := f.slot(p)
		g.emit(x64.Instruction{
			Op: x64.MOV, Form: x64.FormRegMem,
			SrcReg: x64.RegOp{Reg: intParamRegs[reg], Width: width},
			DstMem: x64.MemOp{Base: x64.BP, Disp: slot, Width: width},
		})
		reg++
	}
}

func (g *Gen) emit(instr x64.Instruction) {
	code := x64.Encode(instr, g.obj.TextLen(), g.obj)
	g.obj.AppendText(code.Bytes)
}

// ensureGlobalData lazily materializes a string literal's bytes into
// .data the first time codegen encounters its symbol; every other
// global symbol (a file-scope object or function) is expected to have
// already been defined by its own Definition.
func (g *Gen) ensureGlobalData(sym *symtab.Symbol) {
	if sym == nil || sym.Kind != symtab.StringValue || g.dataDefined[sym] {
		return
	}
	bytes := append([]byte(sym.StringData), 0)
	off := g.obj.AppendData(bytes)
	g.obj.DefineData(sym, off, int64(len(bytes)))
	g.dataDefined[sym] = true
}
