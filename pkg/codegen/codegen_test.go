package codegen

import (
	"bytes"
	"debug/elf"
	"testing"

	"c89cc/pkg/elfobj"
	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/types"
)

// buildAdd constructs `int add(int a, int b) { return a + b; }` by
// hand, the same shape pkg/eval would have emitted, without going
// through pkg/parser.
func buildAdd() *ir.Definition {
	arena := types.NewArena()
	fnType := arena.NewFunction(types.BasicInt)
	sym := &symtab.Symbol{Name: "add", Type: fnType, Linkage: symtab.LinkExtern}
	a := &symtab.Symbol{Name: "a", Type: types.BasicInt, Kind: symtab.Declaration}
	b := &symtab.Symbol{Name: "b", Type: types.BasicInt, Kind: symtab.Declaration}

	def := &ir.Definition{Symbol: sym, Params: []*symtab.Symbol{a, b}}
	entry := def.NewBlock("entry")
	def.Entry = entry

	sum := ir.Var{Kind: ir.Direct, Type: types.BasicInt, Symbol: &symtab.Symbol{Name: "t0", Kind: symtab.Temporary, Type: types.BasicInt}}
	def.Block(entry).Emit(ir.Instruction{
		Target: sum, Op: ir.OpAdd,
		Arg1: ir.DirectOf(a, true), Arg2: ir.DirectOf(b, true),
	})
	def.SetReturn(entry, sum)
	return def
}

// buildAbs constructs `int abs(int x) { if (x) return x; else return
// 0; }`, exercising TermBranch lowering and the fallthrough-elision
// path in lowerTerminator/jumpTo.
func buildAbs() *ir.Definition {
	arena := types.NewArena()
	fnType := arena.NewFunction(types.BasicInt)
	sym := &symtab.Symbol{Name: "abs_or_zero", Type: fnType, Linkage: symtab.LinkExtern}
	x := &symtab.Symbol{Name: "x", Type: types.BasicInt, Kind: symtab.Declaration}

	def := &ir.Definition{Symbol: sym, Params: []*symtab.Symbol{x}}
	entry := def.NewBlock("entry")
	thenB := def.NewBlock("then")
	elseB := def.NewBlock("else")
	def.Entry = entry

	def.SetBranch(entry, ir.DirectOf(x, true), thenB, elseB)
	def.SetReturn(thenB, ir.DirectOf(x, true))
	def.SetReturn(elseB, ir.ImmInt(types.BasicInt, 0))
	return def
}

// buildCaller constructs `int call_it(void) { return add(1, 2); }`,
// exercising lowerCall's argument-register loading and result store.
func buildCaller(callee *symtab.Symbol) *ir.Definition {
	arena := types.NewArena()
	fnType := arena.NewFunction(types.BasicInt)
	sym := &symtab.Symbol{Name: "call_it", Type: fnType, Linkage: symtab.LinkExtern}

	def := &ir.Definition{Symbol: sym}
	entry := def.NewBlock("entry")
	def.Entry = entry

	result := ir.Var{Kind: ir.Direct, Type: types.BasicInt, Symbol: &symtab.Symbol{Name: "t0", Kind: symtab.Temporary, Type: types.BasicInt}}
	args := []ir.Var{ir.ImmInt(types.BasicInt, 1), ir.ImmInt(types.BasicInt, 2)}
	def.Block(entry).Emit(ir.Instruction{Target: result, Op: ir.OpCall, Arg1: ir.DirectOf(callee, false), Args: args})
	def.SetReturn(entry, result)
	return def
}

// buildReturnPair constructs `struct Pair { long a, b; } make_pair(void)
// { struct Pair p; return p; }`: a 16-byte, two-eightbyte INTEGER-class
// return, exercising lowerReturnValue's RAX:RDX pack path rather than a
// single-register move.
func buildReturnPair(arena *types.Arena) *ir.Definition {
	pairTy := arena.NewStruct()
	arena.AddMember(pairTy, "a", types.BasicLong)
	arena.AddMember(pairTy, "b", types.BasicLong)
	fnType := arena.NewFunction(pairTy)
	sym := &symtab.Symbol{Name: "make_pair", Type: fnType, Linkage: symtab.LinkExtern}

	def := &ir.Definition{Symbol: sym}
	entry := def.NewBlock("entry")
	def.Entry = entry

	local := &symtab.Symbol{Name: "p", Type: pairTy, Kind: symtab.Declaration}
	def.Locals = append(def.Locals, local)
	def.SetReturn(entry, ir.DirectOf(local, true))
	return def
}

// buildReturnBig constructs a function returning a 40-byte struct
// (five eightbytes), classified Memory by pkg/abi: exercises the
// hidden-pointer return convention (a synthetic $retptr frame slot,
// spilled from the first integer argument register, copied into and
// echoed back through AX).
func buildReturnBig(arena *types.Arena) *ir.Definition {
	bigTy := arena.NewStruct()
	arena.AddMember(bigTy, "a", types.BasicLong)
	arena.AddMember(bigTy, "b", types.BasicLong)
	arena.AddMember(bigTy, "c", types.BasicLong)
	arena.AddMember(bigTy, "d", types.BasicLong)
	arena.AddMember(bigTy, "e", types.BasicLong)
	fnType := arena.NewFunction(bigTy)
	sym := &symtab.Symbol{Name: "make_big", Type: fnType, Linkage: symtab.LinkExtern}

	def := &ir.Definition{Symbol: sym}
	entry := def.NewBlock("entry")
	def.Entry = entry

	local := &symtab.Symbol{Name: "v", Type: bigTy, Kind: symtab.Declaration}
	def.Locals = append(def.Locals, local)
	def.SetReturn(entry, ir.DirectOf(local, true))
	return def
}

func flushAndParse(t *testing.T, defs ...*ir.Definition) *elf.File {
	t.Helper()
	obj := elfobj.New()
	gen := New(obj)
	for _, def := range defs {
		if err := gen.Function(def); err != nil {
			t.Fatalf("Function: %v", err)
		}
	}
	out, err := obj.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("debug/elf could not parse codegen output: %v", err)
	}
	return f
}

func TestAddFunctionEmitsNonEmptyTextAndSymbol(t *testing.T) {
	f := flushAndParse(t, buildAdd())
	defer f.Close()

	text := f.Section(".text")
	if text == nil {
		t.Fatalf("missing .text section")
	}
	data, err := text.Data()
	if err != nil || len(data) == 0 {
		t.Fatalf(".text data = %v, err %v, want non-empty", data, err)
	}

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	found := false
	for _, s := range syms {
		if s.Name == "add" {
			found = true
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
				t.Fatalf("add symbol type = %v, want STT_FUNC", elf.ST_TYPE(s.Info))
			}
		}
	}
	if !found {
		t.Fatalf("symtab missing defined symbol %q", "add")
	}
}

func TestBranchFunctionEncodesWithoutPanicking(t *testing.T) {
	f := flushAndParse(t, buildAbs())
	defer f.Close()
	text := f.Section(".text")
	if text == nil {
		t.Fatalf("missing .text section")
	}
}

func TestCallFunctionRegistersRelocationAgainstCallee(t *testing.T) {
	arena := types.NewArena()
	calleeType := arena.NewFunction(types.BasicInt)
	callee := &symtab.Symbol{Name: "add", Type: calleeType, Linkage: symtab.LinkExtern}

	obj := elfobj.New()
	gen := New(obj)
	if err := gen.Function(buildCaller(callee)); err != nil {
		t.Fatalf("Function: %v", err)
	}
	out, err := obj.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("debug/elf could not parse codegen output: %v", err)
	}
	defer f.Close()

	relocs, err := f.Section(".rela.text").Data()
	if err != nil {
		t.Fatalf("reading .rela.text: %v", err)
	}
	if len(relocs) == 0 {
		t.Fatalf("expected a relocation against the undefined callee %q", "add")
	}
}

func TestReturnTwoEightbyteStructPacksIntoRaxRdx(t *testing.T) {
	arena := types.NewArena()
	def := buildReturnPair(arena)
	obj := elfobj.New()
	gen := New(obj)
	if err := gen.Function(def); err != nil {
		t.Fatalf("Function: %v", err)
	}
	if len(gen.retClass.Classes) != 2 {
		t.Fatalf("retClass = %+v, want a two-eightbyte Integer classification", gen.retClass)
	}
	if gen.retPtrSym != nil {
		t.Fatalf("a 16-byte struct return must not use the hidden-pointer convention")
	}
}

func TestReturnLargeStructUsesHiddenPointer(t *testing.T) {
	arena := types.NewArena()
	def := buildReturnBig(arena)
	obj := elfobj.New()
	gen := New(obj)
	if err := gen.Function(def); err != nil {
		t.Fatalf("Function: %v", err)
	}
	if !gen.retClass.IsMemory() {
		t.Fatalf("a 40-byte struct return must classify Memory")
	}
	if gen.retPtrSym == nil {
		t.Fatalf("Memory-classified return must allocate a hidden-pointer symbol")
	}
	f := buildFrame(def, gen.retPtrSym)
	if _, ok := f.slot(gen.retPtrSym); !ok {
		t.Fatalf("hidden-pointer symbol must get its own frame slot")
	}
}

func TestBuildFrameGivesEveryParamLocalAndTempADistinctSlot(t *testing.T) {
	def := buildAdd()
	f := buildFrame(def)
	a, b := def.Params[0], def.Params[1]
	slotA, ok := f.slot(a)
	if !ok {
		t.Fatalf("param a has no slot")
	}
	slotB, ok := f.slot(b)
	if !ok {
		t.Fatalf("param b has no slot")
	}
	if slotA == slotB {
		t.Fatalf("params a and b share a slot: %d", slotA)
	}
	if slotA >= 0 || slotB >= 0 {
		t.Fatalf("slots must be negative (below rbp): a=%d b=%d", slotA, slotB)
	}
	if f.size%16 != 0 {
		t.Fatalf("frame size %d not 16-byte aligned", f.size)
	}
}
