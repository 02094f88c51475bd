package eval

import (
	"testing"

	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/types"
)

func newCtx() *Context {
	def := &ir.Definition{Symbol: &symtab.Symbol{Name: "f"}}
	b := def.NewBlock("entry")
	return &Context{Types: types.NewArena(), Syms: symtab.New(), Def: def, Block: b}
}

func TestConstantAdditionFolds(t *testing.T) {
	c := newCtx()
	a := ir.ImmInt(types.BasicInt, 2)
	b := ir.ImmInt(types.BasicInt, 3)
	r := c.Binary(ir.OpAdd, a, b)
	if r.Kind != ir.Immediate || r.ImmUint != 5 {
		t.Fatalf("2+3 = %+v, want constant 5", r)
	}
	if len(c.Def.Block(c.Block).Code) != 0 {
		t.Fatalf("constant folding should not emit any instruction")
	}
}

func TestBinaryOverVariableEmitsInstruction(t *testing.T) {
	c := newCtx()
	sym := c.Syms.NewTemp(types.BasicInt)
	v := ir.DirectOf(sym, true)
	r := c.Binary(ir.OpAdd, v, ir.ImmInt(types.BasicInt, 1))
	if r.Kind == ir.Immediate {
		t.Fatalf("non-constant operand must not fold")
	}
	code := c.Def.Block(c.Block).Code
	if len(code) != 1 || code[0].Op != ir.OpAdd {
		t.Fatalf("code = %+v, want one add instruction", code)
	}
}

func TestRValueOfDerefEmitsLoad(t *testing.T) {
	c := newCtx()
	sym := c.Syms.NewTemp(c.Types.NewPointer(types.BasicInt))
	ptr := ir.DirectOf(sym, true)
	deref := c.Indirect(ptr)
	v := c.RValue(deref)
	if v.Kind == ir.Deref {
		t.Fatalf("RValue result must not still be a Deref operand")
	}
	code := c.Def.Block(c.Block).Code
	if len(code) != 1 || code[0].Op != ir.OpLoad {
		t.Fatalf("code = %+v, want one load", code)
	}
}

func TestLogicalAndSplicesThreeBlocksAndMerges(t *testing.T) {
	c := newCtx()
	lhsSym := c.Syms.NewTemp(types.BasicInt)
	rhsSym := c.Syms.NewTemp(types.BasicInt)
	startBlocks := len(c.Def.Blocks)

	result := c.LogicalAnd(
		func() ir.Var { return ir.DirectOf(lhsSym, true) },
		func() ir.Var { return ir.DirectOf(rhsSym, true) },
	)
	if len(c.Def.Blocks) != startBlocks+3 {
		t.Fatalf("LogicalAnd should splice exactly 3 new blocks, got %d new", len(c.Def.Blocks)-startBlocks)
	}
	if result.Type != types.BasicInt {
		t.Fatalf("&&'s result type = %v, want int", result.Type)
	}
}

func TestConditionalMergesBothArms(t *testing.T) {
	c := newCtx()
	cond := ir.ImmInt(types.BasicInt, 1)
	result := c.Conditional(cond,
		func() ir.Var { return ir.ImmInt(types.BasicInt, 10) },
		func() ir.Var { return ir.ImmInt(types.BasicInt, 20) },
		types.BasicInt,
	)
	if result.Type != types.BasicInt {
		t.Fatalf("?: result type = %v, want int", result.Type)
	}
}

func TestAssignConvertsBeforeStoring(t *testing.T) {
	c := newCtx()
	sym := c.Syms.NewTemp(types.BasicLong)
	lhs := ir.DirectOf(sym, true)
	rhs := ir.ImmInt(types.BasicInt, 7)

	c.Assign(lhs, rhs)
	code := c.Def.Block(c.Block).Code
	if len(code) == 0 || code[len(code)-1].Op != ir.OpStore {
		t.Fatalf("code = %+v, want a trailing store", code)
	}
}

func TestAssignToArrayStoresUndecayed(t *testing.T) {
	c := newCtx()
	arrTy := c.Types.NewArray(types.BasicChar, 3)
	lhsSym := c.Syms.NewTemp(arrTy)
	lhs := ir.DirectOf(lhsSym, true)

	strSym := c.Syms.NewTemp(c.Types.NewArray(types.BasicChar, 3))
	strSym.Kind = symtab.StringValue
	strSym.StringData = "hi"
	rhs := ir.DirectOf(strSym, true)

	result := c.Assign(lhs, rhs)
	if !types.IsArray(result.Type) {
		t.Fatalf("Assign to an array lhs must return the undecayed array value, got %v", result.Type)
	}
	code := c.Def.Block(c.Block).Code
	if len(code) != 1 || code[0].Op != ir.OpStore || code[0].Arg1.Symbol != strSym {
		t.Fatalf("code = %+v, want a single store of the string symbol directly, no OpAddr/OpConv", code)
	}
}

func TestArrayDecaysToPointerInBinaryContext(t *testing.T) {
	c := newCtx()
	arrTy := c.Types.NewArray(types.BasicInt, 4)
	sym := c.Syms.NewTemp(arrTy)
	arr := ir.DirectOf(sym, true)

	decayed := c.Decay(arr)
	if !types.IsPointer(decayed.Type) {
		t.Fatalf("decayed array type = %v, want pointer", decayed.Type)
	}
}
