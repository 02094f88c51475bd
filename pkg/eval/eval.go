// Package eval implements the expression evaluator of spec.md §4.3:
// constant folding, lvalue-to-rvalue conversion, array decay,
// assignment conversion, short-circuit &&/||, ?: via a merge block,
// and call lowering through the ABI classifier. It emits directly into
// a pkg/ir Definition's current block, the way
// original_source/src/parser/eval.c's eval() dispatches by operator
// and appends to the block under construction rather than building a
// separate expression tree.
package eval

import (
	"c89cc/pkg/abi"
	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/types"
)

// Context is the evaluator's working state: the type arena it may
// allocate converted types from, the symbol table it mints temporaries
// from, and the function definition plus current block it emits into.
type Context struct {
	Types  *types.Arena
	Syms   *symtab.Table
	Def    *ir.Definition
	Block  ir.BlockID
}

func (c *Context) emit(instr ir.Instruction) {
	c.Def.Block(c.Block).Emit(instr)
}

// temp mints a fresh temporary of type ty and returns it as a direct
// IR variable.
func (c *Context) temp(ty *types.Type) ir.Var {
	sym := c.Syms.NewTemp(ty)
	return ir.DirectOf(sym, true)
}

// RValue converts an lvalue Var into a loaded value: Deref operands
// emit an explicit OpLoad into a fresh temporary (spec.md §4.3
// "lvalue-to-rvalue conversion"); Direct/Address/Immediate operands
// are already values and pass through unchanged except that their
// LValue flag is cleared.
func (c *Context) RValue(v ir.Var) ir.Var {
	if v.Kind == ir.Deref {
		t := c.temp(v.Type)
		c.emit(ir.Instruction{Target: t, Op: ir.OpLoad, Arg1: v})
		return t
	}
	v.LValue = false
	return v
}

// Decay converts an array-typed value to a pointer to its first
// element (spec.md §4.3 "array decay"); other operands pass through.
func (c *Context) Decay(v ir.Var) ir.Var {
	if !types.IsArray(v.Type) {
		return v
	}
	elem := v.Type.Next
	ptr := c.Types.NewPointer(elem)
	t := c.temp(ptr)
	c.emit(ir.Instruction{Target: t, Op: ir.OpAddr, Arg1: v})
	return t
}

// Convert performs an assignment-style conversion of v to ty, emitting
// an explicit OpConv when the representations differ (spec.md §4.3
// "assignment conversion").
func (c *Context) Convert(v ir.Var, ty *types.Type) ir.Var {
	v = c.RValue(c.Decay(v))
	if types.Equal(v.Type, ty) {
		return v
	}
	t := c.temp(ty)
	c.emit(ir.Instruction{Target: t, Op: ir.OpConv, Arg1: v})
	return t
}

// foldImmediate constant-folds an arithmetic op over two immediates,
// returning ok=false when either operand is not a compile-time
// constant (spec.md §4.3 "evaluates constant subexpressions eagerly").
func foldImmediate(op ir.Op, a, b ir.Var, resultTy *types.Type) (ir.Var, bool) {
	if a.Kind != ir.Immediate || b.Kind != ir.Immediate {
		return ir.Var{}, false
	}
	x, y := int64(a.ImmUint), int64(b.ImmUint)
	var r int64
	switch op {
	case ir.OpAdd:
		r = x + y
	case ir.OpSub:
		r = x - y
	case ir.OpMul:
		r = x * y
	case ir.OpDiv:
		if y == 0 {
			return ir.Var{}, false
		}
		r = x / y
	case ir.OpMod:
		if y == 0 {
			return ir.Var{}, false
		}
		r = x % y
	case ir.OpAnd:
		r = x & y
	case ir.OpOr:
		r = x | y
	case ir.OpXor:
		r = x ^ y
	case ir.OpShl:
		r = x << uint(y)
	case ir.OpShr:
		r = x >> uint(y)
	case ir.OpEq:
		r = boolInt(x == y)
	case ir.OpNe:
		r = boolInt(x != y)
	case ir.OpLt:
		r = boolInt(x < y)
	case ir.OpLe:
		r = boolInt(x <= y)
	case ir.OpGt:
		r = boolInt(x > y)
	case ir.OpGe:
		r = boolInt(x >= y)
	default:
		return ir.Var{}, false
	}
	return ir.ImmInt(resultTy, uint64(r)), true
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Binary evaluates a binary arithmetic/comparison/bitwise op, applying
// the usual arithmetic conversions and folding constants where
// possible.
func (c *Context) Binary(op ir.Op, lhs, rhs ir.Var) ir.Var {
	lhs = c.RValue(c.Decay(lhs))
	rhs = c.RValue(c.Decay(rhs))

	resultTy := lhs.Type
	if types.IsArithmetic(lhs.Type) && types.IsArithmetic(rhs.Type) {
		resultTy = types.UsualArithmeticConversion(c.Types, lhs.Type, rhs.Type)
		lhs = c.Convert(lhs, resultTy)
		rhs = c.Convert(rhs, resultTy)
	}
	if isComparison(op) {
		resultTy = types.BasicInt
	}

	if folded, ok := foldImmediate(op, lhs, rhs, resultTy); ok {
		return folded
	}

	t := c.temp(resultTy)
	c.emit(ir.Instruction{Target: t, Op: op, Arg1: lhs, Arg2: rhs})
	return t
}

func isComparison(op ir.Op) bool {
	switch op {
	case ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		return true
	}
	return false
}

// Unary evaluates a unary minus/complement/logical-not.
func (c *Context) Unary(op ir.Op, v ir.Var) ir.Var {
	v = c.RValue(c.Decay(v))
	if v.Kind == ir.Immediate {
		x := int64(v.ImmUint)
		switch op {
		case ir.OpNeg:
			return ir.ImmInt(v.Type, uint64(-x))
		case ir.OpNot:
			return ir.ImmInt(v.Type, uint64(^x))
		case ir.OpLNot:
			return ir.ImmInt(types.BasicInt, uint64(boolInt(x == 0)))
		}
	}
	ty := v.Type
	if op == ir.OpLNot {
		ty = types.BasicInt
	}
	t := c.temp(ty)
	c.emit(ir.Instruction{Target: t, Op: op, Arg1: v})
	return t
}

// AddressOf takes the address of an lvalue, producing a pointer value
// (spec.md §4.3 "address-of").
func (c *Context) AddressOf(v ir.Var) ir.Var {
	ptr := c.Types.NewPointer(v.Type)
	t := c.temp(ptr)
	c.emit(ir.Instruction{Target: t, Op: ir.OpAddr, Arg1: v})
	return t
}

// Indirect dereferences a pointer value, producing a Deref lvalue that
// RValue will later load (spec.md §4.3 "deref").
func (c *Context) Indirect(v ir.Var) ir.Var {
	v = c.RValue(c.Decay(v))
	pointee := types.Deref(v.Type)
	return ir.Var{Kind: ir.Deref, Type: pointee, Symbol: v.Symbol, Offset: v.Offset, LValue: true}
}

// Assign stores rhs (converted to lhs's type) into the lvalue lhs,
// returning the stored rvalue (spec.md §4.3 "assignment conversion").
// An array-typed lhs is special-cased: ordinary assignment never
// targets an array (a plain `a = b;` where a is an array is a
// constraint violation the parser rejects), so the only array-typed
// lhs Assign ever sees is a `char s[] = "text";`-style initializer.
// Converting rhs there would Decay it to a pointer and defeat
// pkg/codegen.copyAggregate's byte-range copy (it needs an
// address-of-storage operand on both sides, not a pointer value), so
// rhs is stored as-is, undecayed.
func (c *Context) Assign(lhs, rhs ir.Var) ir.Var {
	if types.IsArray(lhs.Type) {
		c.emit(ir.Instruction{Target: lhs, Op: ir.OpStore, Arg1: rhs})
		return rhs
	}
	val := c.Convert(rhs, lhs.Type)
	c.emit(ir.Instruction{Target: lhs, Op: ir.OpStore, Arg1: val})
	return val
}

// LogicalAnd evaluates `lhs && rhs` with short-circuit control flow:
// lhs is tested first; rhs is only evaluated (and its own side effects
// only occur) when lhs is true, spliced into the CFG as a diamond of
// blocks merging into a single 0/1 result (spec.md §4.3 "short-circuit
// && via CFG splicing").
func (c *Context) LogicalAnd(evalLHS, evalRHS func() ir.Var) ir.Var {
	return c.shortCircuit(evalLHS, evalRHS, false)
}

// LogicalOr is LogicalAnd's `||` counterpart: rhs is only evaluated
// when lhs is false.
func (c *Context) LogicalOr(evalLHS, evalRHS func() ir.Var) ir.Var {
	return c.shortCircuit(evalLHS, evalRHS, true)
}

func (c *Context) shortCircuit(evalLHS, evalRHS func() ir.Var, isOr bool) ir.Var {
	lhs := c.RValue(evalLHS())

	rhsBlock := c.Def.NewBlock(".rhs")
	shortBlock := c.Def.NewBlock(".short")
	mergeBlock := c.Def.NewBlock(".merge")

	if isOr {
		c.Def.SetBranch(c.Block, lhs, shortBlock, rhsBlock)
	} else {
		c.Def.SetBranch(c.Block, lhs, rhsBlock, shortBlock)
	}

	result := c.Syms.NewTemp(types.BasicInt)

	c.Block = rhsBlock
	rhs := c.RValue(evalRHS())
	rhsNonZero := c.temp(types.BasicInt)
	c.emit(ir.Instruction{Target: rhsNonZero, Op: ir.OpNe, Arg1: rhs, Arg2: ir.ImmInt(rhs.Type, 0)})
	c.emit(ir.Instruction{Target: ir.DirectOf(result, true), Op: ir.OpConv, Arg1: rhsNonZero})
	c.Def.SetJump(rhsBlock, mergeBlock)

	c.Block = shortBlock
	c.emit(ir.Instruction{Target: ir.DirectOf(result, true), Op: ir.OpConv, Arg1: ir.ImmInt(types.BasicInt, boolIntVal(isOr))})
	c.Def.SetJump(shortBlock, mergeBlock)

	c.Block = mergeBlock
	return c.RValue(ir.DirectOf(result, true))
}

func boolIntVal(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Conditional evaluates `cond ? evalThen() : evalElse()`, merging into
// a fresh block and a fresh temporary holding whichever side ran
// (spec.md §4.3 "?: via merge block").
func (c *Context) Conditional(cond ir.Var, evalThen, evalElse func() ir.Var, resultTy *types.Type) ir.Var {
	thenBlock := c.Def.NewBlock(".then")
	elseBlock := c.Def.NewBlock(".else")
	mergeBlock := c.Def.NewBlock(".merge")
	c.Def.SetBranch(c.Block, c.RValue(cond), thenBlock, elseBlock)

	result := c.Syms.NewTemp(resultTy)

	c.Block = thenBlock
	tv := c.Convert(evalThen(), resultTy)
	c.emit(ir.Instruction{Target: ir.DirectOf(result, true), Op: ir.OpConv, Arg1: tv})
	c.Def.SetJump(thenBlock, mergeBlock)

	c.Block = elseBlock
	ev := c.Convert(evalElse(), resultTy)
	c.emit(ir.Instruction{Target: ir.DirectOf(result, true), Op: ir.OpConv, Arg1: ev})
	c.Def.SetJump(elseBlock, mergeBlock)

	c.Block = mergeBlock
	return c.RValue(ir.DirectOf(result, true))
}

// Call lowers a function call: each argument is pushed in order with
// OpParam after being classified by the System-V ABI (spec.md §4.3
// "calls via param()/eval_call"), then OpCall produces the result.
func (c *Context) Call(callee *symtab.Symbol, args []ir.Var) ir.Var {
	fnType := types.Unwrap(callee.Type)
	retTy := fnType.Next

	argTypes := make([]*types.Type, len(args))
	values := make([]ir.Var, len(args))
	for i, a := range args {
		v := c.RValue(c.Decay(a))
		values[i] = v
		argTypes[i] = v.Type
	}
	_, retClass := abi.ClassifyCall(argTypes, retTy)

	for _, v := range values {
		c.emit(ir.Instruction{Op: ir.OpParam, Arg1: v})
	}

	result := ir.Var{}
	if retTy != nil && retTy.Kind != types.Void {
		result = c.temp(retTy)
	}
	_ = retClass // classification drives register assignment in the backend, not the IR shape
	c.emit(ir.Instruction{Target: result, Op: ir.OpCall, Arg1: ir.DirectOf(callee, false), Args: values})
	return result
}

// VaStart and VaArg lower __builtin_va_start and __builtin_va_arg as
// ordinary OpAddr and load sequences rather than dedicated IR opcodes.
// VaStart stores the address of the last named parameter's frame slot
// into ap; VaArg reads one ty value through the pointer held in ap and
// does not advance ap. No gp_offset/fp_offset/overflow_arg_area/
// reg_save_area va_list layout is modeled, and pkg/codegen reserves no
// register-save area in a vararg function's prologue.
func (c *Context) VaStart(apSym *symtab.Symbol, lastNamedParam ir.Var) ir.Var {
	return c.Assign(ir.DirectOf(apSym, true), c.AddressOf(lastNamedParam))
}

func (c *Context) VaArg(ap ir.Var, ty *types.Type) ir.Var {
	ptr := c.RValue(ap)
	deref := ir.Var{Kind: ir.Deref, Type: ty, Symbol: ptr.Symbol, Offset: ptr.Offset, LValue: true}
	return c.RValue(deref)
}
