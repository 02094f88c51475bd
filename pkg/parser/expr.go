package parser

import (
	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/token"
	"c89cc/pkg/types"
)

// parseExpr parses a full comma expression: `e1, e2, ...` evaluates
// each operand left to right and yields the last (spec.md §4.3's
// expression grammar includes the comma operator at the top level).
func (p *Parser) parseExpr() (ir.Var, error) {
	v, err := p.parseAssignExpr()
	if err != nil {
		return ir.Var{}, err
	}
	for p.at(',') {
		p.next()
		v, err = p.parseAssignExpr()
		if err != nil {
			return ir.Var{}, err
		}
	}
	return v, nil
}

var compoundAssignOp = map[token.Kind]ir.Op{
	token.ADD_EQ: ir.OpAdd, token.SUB_EQ: ir.OpSub, token.MUL_EQ: ir.OpMul, token.DIV_EQ: ir.OpDiv,
	token.MOD_EQ: ir.OpMod, token.AND_EQ: ir.OpAnd, token.OR_EQ: ir.OpOr, token.XOR_EQ: ir.OpXor,
	token.SHL_EQ: ir.OpShl, token.SHR_EQ: ir.OpShr,
}

// parseAssignExpr implements spec.md §4.3's assignment conversion at
// `=` and the compound-assignment operators, right-associatively.
func (p *Parser) parseAssignExpr() (ir.Var, error) {
	lhs, err := p.parseConditional()
	if err != nil {
		return ir.Var{}, err
	}
	if p.at('=') {
		p.next()
		rhs, err := p.parseAssignExpr()
		if err != nil {
			return ir.Var{}, err
		}
		return p.ec.Assign(lhs, rhs), nil
	}
	if op, ok := compoundAssignOp[p.peek().Kind]; ok {
		p.next()
		rhs, err := p.parseAssignExpr()
		if err != nil {
			return ir.Var{}, err
		}
		return p.ec.Assign(lhs, p.ec.Binary(op, lhs, rhs)), nil
	}
	return lhs, nil
}

// parseConditional implements `cond ? then : else`, right-associative
// (spec.md §4.3 "?: via merge block").
func (p *Parser) parseConditional() (ir.Var, error) {
	cond, err := p.parseLogicalOr()
	if err != nil {
		return ir.Var{}, err
	}
	if !p.at('?') {
		return cond, nil
	}
	p.next()
	var thenErr, elseErr error
	result := p.ec.Conditional(cond,
		func() ir.Var {
			v, err := p.parseExpr()
			thenErr = err
			return v
		},
		func() ir.Var {
			if thenErr == nil {
				if _, err := p.expect(':'); err != nil {
					thenErr = err
				}
			}
			v, err := p.parseExpr()
			elseErr = err
			return v
		},
		types.BasicInt,
	)
	if thenErr != nil {
		return ir.Var{}, thenErr
	}
	return result, elseErr
}

func (p *Parser) parseLogicalOr() (ir.Var, error) {
	lhs, err := p.parseLogicalAnd()
	if err != nil {
		return ir.Var{}, err
	}
	for p.at(token.OR) {
		p.next()
		captured := lhs
		var rhsErr error
		lhs = p.ec.LogicalOr(
			func() ir.Var { return captured },
			func() ir.Var {
				v, err := p.parseLogicalAnd()
				rhsErr = err
				return v
			},
		)
		if rhsErr != nil {
			return ir.Var{}, rhsErr
		}
	}
	return lhs, nil
}

func (p *Parser) parseLogicalAnd() (ir.Var, error) {
	lhs, err := p.parseBitwiseOr()
	if err != nil {
		return ir.Var{}, err
	}
	for p.at(token.AND) {
		p.next()
		captured := lhs
		var rhsErr error
		lhs = p.ec.LogicalAnd(
			func() ir.Var { return captured },
			func() ir.Var {
				v, err := p.parseBitwiseOr()
				rhsErr = err
				return v
			},
		)
		if rhsErr != nil {
			return ir.Var{}, rhsErr
		}
	}
	return lhs, nil
}

// binaryLevel parses one left-associative precedence level: next is
// the tighter-binding level beneath it, ops maps the tokens accepted
// at this level to their IR opcode.
func (p *Parser) binaryLevel(next func() (ir.Var, error), ops map[token.Kind]ir.Op) (ir.Var, error) {
	lhs, err := next()
	if err != nil {
		return ir.Var{}, err
	}
	for {
		op, ok := ops[p.peek().Kind]
		if !ok {
			return lhs, nil
		}
		p.next()
		rhs, err := next()
		if err != nil {
			return ir.Var{}, err
		}
		lhs = p.ec.Binary(op, lhs, rhs)
	}
}

func (p *Parser) parseBitwiseOr() (ir.Var, error) {
	return p.binaryLevel(p.parseBitwiseXor, map[token.Kind]ir.Op{token.Kind('|'): ir.OpOr})
}
func (p *Parser) parseBitwiseXor() (ir.Var, error) {
	return p.binaryLevel(p.parseBitwiseAnd, map[token.Kind]ir.Op{token.Kind('^'): ir.OpXor})
}
func (p *Parser) parseBitwiseAnd() (ir.Var, error) {
	return p.binaryLevel(p.parseEquality, map[token.Kind]ir.Op{token.Kind('&'): ir.OpAnd})
}
func (p *Parser) parseEquality() (ir.Var, error) {
	return p.binaryLevel(p.parseRelational, map[token.Kind]ir.Op{token.EQ: ir.OpEq, token.NE: ir.OpNe})
}
func (p *Parser) parseRelational() (ir.Var, error) {
	return p.binaryLevel(p.parseShift, map[token.Kind]ir.Op{
		token.Kind('<'): ir.OpLt, token.Kind('>'): ir.OpGt, token.LE: ir.OpLe, token.GE: ir.OpGe,
	})
}
func (p *Parser) parseShift() (ir.Var, error) {
	return p.binaryLevel(p.parseAdditive, map[token.Kind]ir.Op{token.SHL: ir.OpShl, token.SHR: ir.OpShr})
}
func (p *Parser) parseAdditive() (ir.Var, error) {
	return p.binaryLevel(p.parseMultiplicative, map[token.Kind]ir.Op{token.Kind('+'): ir.OpAdd, token.Kind('-'): ir.OpSub})
}
func (p *Parser) parseMultiplicative() (ir.Var, error) {
	return p.binaryLevel(p.parseUnary, map[token.Kind]ir.Op{
		token.Kind('*'): ir.OpMul, token.Kind('/'): ir.OpDiv, token.Kind('%'): ir.OpMod,
	})
}

// parseUnary implements prefix `& * ~ ! - +`, prefix `++`/`--`
// (desugared to a compound assignment by 1), and `sizeof`.
func (p *Parser) parseUnary() (ir.Var, error) {
	switch p.peek().Kind {
	case '&':
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return ir.Var{}, err
		}
		return p.ec.AddressOf(v), nil
	case '*':
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return ir.Var{}, err
		}
		return p.ec.Indirect(v), nil
	case '-':
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return ir.Var{}, err
		}
		return p.ec.Unary(ir.OpNeg, v), nil
	case '+':
		p.next()
		return p.parseUnary()
	case '~':
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return ir.Var{}, err
		}
		return p.ec.Unary(ir.OpNot, v), nil
	case '!':
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return ir.Var{}, err
		}
		return p.ec.Unary(ir.OpLNot, v), nil
	case token.INC, token.DEC:
		opTok := p.next().Kind
		v, err := p.parseUnary()
		if err != nil {
			return ir.Var{}, err
		}
		op := ir.OpAdd
		if opTok == token.DEC {
			op = ir.OpSub
		}
		return p.ec.Assign(v, p.ec.Binary(op, v, ir.ImmInt(types.BasicInt, 1))), nil
	case token.SIZEOF:
		return p.parseSizeof()
	}
	return p.parsePostfix()
}

func (p *Parser) parseSizeof() (ir.Var, error) {
	p.next()
	if p.at('(') {
		// Ambiguous between `sizeof(type)` and `sizeof(expr)`; a type
		// name can only start with a specifier keyword or a typedef
		// identifier, which an expression's own leading token never is
		// at this position.
		if p.startsTypeName(p.lex.PeekAt(1)) {
			p.next()
			ty, err := p.parseSpecifiers()
			if err != nil {
				return ir.Var{}, err
			}
			_, ty, _, err = p.parseAbstractDeclarator(ty)
			if err != nil {
				return ir.Var{}, err
			}
			if _, err := p.expect(')'); err != nil {
				return ir.Var{}, err
			}
			return ir.ImmInt(types.BasicUnsignedLong, uint64(types.SizeOf(ty))), nil
		}
	}
	v, err := p.parseUnary()
	if err != nil {
		return ir.Var{}, err
	}
	return ir.ImmInt(types.BasicUnsignedLong, uint64(types.SizeOf(v.Type))), nil
}

func (p *Parser) startsTypeName(t token.Token) bool {
	if _, ok := specifierKind(t.Kind); ok {
		return true
	}
	switch t.Kind {
	case token.STRUCT, token.UNION, token.ENUM, token.CONST, token.VOLATILE:
		return true
	case token.IDENTIFIER:
		sym := p.syms.LookupIdent(t.String)
		return sym != nil && sym.Kind == symtab.Typedef
	}
	return false
}

// parseAbstractDeclarator parses a declarator with an optional name,
// used by sizeof(type) and cast expressions.
func (p *Parser) parseAbstractDeclarator(base *types.Type) (string, *types.Type, bool, error) {
	return p.parseDeclarator(base)
}

// parsePostfix implements array indexing, member access (`.`/`->`),
// calls and postfix `++`/`--`.
func (p *Parser) parsePostfix() (ir.Var, error) {
	v, err := p.parsePrimary()
	if err != nil {
		return ir.Var{}, err
	}
	for {
		switch p.peek().Kind {
		case '[':
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return ir.Var{}, err
			}
			if _, err := p.expect(']'); err != nil {
				return ir.Var{}, err
			}
			ptr := p.ec.Decay(v)
			ptr = p.ec.RValue(ptr)
			elemSize := types.SizeOf(types.Deref(ptr.Type))
			offsetVar := p.ec.Binary(ir.OpMul, p.ec.RValue(idx), ir.ImmInt(types.BasicLong, uint64(elemSize)))
			addr := p.ec.Binary(ir.OpAdd, ptr, offsetVar)
			v = p.ec.Indirect(addr)
		case '.':
			p.next()
			name, err := p.expect(token.IDENTIFIER)
			if err != nil {
				return ir.Var{}, err
			}
			v = p.memberAccess(v, name.String)
		case token.ARROW:
			p.next()
			name, err := p.expect(token.IDENTIFIER)
			if err != nil {
				return ir.Var{}, err
			}
			v = p.memberAccess(p.ec.Indirect(v), name.String)
		case '(':
			p.next()
			args, err := p.parseArgList()
			if err != nil {
				return ir.Var{}, err
			}
			if v.Symbol == nil {
				return ir.Var{}, p.errorf("call target is not a function symbol")
			}
			v = p.ec.Call(v.Symbol, args)
		case token.INC, token.DEC:
			opTok := p.next().Kind
			op := ir.OpAdd
			if opTok == token.DEC {
				op = ir.OpSub
			}
			old := p.ec.RValue(v)
			p.ec.Assign(v, p.ec.Binary(op, old, ir.ImmInt(types.BasicInt, 1)))
			v = old
		default:
			return v, nil
		}
	}
}

func (p *Parser) memberAccess(v ir.Var, name string) ir.Var {
	m := types.FindMember(types.Unwrap(v.Type), name)
	if m == nil {
		return v
	}
	v.Type = m.Type
	v.Offset += m.Offset
	return v
}

func (p *Parser) parseArgList() ([]ir.Var, error) {
	var args []ir.Var
	for !p.at(')') {
		v, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		if p.at(',') {
			p.next()
			continue
		}
		break
	}
	_, err := p.expect(')')
	return args, err
}

// parsePrimary implements literals, identifiers, parenthesized
// expressions and casts.
func (p *Parser) parsePrimary() (ir.Var, error) {
	switch p.peek().Kind {
	case token.NUMBER:
		t := p.next()
		ty := types.BasicInt
		if t.IsLong {
			ty = types.BasicLong
		}
		if t.Unsigned {
			if t.IsLong {
				ty = types.BasicUnsignedLong
			} else {
				ty = types.BasicUnsignedInt
			}
		}
		return ir.ImmInt(ty, uint64(t.Numeric)), nil
	case token.STRING:
		t := p.next()
		sym := p.syms.NewTemp(p.types.NewArray(types.BasicChar, len(t.String)+1))
		sym.Kind = symtab.StringValue
		sym.StringData = t.String
		return ir.DirectOf(sym, true), nil
	case token.IDENTIFIER:
		t := p.next()
		sym := p.syms.LookupIdent(t.String)
		if sym == nil {
			return ir.Var{}, p.errorf("undeclared identifier %q", t.String)
		}
		if sym.Kind == symtab.EnumConstant {
			return ir.ImmInt(sym.Type, uint64(sym.EnumValue)), nil
		}
		return ir.DirectOf(sym, true), nil
	case '(':
		p.next()
		if p.startsTypeName(p.peek()) {
			base, err := p.parseSpecifiers()
			if err != nil {
				return ir.Var{}, err
			}
			_, ty, _, err := p.parseAbstractDeclarator(base)
			if err != nil {
				return ir.Var{}, err
			}
			if _, err := p.expect(')'); err != nil {
				return ir.Var{}, err
			}
			v, err := p.parseUnary()
			if err != nil {
				return ir.Var{}, err
			}
			return p.ec.Convert(v, ty), nil
		}
		v, err := p.parseExpr()
		if err != nil {
			return ir.Var{}, err
		}
		_, err = p.expect(')')
		return v, err
	}
	return ir.Var{}, p.errorf("unexpected token %s in expression", token.KindName(p.peek().Kind))
}
