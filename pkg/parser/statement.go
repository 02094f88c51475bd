package parser

import (
	"c89cc/pkg/eval"
	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/token"
	"c89cc/pkg/types"
)

// buildFunctionBody parses `{ ... }` into sym's CFG, binding
// parameters as locals, then buffers the finished definition (spec.md
// §4.4/§4.5, §3 "driver repeatedly calls parse()").
func (p *Parser) buildFunctionBody(sym *symtab.Symbol, ty *types.Type) error {
	def := &ir.Definition{Symbol: sym}
	entry := def.NewBlock("entry")
	def.Entry = entry

	savedEC := p.ec
	p.ec = &eval.Context{Types: p.types, Syms: p.syms, Def: def, Block: entry}
	p.labels = map[string]ir.BlockID{}
	p.gotoFixups = map[string][]ir.BlockID{}

	p.syms.PushScope()

	// spec.md §4.4: every function body implicitly declares
	// `static const char __func__[] = "<name>"`, materialized the same
	// way an ordinary string-literal-initialized global is (a
	// StringValue symbol codegen lazily writes into .data on first
	// reference) rather than as a real local with its own initializer
	// code.
	funcName := &symtab.Symbol{
		Name:       "__func__",
		Type:       p.types.Qualify(p.types.NewArray(types.BasicChar, len(sym.Name)+1), types.Const),
		Kind:       symtab.StringValue,
		StringData: sym.Name,
		IsFunc:     true,
	}
	p.syms.AddIdent(funcName)

	fnTy := types.Unwrap(ty)
	for i := 0; i < types.NMembers(fnTy); i++ {
		m := types.GetMember(fnTy, i)
		if m.Name == "" || m.Name == "..." {
			continue
		}
		psym := &symtab.Symbol{Name: m.Name, Type: m.Type, Kind: symtab.Declaration}
		p.syms.AddIdent(psym)
		def.Params = append(def.Params, psym)
	}

	err := p.parseCompoundBody()
	p.syms.PopScope()
	if err != nil {
		p.ec = savedEC
		return err
	}

	if def.Block(p.ec.Block).Term.Kind == ir.TermNone {
		def.SetReturnVoid(p.ec.Block)
	}
	for label, froms := range p.gotoFixups {
		target, ok := p.labels[label]
		if !ok {
			p.ec = savedEC
			return p.errorf("undefined label %q", label)
		}
		for _, from := range froms {
			def.SetJump(from, target)
		}
	}

	p.prog.Push(def)
	p.ec = savedEC
	return nil
}

// parseCompoundBody parses the body of `{ ... }` assuming the opening
// brace has not yet been consumed.
func (p *Parser) parseCompoundBody() error {
	if _, err := p.expect('{'); err != nil {
		return err
	}
	p.syms.PushScope()
	defer p.syms.PopScope()
	for !p.at('}') {
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
	_, err := p.expect('}')
	return err
}

// parseStatement dispatches to one statement-shaped parse, the way
// smasonuk-sicpu/pkg/compiler/parser.go's parseStatement switches on
// the lookahead keyword (spec.md §4.5).
func (p *Parser) parseStatement() error {
	switch p.peek().Kind {
	case '{':
		return p.parseCompoundBody()
	case token.IF:
		return p.parseIf()
	case token.WHILE:
		return p.parseWhile()
	case token.DO:
		return p.parseDoWhile()
	case token.FOR:
		return p.parseFor()
	case token.RETURN:
		return p.parseReturn()
	case token.BREAK:
		return p.parseBreak()
	case token.CONTINUE:
		return p.parseContinue()
	case token.GOTO:
		return p.parseGoto()
	case token.SWITCH:
		return p.parseSwitch()
	case ';':
		p.next()
		return nil
	}
	if p.at(token.IDENTIFIER) && p.peekIsLabel() {
		return p.parseLabeled()
	}
	if p.startsDeclaration() {
		return p.parseLocalDeclaration()
	}
	_, err := p.parseExpr()
	if err != nil {
		return err
	}
	_, err = p.expect(';')
	return err
}

// peekIsLabel reports whether the upcoming "IDENTIFIER :" is a
// labeled statement rather than the start of an expression statement
// (the only other grammar position a bare identifier can occupy
// there); it never collides with the ternary `?:`'s ':' since that
// one is never preceded by a lone leading identifier token.
func (p *Parser) peekIsLabel() bool {
	return p.lex.PeekAt(1).Kind == token.Kind(':')
}

func (p *Parser) startsDeclaration() bool {
	k := p.peek().Kind
	if _, ok := specifierKind(k); ok {
		return true
	}
	switch k {
	case token.STRUCT, token.UNION, token.ENUM, token.CONST, token.VOLATILE, token.STATIC, token.EXTERN, token.TYPEDEF, token.AUTO, token.REGISTER:
		return true
	case token.IDENTIFIER:
		sym := p.syms.LookupIdent(p.peek().String)
		return sym != nil && sym.Kind == symtab.Typedef
	}
	return false
}

// parseLocalDeclaration parses a block-scope declaration with
// optional initializers (spec.md §4.4 "initializers including
// aggregate/zero-fill").
func (p *Parser) parseLocalDeclaration() error {
	for p.at(token.CONST) || p.at(token.VOLATILE) || p.at(token.STATIC) || p.at(token.EXTERN) ||
		p.at(token.TYPEDEF) || p.at(token.AUTO) || p.at(token.REGISTER) {
		p.next()
	}
	base, err := p.parseSpecifiers()
	if err != nil {
		return err
	}
	for {
		name, ty, _, err := p.parseDeclarator(base)
		if err != nil {
			return err
		}
		sym := &symtab.Symbol{Name: name, Type: ty, Kind: symtab.Declaration}
		p.syms.AddIdent(sym)
		p.ec.Def.Locals = append(p.ec.Def.Locals, sym)

		if p.at('=') {
			p.next()
			if err := p.parseInitializer(sym); err != nil {
				return err
			}
		}
		if p.at(',') {
			p.next()
			continue
		}
		break
	}
	_, err = p.expect(';')
	return err
}

// parseInitializer handles both a scalar expression initializer and a
// brace aggregate initializer, storing only the listed elements (see
// elementTarget for what unlisted ones hold). Block-scope initializers
// may be arbitrary expressions.
func (p *Parser) parseInitializer(sym *symtab.Symbol) error {
	return p.parseInitializerConstrained(sym, false)
}

// parseConstantInitializer is parseInitializer's file-scope
// counterpart: spec.md §4.4 requires a translation-unit-scope
// initializer to be a compile-time constant, checked element by
// element the same way parseConstantExpr validates a standalone
// constant expression.
func (p *Parser) parseConstantInitializer(sym *symtab.Symbol) error {
	return p.parseInitializerConstrained(sym, true)
}

func (p *Parser) parseInitializerConstrained(sym *symtab.Symbol, constant bool) error {
	if !p.at('{') {
		v, err := p.parseAssignExpr()
		if err != nil {
			return err
		}
		if constant {
			if err := p.requireConstant(v); err != nil {
				return err
			}
		}
		p.ec.Assign(ir.DirectOf(sym, true), v)
		// `char s[] = "text";`: the rhs is itself an array (a string
		// literal, left undecayed by pkg/eval.Assign's array
		// special-case), so its own, already-known element count
		// completes sym's incomplete array type.
		if types.IsArray(sym.Type) && !types.IsComplete(sym.Type) && types.IsArray(v.Type) {
			types.CompleteArray(sym.Type, types.ArrayLen(v.Type))
		}
		return nil
	}

	p.next() // '{'
	index := 0
	for !p.at('}') {
		target := p.elementTarget(sym, index)
		v, err := p.parseAssignExpr()
		if err != nil {
			return err
		}
		if constant {
			if err := p.requireConstant(v); err != nil {
				return err
			}
		}
		p.ec.Assign(target, v)
		index++
		if p.at(',') {
			p.next()
			continue
		}
		break
	}
	_, err := p.expect('}')
	if err != nil {
		return err
	}
	// spec.md §4.4's array-completion rule: `int a[] = {1,2,3};`
	// rewrites the declarator's type to `int[3]` once the brace
	// initializer's element count is known.
	if types.IsArray(sym.Type) && !types.IsComplete(sym.Type) {
		types.CompleteArray(sym.Type, index)
	}
	return nil
}

// requireConstant rejects an initializer element that is neither a
// folded immediate nor a string literal (itself compile-time constant
// data, materialized into .data rather than folded to a scalar), per
// spec.md §4.4's file-scope-initializer rule.
func (p *Parser) requireConstant(v ir.Var) error {
	if v.Kind == ir.Immediate {
		return nil
	}
	if types.IsArray(v.Type) && v.Symbol != nil && v.Symbol.Kind == symtab.StringValue {
		return nil
	}
	return p.errorf("initializer element is not a compile-time constant")
}

// elementTarget produces the lvalue for aggregate-initializer element
// i of sym (an array element or struct member, by byte offset within
// sym's storage). No store is emitted for unlisted elements: a
// file-scope object's .data storage starts zeroed, so they read as
// zero there, while a block-scope object's unlisted elements keep
// whatever its stack slot already held.
func (p *Parser) elementTarget(sym *symtab.Symbol, i int) ir.Var {
	base := ir.DirectOf(sym, true)
	if types.IsArray(sym.Type) {
		elemTy := sym.Type.Next
		base.Type = elemTy
		base.Offset = i * types.SizeOf(elemTy)
		return base
	}
	if types.IsStructOrUnion(sym.Type) {
		if m := types.GetMember(types.Unwrap(sym.Type), i); m != nil {
			base.Type = m.Type
			base.Offset = m.Offset
			return base
		}
	}
	return base
}

func (p *Parser) parseIf() error {
	p.next()
	if _, err := p.expect('('); err != nil {
		return err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(')'); err != nil {
		return err
	}

	def := p.ec.Def
	thenBlock := def.NewBlock(".if.then")
	elseBlock := def.NewBlock(".if.else")
	mergeBlock := def.NewBlock(".if.end")
	def.SetBranch(p.ec.Block, p.ec.RValue(cond), thenBlock, elseBlock)

	p.ec.Block = thenBlock
	if err := p.parseStatement(); err != nil {
		return err
	}
	if def.Block(p.ec.Block).Term.Kind == ir.TermNone {
		def.SetJump(p.ec.Block, mergeBlock)
	}

	p.ec.Block = elseBlock
	if p.at(token.ELSE) {
		p.next()
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
	if def.Block(p.ec.Block).Term.Kind == ir.TermNone {
		def.SetJump(p.ec.Block, mergeBlock)
	}

	p.ec.Block = mergeBlock
	return nil
}

func (p *Parser) parseWhile() error {
	p.next()
	def := p.ec.Def
	header := def.NewBlock(".while.header")
	body := def.NewBlock(".while.body")
	end := def.NewBlock(".while.end")
	def.SetJump(p.ec.Block, header)

	p.ec.Block = header
	if _, err := p.expect('('); err != nil {
		return err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(')'); err != nil {
		return err
	}
	def.SetBranch(header, p.ec.RValue(cond), body, end)

	p.breakTargets = append(p.breakTargets, end)
	p.continueTargets = append(p.continueTargets, header)
	p.ec.Block = body
	err = p.parseStatement()
	p.breakTargets = p.breakTargets[:len(p.breakTargets)-1]
	p.continueTargets = p.continueTargets[:len(p.continueTargets)-1]
	if err != nil {
		return err
	}
	if def.Block(p.ec.Block).Term.Kind == ir.TermNone {
		def.SetJump(p.ec.Block, header)
	}
	p.ec.Block = end
	return nil
}

func (p *Parser) parseDoWhile() error {
	p.next()
	def := p.ec.Def
	body := def.NewBlock(".do.body")
	header := def.NewBlock(".do.cond")
	end := def.NewBlock(".do.end")
	def.SetJump(p.ec.Block, body)

	p.breakTargets = append(p.breakTargets, end)
	p.continueTargets = append(p.continueTargets, header)
	p.ec.Block = body
	err := p.parseStatement()
	p.breakTargets = p.breakTargets[:len(p.breakTargets)-1]
	p.continueTargets = p.continueTargets[:len(p.continueTargets)-1]
	if err != nil {
		return err
	}
	if def.Block(p.ec.Block).Term.Kind == ir.TermNone {
		def.SetJump(p.ec.Block, header)
	}

	if _, err := p.expect(token.WHILE); err != nil {
		return err
	}
	if _, err := p.expect('('); err != nil {
		return err
	}
	p.ec.Block = header
	cond, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(')'); err != nil {
		return err
	}
	if _, err := p.expect(';'); err != nil {
		return err
	}
	def.SetBranch(header, p.ec.RValue(cond), body, end)
	p.ec.Block = end
	return nil
}

func (p *Parser) parseFor() error {
	p.next()
	if _, err := p.expect('('); err != nil {
		return err
	}
	if !p.at(';') {
		if p.startsDeclaration() {
			if err := p.parseLocalDeclaration(); err != nil {
				return err
			}
		} else {
			if _, err := p.parseExpr(); err != nil {
				return err
			}
			if _, err := p.expect(';'); err != nil {
				return err
			}
		}
	} else {
		p.next()
	}

	def := p.ec.Def
	header := def.NewBlock(".for.header")
	body := def.NewBlock(".for.body")
	step := def.NewBlock(".for.step")
	end := def.NewBlock(".for.end")
	def.SetJump(p.ec.Block, header)

	p.ec.Block = header
	if !p.at(';') {
		cond, err := p.parseExpr()
		if err != nil {
			return err
		}
		def.SetBranch(header, p.ec.RValue(cond), body, end)
	} else {
		def.SetJump(header, body)
	}
	if _, err := p.expect(';'); err != nil {
		return err
	}

	stepStart := p.ec.Block
	p.ec.Block = step
	if !p.at(')') {
		if _, err := p.parseExpr(); err != nil {
			return err
		}
	}
	def.SetJump(step, header)
	p.ec.Block = stepStart
	if _, err := p.expect(')'); err != nil {
		return err
	}

	p.breakTargets = append(p.breakTargets, end)
	p.continueTargets = append(p.continueTargets, step)
	p.ec.Block = body
	err := p.parseStatement()
	p.breakTargets = p.breakTargets[:len(p.breakTargets)-1]
	p.continueTargets = p.continueTargets[:len(p.continueTargets)-1]
	if err != nil {
		return err
	}
	if def.Block(p.ec.Block).Term.Kind == ir.TermNone {
		def.SetJump(p.ec.Block, step)
	}
	p.ec.Block = end
	return nil
}

func (p *Parser) parseReturn() error {
	p.next()
	if p.at(';') {
		p.next()
		p.ec.Def.SetReturnVoid(p.ec.Block)
		return nil
	}
	v, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(';'); err != nil {
		return err
	}
	p.ec.Def.SetReturn(p.ec.Block, p.ec.RValue(v))
	return nil
}

func (p *Parser) parseBreak() error {
	p.next()
	if _, err := p.expect(';'); err != nil {
		return err
	}
	if len(p.breakTargets) == 0 {
		return p.errorf("break outside a loop or switch")
	}
	target := p.breakTargets[len(p.breakTargets)-1]
	p.ec.Def.SetJump(p.ec.Block, target)
	p.ec.Block = p.ec.Def.NewBlock(".unreachable")
	return nil
}

func (p *Parser) parseContinue() error {
	p.next()
	if _, err := p.expect(';'); err != nil {
		return err
	}
	if len(p.continueTargets) == 0 {
		return p.errorf("continue outside a loop")
	}
	target := p.continueTargets[len(p.continueTargets)-1]
	p.ec.Def.SetJump(p.ec.Block, target)
	p.ec.Block = p.ec.Def.NewBlock(".unreachable")
	return nil
}

func (p *Parser) parseGoto() error {
	p.next()
	name, err := p.expect(token.IDENTIFIER)
	if err != nil {
		return err
	}
	if _, err := p.expect(';'); err != nil {
		return err
	}
	if target, ok := p.labels[name.String]; ok {
		p.ec.Def.SetJump(p.ec.Block, target)
	} else {
		p.gotoFixups[name.String] = append(p.gotoFixups[name.String], p.ec.Block)
	}
	p.ec.Block = p.ec.Def.NewBlock(".unreachable")
	return nil
}

func (p *Parser) parseLabeled() error {
	name := p.next().String
	p.next() // ':'
	target := p.ec.Def.NewBlock(".L" + name)
	p.ec.Def.SetJump(p.ec.Block, target)
	p.labels[name] = target
	p.ec.Block = target
	return p.parseStatement()
}

// parseSwitch lowers `switch (e) { case k: ...; default: ...; }` into
// a chain of equality branches against e, each case body falling
// through to the next unless it ends in break/return/goto (spec.md
// §4.5 "switch/case/default/break").
func (p *Parser) parseSwitch() error {
	p.next()
	if _, err := p.expect('('); err != nil {
		return err
	}
	subject, err := p.parseExpr()
	if err != nil {
		return err
	}
	if _, err := p.expect(')'); err != nil {
		return err
	}
	subject = p.ec.RValue(subject)

	def := p.ec.Def
	end := def.NewBlock(".switch.end")
	dispatch := p.ec.Block

	if _, err := p.expect('{'); err != nil {
		return err
	}
	p.breakTargets = append(p.breakTargets, end)
	defaultBlock := ir.BlockID(-1)
	var caseValues []ir.Var
	var caseBlocks []ir.BlockID

	p.ec.Block = def.NewBlock(".switch.body")
	for !p.at('}') {
		switch p.peek().Kind {
		case token.CASE:
			p.next()
			v, err := p.parseConstantExpr()
			if err != nil {
				return err
			}
			if _, err := p.expect(':'); err != nil {
				return err
			}
			label := def.NewBlock(".case")
			if def.Block(p.ec.Block).Term.Kind == ir.TermNone {
				def.SetJump(p.ec.Block, label)
			}
			caseValues = append(caseValues, v)
			caseBlocks = append(caseBlocks, label)
			p.ec.Block = label
		case token.DEFAULT:
			p.next()
			if _, err := p.expect(':'); err != nil {
				return err
			}
			label := def.NewBlock(".default")
			if def.Block(p.ec.Block).Term.Kind == ir.TermNone {
				def.SetJump(p.ec.Block, label)
			}
			defaultBlock = label
			p.ec.Block = label
		default:
			if err := p.parseStatement(); err != nil {
				return err
			}
		}
	}
	if def.Block(p.ec.Block).Term.Kind == ir.TermNone {
		def.SetJump(p.ec.Block, end)
	}
	if _, err := p.expect('}'); err != nil {
		return err
	}
	p.breakTargets = p.breakTargets[:len(p.breakTargets)-1]

	fallback := end
	if defaultBlock != -1 {
		fallback = defaultBlock
	}
	cur := dispatch
	for i, v := range caseValues {
		testBlock := cur
		nextTest := def.NewBlock(".switch.test")
		eq := p.switchEq(def, testBlock, subject, v)
		def.SetBranch(testBlock, eq, caseBlocks[i], nextTest)
		cur = nextTest
	}
	def.SetJump(cur, fallback)

	p.ec.Block = end
	return nil
}

func (p *Parser) switchEq(def *ir.Definition, block ir.BlockID, subject, caseVal ir.Var) ir.Var {
	ec := &eval.Context{Types: p.types, Syms: p.syms, Def: def, Block: block}
	return ec.Binary(ir.OpEq, subject, caseVal)
}
