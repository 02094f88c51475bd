// Package parser implements the declaration parser and statement
// parser of spec.md §4.4/§4.5: it consumes a pkg/token stream and
// emits pkg/ir directly, with no persistent AST, generalizing the
// method-per-grammar-rule recursive-descent idiom of
// smasonuk-sicpu/pkg/compiler/parser.go from a toy statement language
// to full C89 declarations, statements and expressions.
package parser

import (
	"fmt"

	"c89cc/pkg/diag"
	"c89cc/pkg/eval"
	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/token"
	"c89cc/pkg/types"
)

// Parser owns every collaborator named in spec.md §6 plus the
// evaluator context it drives while walking a function body.
type Parser struct {
	lex   *token.Lexer
	types *types.Arena
	syms  *symtab.Table
	prog  *ir.Program

	ec *eval.Context // nil outside a function body

	breakTargets    []ir.BlockID
	continueTargets []ir.BlockID

	// gotoFixups records forward `goto label;` jumps whose target
	// block is not yet known; resolved once the enclosing function
	// body has been fully parsed (spec.md §4.5 "goto").
	gotoFixups map[string][]ir.BlockID
	labels     map[string]ir.BlockID
}

// New builds a parser over one translation unit's token stream.
func New(file, src string) *Parser {
	return &Parser{
		lex:   token.NewLexer(file, src),
		types: types.NewArena(),
		syms:  symtab.New(),
		prog:  ir.NewProgram(),
	}
}

func (p *Parser) peek() token.Token { return p.lex.Peek() }
func (p *Parser) next() token.Token { return p.lex.Next() }

func (p *Parser) expect(k token.Kind) (token.Token, error) {
	t, err := p.lex.Consume(k)
	if err != nil {
		return t, diag.Errorf(p.peek().Pos, "%s", err)
	}
	return t, nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return diag.Errorf(p.peek().Pos, format, args...)
}

func (p *Parser) at(k token.Kind) bool { return p.peek().Kind == k }

// Program returns the buffered top-level definitions parsed so far
// (spec.md §3 "driver repeatedly calls parse()").
func (p *Parser) Program() *ir.Program { return p.prog }

// ParseTranslationUnit parses a full file: a sequence of external
// declarations, each either an object declaration or a function
// definition (spec.md §4.4).
func (p *Parser) ParseTranslationUnit() error {
	for !p.at(token.END) {
		if err := p.parseExternalDeclaration(); err != nil {
			return err
		}
	}
	return nil
}

// parseExternalDeclaration parses one top-level declaration: a base
// type plus one or more declarators, each possibly starting a function
// definition (a `{` after a function declarator) instead of ending in
// `;` (spec.md §4.4 "function definitions").
func (p *Parser) parseExternalDeclaration() error {
	base, err := p.parseSpecifiers()
	if err != nil {
		return err
	}
	for {
		name, ty, isFunc, err := p.parseDeclarator(base)
		if err != nil {
			return err
		}
		if isFunc && p.at('{') {
			return p.parseFunctionBody(name, ty)
		}
		sym := &symtab.Symbol{Name: name, Type: ty, Kind: symtab.Declaration, Linkage: symtab.LinkExtern}
		if p.at('=') {
			p.next()
			def := &ir.Definition{Symbol: sym}
			b := def.NewBlock("init")
			saved := p.ec
			p.ec = &eval.Context{Types: p.types, Syms: p.syms, Def: def, Block: b}
			err := p.parseConstantInitializer(sym)
			p.ec = saved
			if err != nil {
				return err
			}
			def.SetReturnVoid(b)
			p.prog.Push(def)
		}
		p.syms.AddIdent(sym)
		if p.at(',') {
			p.next()
			continue
		}
		break
	}
	_, err = p.expect(';')
	return err
}

// parseSpecifiers consumes a run of type-specifier keywords and
// resolves them to a basic type via the table specifiers.go builds
// (spec.md §C item 2), or a struct/union/enum/typedef type.
func (p *Parser) parseSpecifiers() (*types.Type, error) {
	switch p.peek().Kind {
	case token.STRUCT, token.UNION:
		return p.parseStructOrUnion()
	case token.ENUM:
		return p.parseEnum()
	}
	if p.at(token.IDENTIFIER) {
		if sym := p.syms.LookupIdent(p.peek().String); sym != nil && sym.Kind == symtab.Typedef {
			p.next()
			return sym.Type, nil
		}
	}

	var mask specMask
	for {
		bit, ok := specifierKind(p.peek().Kind)
		if !ok {
			break
		}
		if bit == specLong && mask&specLong != 0 {
			mask |= specLongLong
		} else {
			mask |= bit
		}
		p.next()
	}
	if mask == 0 {
		return nil, p.errorf("expected a type specifier, found %s", token.KindName(p.peek().Kind))
	}
	return basicTypeFor(mask), nil
}

func (p *Parser) parseStructOrUnion() (*types.Type, error) {
	isUnion := p.at(token.UNION)
	p.next()

	var name string
	if p.at(token.IDENTIFIER) {
		name = p.next().String
	}

	if !p.at('{') {
		if name == "" {
			return nil, p.errorf("expected a tag name or '{' after struct/union")
		}
		if sym := p.syms.LookupTag(name); sym != nil {
			return sym.Type, nil
		}
		ty := p.newAggregate(isUnion)
		p.syms.AddTag(&symtab.Symbol{Name: name, Kind: symtab.Tentative, Type: ty})
		return ty, nil
	}

	ty := p.newAggregate(isUnion)
	if name != "" {
		p.syms.AddTag(&symtab.Symbol{Name: name, Kind: symtab.Definition, Type: ty})
	}
	p.next() // '{'
	for !p.at('}') {
		memberBase, err := p.parseSpecifiers()
		if err != nil {
			return nil, err
		}
		for {
			memberName, memberTy, _, err := p.parseDeclarator(memberBase)
			if err != nil {
				return nil, err
			}
			p.types.AddMember(ty, memberName, memberTy)
			if p.at(',') {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(';'); err != nil {
			return nil, err
		}
	}
	p.next() // '}'
	return ty, nil
}

func (p *Parser) newAggregate(isUnion bool) *types.Type {
	if isUnion {
		return p.types.NewUnion()
	}
	return p.types.NewStruct()
}

// parseEnum parses `enum [tag] { NAME [= expr], ... }`, registering
// each member as an enum-constant identifier with a constant-folded
// value (spec.md §C item 1's tagged-type handling applies equally to
// enum tags).
func (p *Parser) parseEnum() (*types.Type, error) {
	p.next() // 'enum'
	var name string
	if p.at(token.IDENTIFIER) {
		name = p.next().String
	}
	ty := types.BasicInt
	if !p.at('{') {
		if name != "" {
			if sym := p.syms.LookupTag(name); sym != nil {
				return sym.Type, nil
			}
		}
		return ty, nil
	}
	p.next() // '{'
	next := int64(0)
	for !p.at('}') {
		memberTok, err := p.expect(token.IDENTIFIER)
		if err != nil {
			return nil, err
		}
		if p.at('=') {
			p.next()
			v, err := p.parseConstantExpr()
			if err != nil {
				return nil, err
			}
			next = int64(v.ImmUint)
		}
		p.syms.AddIdent(&symtab.Symbol{Name: memberTok.String, Kind: symtab.EnumConstant, EnumValue: next, Type: ty})
		next++
		if p.at(',') {
			p.next()
			continue
		}
		break
	}
	_, err := p.expect('}')
	if name != "" {
		p.syms.AddTag(&symtab.Symbol{Name: name, Kind: symtab.Definition, Type: ty})
	}
	return ty, err
}

// parseConstantExpr evaluates a constant expression into the shared
// fallback definition (spec.md §4.3 "out-of-function constant-eval
// scratch space"), requiring the result to be an immediate.
func (p *Parser) parseConstantExpr() (ir.Var, error) {
	def := p.prog.Fallback()
	b := def.NewBlock(".k")
	ec := &eval.Context{Types: p.types, Syms: p.syms, Def: def, Block: b}
	saved := p.ec
	p.ec = ec
	v, err := p.parseAssignExpr()
	p.ec = saved
	if err != nil {
		return ir.Var{}, err
	}
	v = ec.RValue(v)
	if v.Kind != ir.Immediate {
		return ir.Var{}, fmt.Errorf("expression is not a compile-time constant")
	}
	return v, nil
}
