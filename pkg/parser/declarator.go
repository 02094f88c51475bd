package parser

import (
	"c89cc/pkg/symtab"
	"c89cc/pkg/token"
	"c89cc/pkg/types"
)

// parseDeclarator parses one declarator built on base: pointer
// prefixes, then a direct declarator (identifier, or a parenthesized
// declarator) with trailing array/function suffixes, applied
// right-to-left onto base the way C's declarator grammar composes
// (spec.md §4.4). isFunc reports whether the outermost suffix was a
// parameter list, the signal parseExternalDeclaration uses to decide
// whether `{` starts a function body.
func (p *Parser) parseDeclarator(base *types.Type) (name string, ty *types.Type, isFunc bool, err error) {
	ty = base
	for p.at('*') {
		p.next()
		for p.at(token.CONST) || p.at(token.VOLATILE) {
			p.next()
		}
		ty = p.types.NewPointer(ty)
	}

	name, ty, isFunc, err = p.parseDirectDeclarator(ty)
	return name, ty, isFunc, err
}

func (p *Parser) parseDirectDeclarator(base *types.Type) (string, *types.Type, bool, error) {
	var name string
	if p.at(token.IDENTIFIER) {
		name = p.next().String
	} else if p.at('(') {
		p.next()
		n, innerTy, _, err := p.parseDeclarator(base)
		if err != nil {
			return "", nil, false, err
		}
		if _, err := p.expect(')'); err != nil {
			return "", nil, false, err
		}
		name, base = n, innerTy
	}

	return p.parseDeclaratorSuffixes(name, base)
}

// parseDeclaratorSuffixes applies any number of trailing `[n]` or
// `(params)` suffixes, innermost-first (so `int *a[3]` is "array of 3
// pointers to int", not "pointer to array").
func (p *Parser) parseDeclaratorSuffixes(name string, base *types.Type) (string, *types.Type, bool, error) {
	if p.at('[') {
		p.next()
		count := 0
		if !p.at(']') {
			v, err := p.parseConstantExpr()
			if err != nil {
				return "", nil, false, err
			}
			count = int(v.ImmUint)
		}
		if _, err := p.expect(']'); err != nil {
			return "", nil, false, err
		}
		_, elemTy, isFunc, err := p.parseDeclaratorSuffixes(name, base)
		if err != nil {
			return "", nil, false, err
		}
		return name, p.types.NewArray(elemTy, count), isFunc, nil
	}
	if p.at('(') {
		p.next()
		fnTy := p.types.NewFunction(base)
		if !p.at(')') {
			for {
				if p.at(token.DOTS) {
					p.next()
					p.types.AddMember(fnTy, "...", types.BasicVoid)
					break
				}
				paramBase, err := p.parseSpecifiers()
				if err != nil {
					return "", nil, false, err
				}
				pname, pty, _, err := p.parseDeclarator(paramBase)
				if err != nil {
					return "", nil, false, err
				}
				p.types.AddMember(fnTy, pname, pty)
				if p.at(',') {
					p.next()
					continue
				}
				break
			}
		}
		if _, err := p.expect(')'); err != nil {
			return "", nil, false, err
		}
		return name, fnTy, true, nil
	}
	return name, base, false, nil
}

// parseFunctionBody parses a function definition's compound statement
// body, binding its parameters as local symbols first (spec.md §4.4
// "function definitions with __func__").
func (p *Parser) parseFunctionBody(name string, ty *types.Type) error {
	sym := &symtab.Symbol{Name: name, Type: ty, Kind: symtab.Definition, Linkage: symtab.LinkExtern}
	p.syms.AddIdent(sym)
	return p.buildFunctionBody(sym, ty)
}
