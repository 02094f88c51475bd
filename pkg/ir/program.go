package ir

import "c89cc/pkg/symtab"

// Program is the append-only buffer of top-level Definitions the
// parser fills and the driver drains one at a time via Pop (spec.md
// §3 "Lifecycle", §9 "Global parser state").
type Program struct {
	pending []*Definition

	// fallback is the owner used when a constant expression evaluator
	// needs to instantiate blocks outside any function, such as
	// within `enum { A = 1 } x;` (spec.md §4.3).
	fallback *Definition
}

func NewProgram() *Program {
	return &Program{fallback: &Definition{Symbol: &symtab.Symbol{Name: ".constexpr"}}}
}

// Push appends a finished definition to the buffer.
func (p *Program) Push(d *Definition) { p.pending = append(p.pending, d) }

// Pop removes and returns the oldest buffered definition, or nil when
// the buffer is empty (mirrors the driver's repeated parse() calls).
func (p *Program) Pop() *Definition {
	if len(p.pending) == 0 {
		return nil
	}
	d := p.pending[0]
	p.pending = p.pending[1:]
	return d
}

func (p *Program) Len() int { return len(p.pending) }

// Fallback returns the shared out-of-function definition used for
// constant-expression block scratch space.
func (p *Program) Fallback() *Definition { return p.fallback }
