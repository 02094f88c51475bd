package ir

import (
	"testing"

	"c89cc/pkg/symtab"
	"c89cc/pkg/types"
)

func TestNewBlockAssignsSequentialIDs(t *testing.T) {
	d := &Definition{Symbol: &symtab.Symbol{Name: "f"}}
	b0 := d.NewBlock("entry")
	b1 := d.NewBlock("exit")
	if b0 != 0 || b1 != 1 {
		t.Fatalf("got ids %d, %d, want 0, 1", b0, b1)
	}
	if d.Block(b0).Term.Kind != TermNone {
		t.Fatalf("fresh block should be unterminated")
	}
}

func TestBranchSuccessors(t *testing.T) {
	d := &Definition{Symbol: &symtab.Symbol{Name: "f"}}
	entry := d.NewBlock("entry")
	then := d.NewBlock("then")
	els := d.NewBlock("else")
	d.SetBranch(entry, ImmInt(types.BasicInt, 1), then, els)

	succ := d.Successors(entry)
	if len(succ) != 2 || succ[0] != then || succ[1] != els {
		t.Fatalf("successors = %v, want [%d %d]", succ, then, els)
	}
}

func TestJumpSuccessor(t *testing.T) {
	d := &Definition{Symbol: &symtab.Symbol{Name: "f"}}
	a := d.NewBlock("a")
	b := d.NewBlock("b")
	d.SetJump(a, b)

	succ := d.Successors(a)
	if len(succ) != 1 || succ[0] != b {
		t.Fatalf("successors = %v, want [%d]", succ, b)
	}
}

func TestReturnHasNoSuccessors(t *testing.T) {
	d := &Definition{Symbol: &symtab.Symbol{Name: "f"}}
	a := d.NewBlock("a")
	d.SetReturn(a, ImmInt(types.BasicInt, 0))
	if succ := d.Successors(a); succ != nil {
		t.Fatalf("return block should have no successors, got %v", succ)
	}
}

func TestProgramBuffersDefinitionsFIFO(t *testing.T) {
	p := NewProgram()
	d1 := &Definition{Symbol: &symtab.Symbol{Name: "a"}}
	d2 := &Definition{Symbol: &symtab.Symbol{Name: "b"}}
	p.Push(d1)
	p.Push(d2)

	if p.Pop() != d1 {
		t.Fatalf("expected FIFO order")
	}
	if p.Pop() != d2 {
		t.Fatalf("expected FIFO order")
	}
	if p.Pop() != nil {
		t.Fatalf("pop on empty buffer should return nil")
	}
}

func TestFallbackDefinitionIsSharedScratchSpace(t *testing.T) {
	p := NewProgram()
	fb := p.Fallback()
	if fb == nil {
		t.Fatalf("fallback definition must always exist")
	}
	b := fb.NewBlock("const-eval")
	if fb.Block(b) == nil {
		t.Fatalf("fallback must support allocating blocks")
	}
}
