// Package dot prints a function's control-flow graph as Graphviz
// digraph text (original_source/src/backend/graphviz/dot.h's
// fdotgen), and separately rasterizes the same graph to a PNG.
package dot

import (
	"fmt"
	"io"
	"strings"

	"c89cc/pkg/ir"
)

// WriteDot writes def's CFG to w in Graphviz digraph syntax: one box
// node per block holding its instruction text, one edge per
// terminator arm.
func WriteDot(w io.Writer, def *ir.Definition) error {
	name := "anonymous"
	if def.Symbol != nil {
		name = def.Symbol.Name
	}
	fmt.Fprintf(w, "digraph \"%s\" {\n", name)
	fmt.Fprintln(w, "  node [shape=box, fontname=\"monospace\"];")

	for _, b := range def.Blocks {
		fmt.Fprintf(w, "  b%d [label=%q];\n", b.ID, blockLabel(b))
	}
	for _, b := range def.Blocks {
		switch b.Term.Kind {
		case ir.TermJump:
			fmt.Fprintf(w, "  b%d -> b%d;\n", b.ID, b.Term.Next)
		case ir.TermBranch:
			fmt.Fprintf(w, "  b%d -> b%d [label=\"true\"];\n", b.ID, b.Term.Then)
			fmt.Fprintf(w, "  b%d -> b%d [label=\"false\"];\n", b.ID, b.Term.Else)
		}
	}
	fmt.Fprintln(w, "}")
	return nil
}

// blockLabel renders a block's name and instructions as the multi-line
// text Graphviz expects inside a quoted label (\l left-justifies each
// line rather than centering it).
func blockLabel(b *ir.Block) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("%s:", b.Name))
	for _, instr := range b.Code {
		lines = append(lines, formatInstruction(instr))
	}
	lines = append(lines, formatTerminator(b.Term))
	return strings.Join(lines, "\\l") + "\\l"
}

func formatInstruction(instr ir.Instruction) string {
	switch instr.Op {
	case ir.OpLoad, ir.OpNeg, ir.OpNot, ir.OpLNot, ir.OpAddr, ir.OpConv:
		return fmt.Sprintf("%s = %s %s", instr.Target, instr.Op, instr.Arg1)
	case ir.OpStore:
		return fmt.Sprintf("*%s = %s", instr.Target, instr.Arg1)
	case ir.OpParam:
		return fmt.Sprintf("param %s", instr.Arg1)
	case ir.OpCall:
		var args []string
		for _, a := range instr.Args {
			args = append(args, a.String())
		}
		if instr.Target.Kind == ir.Immediate && instr.Target.Symbol == nil {
			return fmt.Sprintf("call %s(%s)", instr.Arg1, strings.Join(args, ", "))
		}
		return fmt.Sprintf("%s = call %s(%s)", instr.Target, instr.Arg1, strings.Join(args, ", "))
	default:
		return fmt.Sprintf("%s = %s %s, %s", instr.Target, instr.Op, instr.Arg1, instr.Arg2)
	}
}

func formatTerminator(t ir.Terminator) string {
	switch t.Kind {
	case ir.TermJump:
		return fmt.Sprintf("jump b%d", t.Next)
	case ir.TermBranch:
		return fmt.Sprintf("branch %s, b%d, b%d", t.Cond, t.Then, t.Else)
	case ir.TermReturn:
		return fmt.Sprintf("return %s", t.Value)
	case ir.TermReturnVoid:
		return "return"
	default:
		return "<unterminated>"
	}
}
