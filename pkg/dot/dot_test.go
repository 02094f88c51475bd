package dot

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"
	"testing"

	"c89cc/pkg/ir"
	"c89cc/pkg/symtab"
	"c89cc/pkg/types"
)

func twoBlockFunction() *ir.Definition {
	sym := &symtab.Symbol{Name: "example", Type: types.BasicInt}
	def := &ir.Definition{Symbol: sym}
	entry := def.NewBlock("entry")
	then := def.NewBlock("then")
	els := def.NewBlock("else")

	cond := ir.ImmInt(types.BasicInt, 1)
	def.SetBranch(entry, cond, then, els)
	def.SetReturn(then, ir.ImmInt(types.BasicInt, 1))
	def.SetReturnVoid(els)
	return def
}

func TestWriteDotEmitsOneNodePerBlock(t *testing.T) {
	def := twoBlockFunction()
	var buf bytes.Buffer
	if err := WriteDot(&buf, def); err != nil {
		t.Fatalf("WriteDot: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "digraph \"example\" {") {
		t.Fatalf("missing digraph header: %q", out)
	}
	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("b%d [label=", i)
		if !strings.Contains(out, want) {
			t.Errorf("missing node for block %d in:\n%s", i, out)
		}
	}
}

func TestWriteDotEmitsBranchEdgesWithLabels(t *testing.T) {
	def := twoBlockFunction()
	var buf bytes.Buffer
	if err := WriteDot(&buf, def); err != nil {
		t.Fatalf("WriteDot: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "b0 -> b1 [label=\"true\"];") {
		t.Errorf("missing true edge in:\n%s", out)
	}
	if !strings.Contains(out, "b0 -> b2 [label=\"false\"];") {
		t.Errorf("missing false edge in:\n%s", out)
	}
}

func TestRenderPNGProducesDecodablePNGSizedToBlockCount(t *testing.T) {
	def := twoBlockFunction()
	var buf bytes.Buffer
	if err := RenderPNG(&buf, def); err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	boxHeight := boxPadding*2 + 2*lineHeight // each block here is a 2-line label: name + terminator
	wantHeight := marginTop + 3*(boxHeight+vGap)
	if img.Bounds().Dy() != wantHeight {
		t.Errorf("image height = %d, want %d", img.Bounds().Dy(), wantHeight)
	}
	if img.Bounds().Dx() != marginLeft*2+boxWidth {
		t.Errorf("image width = %d, want %d", img.Bounds().Dx(), marginLeft*2+boxWidth)
	}
}
