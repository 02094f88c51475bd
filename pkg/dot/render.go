package dot

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"c89cc/pkg/ir"
)

// Layout constants for the rasterized CFG: a simple top-to-bottom
// column of boxes in block-id order, one arrow per terminator edge,
// the same box-and-arrow shape WriteDot's text form describes rather
// than a computed graph layout (no layout-algorithm dependency exists
// anywhere in the retrieval pack).
const (
	boxWidth    = 260
	lineHeight  = 14
	boxPadding  = 8
	vGap        = 36
	marginLeft  = 20
	marginTop   = 20
)

var (
	bgColor   = color.RGBA{0xff, 0xff, 0xff, 0xff}
	boxColor  = color.RGBA{0x20, 0x20, 0x20, 0xff}
	textColor = color.RGBA{0x10, 0x10, 0x10, 0xff}
	edgeColor = color.RGBA{0x40, 0x40, 0x40, 0xff}
)

// RenderPNG rasterizes def's CFG to a PNG written to w: one box per
// block holding its instruction text set in basicfont, arrows
// connecting each block to its terminator's successors, mirroring the
// image.RGBA-then-png.Encode shape of a framebuffer screenshot.
func RenderPNG(w io.Writer, def *ir.Definition) error {
	boxes := make(map[ir.BlockID]image.Rectangle, len(def.Blocks))
	y := marginTop
	maxLines := 0
	texts := make(map[ir.BlockID][]string, len(def.Blocks))
	for _, b := range def.Blocks {
		lines := blockLines(b)
		texts[b.ID] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	height := boxPadding*2 + maxLines*lineHeight
	for _, b := range def.Blocks {
		boxes[b.ID] = image.Rect(marginLeft, y, marginLeft+boxWidth, y+height)
		y += height + vGap
	}

	img := image.NewRGBA(image.Rect(0, 0, marginLeft*2+boxWidth, y))
	draw.Draw(img, img.Bounds(), &image.Uniform{bgColor}, image.Point{}, draw.Src)

	for _, b := range def.Blocks {
		drawBox(img, boxes[b.ID], texts[b.ID])
	}
	for _, b := range def.Blocks {
		for _, succ := range def.Successors(b.ID) {
			drawArrow(img, boxes[b.ID], boxes[succ])
		}
	}

	return png.Encode(w, img)
}

func blockLines(b *ir.Block) []string {
	lines := []string{b.Name + ":"}
	for _, instr := range b.Code {
		lines = append(lines, formatInstruction(instr))
	}
	lines = append(lines, formatTerminator(b.Term))
	return lines
}

func drawBox(img *image.RGBA, r image.Rectangle, lines []string) {
	drawRect(img, r, boxColor)
	face := basicfont.Face7x13
	y := r.Min.Y + boxPadding + face.Metrics().Ascent.Round()
	for _, line := range lines {
		drawText(img, r.Min.X+boxPadding, y, line, face)
		y += lineHeight
	}
}

// drawRect outlines r's border one pixel thick; boxes are not filled
// so the instruction text stays legible against the white background.
func drawRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, c)
		img.Set(x, r.Max.Y-1, c)
	}
	for yy := r.Min.Y; yy < r.Max.Y; yy++ {
		img.Set(r.Min.X, yy, c)
		img.Set(r.Max.X-1, yy, c)
	}
}

func drawText(img *image.RGBA, x, y int, s string, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{textColor},
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(strings.TrimRight(s, "\\l"))
}

// drawArrow connects from's bottom edge to to's top edge with a
// straight line and a small arrowhead, or a self-loop stub when a
// block points at or above itself (a back-edge in a loop).
func drawArrow(img *image.RGBA, from, to image.Rectangle) {
	x := from.Min.X + boxWidth/2
	y0 := from.Max.Y
	y1 := to.Min.Y
	if y1 <= y0 {
		y1 = y0 + vGap/2
	}
	for y := y0; y < y1; y++ {
		img.Set(x, y, edgeColor)
	}
	for dx := -4; dx <= 4; dx++ {
		img.Set(x+dx, y1-1-abs(dx), edgeColor)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
