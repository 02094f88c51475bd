package x64

import (
	"bytes"
	"testing"

	"c89cc/pkg/symtab"
)

// fakeRelocs is a minimal Relocs collaborator for testing: it resolves
// symbols to fixed text offsets known up front, recording every call
// it receives without actually writing an object file.
type fakeRelocs struct {
	textOf map[*symtab.Symbol]int
	added  []addedReloc
}

type addedReloc struct {
	sym    *symtab.Symbol
	kind   RelocKind
	offset int
	addend int32
}

func (f *fakeRelocs) AddRelocText(sym *symtab.Symbol, kind RelocKind, textOffset int, addend int32) {
	f.added = append(f.added, addedReloc{sym, kind, textOffset, addend})
}

func (f *fakeRelocs) TextDisplacement(sym *symtab.Symbol, fieldOffset int) int32 {
	target, ok := f.textOf[sym]
	if !ok {
		return 0
	}
	return int32(target - fieldOffset)
}

func bytesEqual(t *testing.T, got []byte, want []byte) {
	t.Helper()
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestRetIsSingleByte(t *testing.T) {
	c := Encode(Instruction{Op: RET}, 0, nil)
	bytesEqual(t, c.Bytes, []byte{0xC3})
}

func TestRepMovsqFixedSequence(t *testing.T) {
	c := Encode(Instruction{Op: REP_MOVSQ}, 0, nil)
	bytesEqual(t, c.Bytes, []byte{0xF3, 0x48, 0xA5})
}

func TestMovImm64SignExtended32BitFormIsPreferred(t *testing.T) {
	// mov $0x12345678, %rax -> 48 C7 C0 78 56 34 12 (7 bytes, not the
	// 10-byte B8+imm64 form, since 0x12345678 fits in 32 bits).
	instr := Instruction{
		Op:   MOV,
		Form: FormImmReg,
		SrcImm: ImmOp{Kind: ImmInt, Width: 8, Value: 0x12345678},
		DstReg: RegOp{Reg: AX, Width: 8},
	}
	c := Encode(instr, 0, nil)
	bytesEqual(t, c.Bytes, []byte{0x48, 0xC7, 0xC0, 0x78, 0x56, 0x34, 0x12})
}

func TestMovImm64RequiringFullWidthUsesTenByteForm(t *testing.T) {
	instr := Instruction{
		Op:   MOV,
		Form: FormImmReg,
		SrcImm: ImmOp{Kind: ImmInt, Width: 8, Value: 0x1122334455667788},
		DstReg: RegOp{Reg: CX, Width: 8},
	}
	c := Encode(instr, 0, nil)
	bytesEqual(t, c.Bytes, []byte{0x48, 0xB9, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11})
}

func TestShrAndSarUseDistinctOpcodeExtensions(t *testing.T) {
	// The historical bug conflated these two; the SDM assigns SHR the
	// /5 extension and SAR the /7 extension of opcode group D0/D1/D2/D3.
	cl := RegOp{Reg: CX, Width: 1}
	dst := RegOp{Reg: AX, Width: 4}

	shr := Encode(Instruction{Op: SHR, SrcReg: cl, DstReg: dst}, 0, nil)
	sar := Encode(Instruction{Op: SAR, SrcReg: cl, DstReg: dst}, 0, nil)

	if bytes.Equal(shr.Bytes, sar.Bytes) {
		t.Fatalf("SHR and SAR must encode to different bytes, both got % x", shr.Bytes)
	}
	// D3 /5 -> ModRM 0xE8 for %eax; D3 /7 -> ModRM 0xF8.
	bytesEqual(t, shr.Bytes, []byte{0xD3, 0xE8})
	bytesEqual(t, sar.Bytes, []byte{0xD3, 0xF8})
}

func TestShiftPanicsWhenCountOperandIsNotCL(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when shift count operand is not CL")
		}
	}()
	Encode(Instruction{
		Op:     SHL,
		SrcReg: RegOp{Reg: DX, Width: 1},
		DstReg: RegOp{Reg: AX, Width: 4},
	}, 0, nil)
}

func TestAddImmRegAndImmMemAreFullyImplemented(t *testing.T) {
	// add $1, %eax -> 83 C0 01 (byte-sized immediate form).
	reg := Encode(Instruction{
		Op:     ADD,
		Form:   FormImmReg,
		SrcImm: ImmOp{Kind: ImmInt, Width: 4, Value: 1},
		DstReg: RegOp{Reg: AX, Width: 4},
	}, 0, nil)
	bytesEqual(t, reg.Bytes, []byte{0x83, 0xC0, 0x01})

	// add $1, (%rbx) -> 83 03 01.
	mem := Encode(Instruction{
		Op:     ADD,
		Form:   FormImmMem,
		SrcImm: ImmOp{Kind: ImmInt, Width: 4, Value: 1},
		DstMem: MemOp{Width: 4, Base: BX},
	}, 0, nil)
	bytesEqual(t, mem.Bytes, []byte{0x83, 0x03, 0x01})
}

func TestNotOnSPBPSIDIByteOperandEmitsRexForLowByteEncoding(t *testing.T) {
	// not %spl requires REX (no REX -> %ah-style aliasing, which is
	// wrong for SP/BP/SI/DI byte operands); not %al must NOT carry a
	// spurious REX prefix since AL needs none.
	sp := Encode(Instruction{Op: NOT, SrcReg: RegOp{Reg: SP, Width: 1}}, 0, nil)
	if len(sp.Bytes) != 3 || sp.Bytes[0]&0xF0 != rex {
		t.Fatalf("not %%spl = % x, want a REX-prefixed 3-byte encoding", sp.Bytes)
	}

	al := Encode(Instruction{Op: NOT, SrcReg: RegOp{Reg: AX, Width: 1}}, 0, nil)
	bytesEqual(t, al.Bytes, []byte{0xF6, 0xD0})
}

func TestDirectCallUsesE8PC32Relocation(t *testing.T) {
	sym := &symtab.Symbol{Name: "callee"}
	r := &fakeRelocs{textOf: map[*symtab.Symbol]int{}}
	c := Encode(Instruction{Op: CALL, Form: FormImm, SrcImm: ImmOp{Kind: ImmAddr, Sym: sym}}, 16, r)
	bytesEqual(t, c.Bytes, []byte{0xE8, 0, 0, 0, 0})
	if len(r.added) != 1 || r.added[0].kind != R_X86_64_PC32 || r.added[0].offset != 17 {
		t.Fatalf("got relocs %+v, want one PC32 reloc at offset 17", r.added)
	}
}

func TestConditionalJumpDisplacementIsTargetMinusFieldEnd(t *testing.T) {
	// jz over a 4-byte body then landing exactly at label: for an
	// instruction at text offset 0 (0F 84 + 4-byte field, F = 2, field
	// ends at offset 6), a label at text offset 6 must encode
	// displacement 0 (L - (F+4) with F counted from the opcode's first
	// displacement byte).
	sym := &symtab.Symbol{Name: "L"}
	r := &fakeRelocs{textOf: map[*symtab.Symbol]int{sym: 6}}
	c := Encode(Instruction{Op: JZ, SrcImm: ImmOp{Kind: ImmAddr, Sym: sym}}, 0, r)
	bytesEqual(t, c.Bytes, []byte{0x0F, 0x84, 0x00, 0x00, 0x00, 0x00})
}

func TestMovapsUsesSSEStoreOpcode(t *testing.T) {
	c := Encode(Instruction{
		Op:     MOVAPS,
		SrcXMM: XMMOp{Reg: 0},
		DstMem: MemOp{Width: 16, Base: AX},
	}, 0, nil)
	bytesEqual(t, c.Bytes, []byte{0x0F, 0x29, 0x00})
}

func TestRipRelativeMemoryOperandRegistersPC32Reloc(t *testing.T) {
	sym := &symtab.Symbol{Name: "g"}
	r := &fakeRelocs{textOf: map[*symtab.Symbol]int{}}
	c := Encode(Instruction{
		Op:     MOV,
		Form:   FormMemReg,
		SrcMem: MemOp{Width: 4, Sym: sym},
		DstReg: RegOp{Reg: AX, Width: 4},
	}, 100, r)
	if len(r.added) != 1 || r.added[0].kind != R_X86_64_PC32 {
		t.Fatalf("expected one PC32 reloc for RIP-relative load, got %+v", r.added)
	}
	if c.Bytes[len(c.Bytes)-4] != 0 {
		t.Fatalf("displacement field must be zeroed pending relocation, got % x", c.Bytes)
	}
}

func TestPushRegUsesOnebyteOpcode(t *testing.T) {
	c := Encode(Instruction{Op: PUSH, SrcReg: RegOp{Reg: BP, Width: 8}}, 0, nil)
	bytesEqual(t, c.Bytes, []byte{0x55})
}
