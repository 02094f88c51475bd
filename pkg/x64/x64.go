// Package x64 implements the x86-64 instruction encoder of spec.md
// §4.7: it converts structured Instruction records into machine code
// bytes, registering relocations through the Relocs collaborator
// for symbol references and jumps. Grounded directly on lacc's
// instructions.c (original_source/src/backend/x86_64/instructions.c),
// with the three bugs spec.md §9 calls out (sar sharing shr's opcode,
// a stub add IMM_REG/IMM_MEM, unconditional REX on not) corrected to
// match the Intel SDM rather than reproduced.
package x64

import "c89cc/pkg/symtab"

// Reg is a general-purpose register number in SDM encoding order:
// AX=0, CX=1, DX=2, BX=3, SP=4, BP=5, SI=6, DI=7, R8=8 .. R15=15.
type Reg int

const (
	AX Reg = iota
	CX
	DX
	BX
	SP
	BP
	SI
	DI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// extended reports whether encoding this register requires the REX.B/R/X bit.
func (r Reg) extended() bool { return r >= R8 }

// lowBits is the 3-bit field stored in ModR/M or an opcode's low bits.
func (r Reg) lowBits() byte { return byte(r) & 0x7 }

// XMM is a floating-point register number, XMM0..XMM15.
type XMM int

// Width is an operand size in bytes: 1, 2, 4 or 8.
type Width int

// needsRexForLowByte reports whether a byte-width operand naming SP,
// BP, SI or DI needs a REX prefix to select the SPL/BPL/SIL/DIL
// encoding rather than legacy AH/CH/DH/BH aliasing (the bug spec.md
// §9 flags in the source's unconditional-REX `not`).
func needsRexForLowByte(r Reg, w Width) bool {
	return w == 1 && r >= SP && r <= DI
}

// RegOp is a register operand.
type RegOp struct {
	Reg   Reg
	Width Width
}

// XMMOp is an XMM register operand.
type XMMOp struct{ Reg XMM }

// MemOp is a memory operand addressed either RIP-relative to a symbol
// (Sym != nil) or base-register + displacement.
type MemOp struct {
	Width Width
	Sym   *symtab.Symbol
	Base  Reg
	Disp  int32
}

// ImmKind discriminates an immediate's payload.
type ImmKind int

const (
	ImmInt  ImmKind = iota // a literal constant value
	ImmAddr                // IMM_ADDR: a symbol address (R_X86_64_32S)
)

// ImmOp is an immediate operand.
type ImmOp struct {
	Kind  ImmKind
	Width Width
	Value int64
	Sym   *symtab.Symbol // ImmAddr
	Disp  int32          // ImmAddr
}

// Opcode names one instruction mnemonic.
type Opcode int

const (
	MOV Opcode = iota
	MOVSX
	MOVZX
	MOVAPS
	LEA
	PUSH
	ADD
	SUB
	AND
	OR
	XOR
	NOT
	MUL
	DIV
	SHL
	SHR
	SAR
	CMP
	TEST
	CALL
	JMP
	JA
	JG
	JZ
	JAE
	JGE
	SETZ
	SETA
	SETG
	SETAE
	SETGE
	RET
	LEAVE
	REP_MOVSQ
	NOP
)

// Form tags which operand slots an Instruction carries, matching
// spec.md §4.7's IMM_REG / REG_REG / MEM_REG and friends.
type Form int

const (
	FormNone Form = iota
	FormReg
	FormMem
	FormImm
	FormRegReg
	FormRegMem
	FormMemReg
	FormImmReg
	FormImmMem
)

// Instruction is one structured encode() input.
type Instruction struct {
	Op   Opcode
	Form Form

	SrcReg RegOp
	SrcMem MemOp
	SrcImm ImmOp
	SrcXMM XMMOp

	DstReg RegOp
	DstMem MemOp
}

// RelocKind mirrors spec.md §6's ELF relocation kinds.
type RelocKind int

const (
	R_X86_64_PC32 RelocKind = iota
	R_X86_64_32S
	R_X86_64_64
)

// Relocs is the ELF writer collaborator contract of spec.md §6.
type Relocs interface {
	AddRelocText(sym *symtab.Symbol, kind RelocKind, textOffset int, addend int32)
	// TextDisplacement returns the signed 32-bit displacement from
	// fieldOffset (text-section-relative) to sym's text address, or 0
	// with a pending relocation registered if sym is a forward
	// reference.
	TextDisplacement(sym *symtab.Symbol, fieldOffset int) int32
}

// Code is the byte output of one encode() call; length never exceeds 16.
type Code struct {
	Bytes []byte
}

func (c *Code) emit(b ...byte) { c.Bytes = append(c.Bytes, b...) }

func (c *Code) emit32(v int32) {
	c.emit(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (c *Code) emit64(v int64) {
	c.emit32(int32(v))
	c.emit32(int32(v >> 32))
}

const rex = 0x40

func rexByte(w, r, x, b bool) byte {
	v := byte(rex)
	if w {
		v |= 1 << 3
	}
	if r {
		v |= 1 << 2
	}
	if x {
		v |= 1 << 1
	}
	if b {
		v |= 1
	}
	return v
}

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | (rm & 7) }

func inByteRange(v int64) bool { return v >= -128 && v <= 127 }
func in32BitRange(v int64) bool {
	return v >= -2147483648 && v <= 2147483647
}

// w returns the SDM "w" bit: 0 for 8-bit operands, 1 otherwise (it
// selects between the byte-operand and word/dword opcode forms of
// arithmetic instructions, independent of REX.W which only matters
// for 64-bit vs 32-bit default operand size).
func w(width Width) byte {
	if width == 1 {
		return 0
	}
	return 1
}

// encodeMem appends the ModR/M[+SIB][+disp] bytes addressing mem with
// the given reg field, registering a RIP-relative relocation when mem
// names a symbol.
func encodeMem(c *Code, reg byte, mem MemOp, relocs Relocs, textOffset int) {
	if mem.Sym != nil {
		c.emit(modrm(0, reg, 0x5))
		relocs.AddRelocText(mem.Sym, R_X86_64_PC32, textOffset+len(c.Bytes), mem.Disp)
		c.emit(0, 0, 0, 0)
		return
	}
	switch {
	case mem.Disp == 0:
		c.emit(modrm(0, reg, mem.Base.lowBits()))
	case inByteRange(int64(mem.Disp)):
		c.emit(modrm(1, reg, mem.Base.lowBits()))
		c.emit(byte(mem.Disp))
	default:
		c.emit(modrm(2, reg, mem.Base.lowBits()))
		c.emit32(mem.Disp)
	}
}

// Encode converts one structured Instruction into machine code bytes.
// textOffset is the text-section-relative offset at which this
// instruction's first byte will land, needed to compute RIP-relative
// and jump displacements; relocs is the ELF writer collaborator.
// Encode is a pure function of its inputs except for relocation
// registration (spec.md §4.7 "The encoder is a pure function").
func Encode(instr Instruction, textOffset int, relocs Relocs) Code {
	switch instr.Op {
	case NOP:
		return Code{Bytes: []byte{0x90}}
	case RET:
		return Code{Bytes: []byte{0xC3}}
	case LEAVE:
		return Code{Bytes: []byte{0xC9}}
	case REP_MOVSQ:
		return Code{Bytes: []byte{0xF3, 0x48, 0xA5}}
	case MOV:
		return encodeMov(instr, relocs, textOffset)
	case MOVSX:
		return encodeMovx(instr, relocs, textOffset, true)
	case MOVZX:
		return encodeMovx(instr, relocs, textOffset, false)
	case MOVAPS:
		return encodeMovaps(instr, relocs, textOffset)
	case LEA:
		return encodeLea(instr, relocs, textOffset)
	case PUSH:
		return encodePush(instr)
	case ADD:
		return encodeArith(instr, 0x00, 0xC0)
	case SUB:
		return encodeArith(instr, 0x28, 0xE8)
	case AND:
		return encodeArithRegReg(instr, 0x20)
	case OR:
		return encodeArithRegReg(instr, 0x08)
	case XOR:
		return encodeArithRegReg(instr, 0x30)
	case NOT:
		return encodeUnary(instr, 0xD0)
	case MUL:
		return encodeUnary(instr, 0xE0)
	case DIV:
		return encodeUnary(instr, 0xF0)
	case SHL:
		return encodeShift(instr, 0xE0)
	case SHR:
		return encodeShift(instr, 0xE8)
	case SAR:
		return encodeShift(instr, 0xF8)
	case CMP:
		return encodeCmp(instr)
	case TEST:
		return encodeTest(instr)
	case CALL:
		return encodeCall(instr, relocs, textOffset)
	case JMP:
		return encodeJmp(instr, relocs, textOffset)
	case JA, JG, JZ, JAE, JGE:
		return encodeJcc(instr, relocs, textOffset)
	case SETZ, SETA, SETG, SETAE, SETGE:
		return encodeSetcc(instr)
	}
	return Code{Bytes: []byte{0x90}}
}

var ccBits = map[Opcode]byte{
	JA: 0x7, JG: 0xF, JZ: 0x4, JAE: 0x3, JGE: 0xD,
	SETA: 0x7, SETG: 0xF, SETZ: 0x4, SETAE: 0x3, SETGE: 0xD,
}

func encodeMov(instr Instruction, relocs Relocs, textOffset int) Code {
	var c Code
	switch instr.Form {
	case FormImmReg:
		dst := instr.DstReg
		imm := instr.SrcImm
		switch {
		case imm.Width == 1:
			if dst.Width == 8 || dst.Reg.extended() {
				c.emit(rexByte(dst.Width == 8, false, false, dst.Reg.extended()))
			}
			c.emit(0xB0 | dst.Reg.lowBits())
			c.emit(byte(imm.Value))
		case imm.Width == 2:
			c.emit(0x66)
			c.emit(0xB8 | dst.Reg.lowBits())
			c.emit(byte(imm.Value), byte(imm.Value>>8))
		case dst.Width == 8 && (imm.Kind == ImmInt && in32BitRange(imm.Value) || imm.Kind == ImmAddr):
			// MOV r64, imm32 (sign-extended): C7 /0, shorter than the
			// 10-byte B8+imm64 alternative.
			c.emit(rexByte(true, false, false, dst.Reg.extended()))
			c.emit(0xC7)
			c.emit(modrm(3, 0, dst.Reg.lowBits()))
			if imm.Kind == ImmAddr {
				relocs.AddRelocText(imm.Sym, R_X86_64_32S, textOffset+len(c.Bytes), imm.Disp)
				c.emit(0, 0, 0, 0)
			} else {
				c.emit32(int32(imm.Value))
			}
		case dst.Width == 8:
			c.emit(rexByte(true, false, false, dst.Reg.extended()))
			c.emit(0xB8 | dst.Reg.lowBits())
			c.emit64(imm.Value)
		default:
			if dst.Reg.extended() {
				c.emit(rexByte(false, false, false, true))
			}
			c.emit(0xB8 | dst.Reg.lowBits())
			if imm.Kind == ImmAddr {
				relocs.AddRelocText(imm.Sym, R_X86_64_32S, textOffset+len(c.Bytes), imm.Disp)
				c.emit(0, 0, 0, 0)
			} else {
				c.emit32(int32(imm.Value))
			}
		}
	case FormRegReg:
		src, dst := instr.SrcReg, instr.DstReg
		c.emit(rexByte(src.Width == 8, src.Reg.extended(), false, dst.Reg.extended()))
		c.emit(0x88 | w(src.Width))
		c.emit(modrm(3, src.Reg.lowBits(), dst.Reg.lowBits()))
	case FormRegMem:
		src, mem := instr.SrcReg, instr.DstMem
		if src.Width == 2 {
			c.emit(0x66)
		} else if src.Width == 8 || src.Reg.extended() || mem.Base.extended() {
			c.emit(rexByte(src.Width == 8, false, false, mem.Base.extended()))
		}
		c.emit(0x88 | w(src.Width))
		encodeMem(&c, src.Reg.lowBits(), mem, relocs, textOffset)
	case FormMemReg:
		mem, dst := instr.SrcMem, instr.DstReg
		if dst.Width == 8 || dst.Reg.extended() {
			c.emit(rexByte(dst.Width == 8, dst.Reg.extended(), false, mem.Base.extended()))
		}
		c.emit(0x8A | w(dst.Width))
		encodeMem(&c, dst.Reg.lowBits(), mem, relocs, textOffset)
	}
	return c
}

func encodeMovx(instr Instruction, relocs Relocs, textOffset int, signExtend bool) Code {
	var c Code
	mem, dst := instr.SrcMem, instr.DstReg
	needRex := dst.Width == 8 || dst.Reg.extended() || mem.Base.extended()
	if needRex {
		c.emit(rexByte(dst.Width == 8, dst.Reg.extended(), false, mem.Base.extended()))
	}
	if signExtend && mem.Width == 4 && dst.Width == 8 {
		c.emit(0x63)
	} else {
		c.emit(0x0F)
		op := byte(0xB6)
		if signExtend {
			op = 0xBE
		}
		c.emit(op | w(mem.Width))
	}
	encodeMem(&c, dst.Reg.lowBits(), mem, relocs, textOffset)
	return c
}

func encodeMovaps(instr Instruction, relocs Relocs, textOffset int) Code {
	var c Code
	c.emit(0x0F, 0x29)
	encodeMem(&c, byte(instr.SrcXMM.Reg), instr.DstMem, relocs, textOffset)
	return c
}

func encodeLea(instr Instruction, relocs Relocs, textOffset int) Code {
	var c Code
	mem, dst := instr.SrcMem, instr.DstReg
	c.emit(rexByte(true, dst.Reg.extended(), false, mem.Base.extended()))
	c.emit(0x8D)
	encodeMem(&c, dst.Reg.lowBits(), mem, relocs, textOffset)
	return c
}

func encodePush(instr Instruction) Code {
	return Code{Bytes: []byte{0x50 + instr.SrcReg.Reg.lowBits()}}
}

// encodeArith covers ADD and SUB, whose REG_REG and IMM_REG forms
// share shape (design notes spec.md §9: "add ... must fill [IMM_REG
// /IMM_MEM] analogously to sub").
func encodeArith(instr Instruction, regRegOp byte, immRegModExt byte) Code {
	var c Code
	switch instr.Form {
	case FormRegReg:
		src, dst := instr.SrcReg, instr.DstReg
		if src.Width == 8 || src.Reg.extended() || dst.Reg.extended() {
			c.emit(rexByte(src.Width == 8, src.Reg.extended(), false, dst.Reg.extended()))
		}
		c.emit(regRegOp | w(src.Width))
		c.emit(modrm(3, src.Reg.lowBits(), dst.Reg.lowBits()))
	case FormImmReg:
		imm, dst := instr.SrcImm, instr.DstReg
		byteImm := imm.Kind == ImmInt && inByteRange(imm.Value)
		if dst.Width == 8 || dst.Reg.extended() {
			c.emit(rexByte(dst.Width == 8, false, false, dst.Reg.extended()))
		}
		op := byte(0x81)
		if byteImm {
			op |= 2
		}
		c.emit(op)
		c.emit(modrm(3, immRegModExt>>3&7, dst.Reg.lowBits()) | (immRegModExt & 0xC0))
		if byteImm {
			c.emit(byte(imm.Value))
		} else {
			c.emit32(int32(imm.Value))
		}
	case FormImmMem:
		imm, mem := instr.SrcImm, instr.DstMem
		byteImm := imm.Kind == ImmInt && inByteRange(imm.Value)
		if mem.Width == 8 || mem.Base.extended() {
			c.emit(rexByte(mem.Width == 8, false, false, mem.Base.extended()))
		}
		op := byte(0x81)
		if byteImm {
			op |= 2
		}
		c.emit(op)
		reg := (immRegModExt >> 3) & 7
		c.emit(modrm(0, reg, mem.Base.lowBits()))
		if mem.Disp != 0 {
			c.Bytes = c.Bytes[:len(c.Bytes)-1]
			if inByteRange(int64(mem.Disp)) {
				c.emit(modrm(1, reg, mem.Base.lowBits()))
				c.emit(byte(mem.Disp))
			} else {
				c.emit(modrm(2, reg, mem.Base.lowBits()))
				c.emit32(mem.Disp)
			}
		}
		if byteImm {
			c.emit(byte(imm.Value))
		} else {
			c.emit32(int32(imm.Value))
		}
	}
	return c
}

func encodeArithRegReg(instr Instruction, op byte) Code {
	src, dst := instr.SrcReg, instr.DstReg
	var c Code
	if src.Width == 8 || src.Reg.extended() || dst.Reg.extended() {
		c.emit(rexByte(src.Width == 8, src.Reg.extended(), false, dst.Reg.extended()))
	}
	c.emit(op | w(src.Width))
	c.emit(modrm(3, src.Reg.lowBits(), dst.Reg.lowBits()))
	return c
}

// encodeUnary covers NOT/MUL/DIV, single-register-operand forms of
// the F6/F7 opcode group distinguished by ModR/M's reg field
// (modExt, already positioned in bits 3-5).
func encodeUnary(instr Instruction, modExt byte) Code {
	var c Code
	reg, width := instr.SrcReg.Reg, instr.SrcReg.Width
	if width == 8 || reg.extended() || needsRexForLowByte(reg, width) {
		c.emit(rexByte(width == 8, false, false, reg.extended()))
	}
	c.emit(0xF6 | w(width))
	c.emit(modrm(3, modExt>>3&7, reg.lowBits()) | (modExt & 0xC0))
	return c
}

// encodeShift covers SHL/SHR/SAR, always by %cl (spec.md §4.7 "Shifts
// require their count operand to be CL").
func encodeShift(instr Instruction, modExt byte) Code {
	if instr.SrcReg.Reg != CX || instr.SrcReg.Width != 1 {
		panic("x64: shift count operand must be CL")
	}
	var c Code
	dst := instr.DstReg
	if dst.Width == 8 || dst.Reg.extended() {
		c.emit(rexByte(dst.Width == 8, false, false, dst.Reg.extended()))
	}
	c.emit(0xD2 | w(dst.Width))
	c.emit(modrm(3, modExt>>3&7, dst.Reg.lowBits()) | (modExt & 0xC0))
	return c
}

func encodeCmp(instr Instruction) Code {
	var c Code
	switch instr.Form {
	case FormRegReg:
		src, dst := instr.SrcReg, instr.DstReg
		c.emit(0x38 | w(src.Width))
		c.emit(modrm(3, src.Reg.lowBits(), dst.Reg.lowBits()))
	case FormImmReg:
		imm, dst := instr.SrcImm, instr.DstReg
		byteImm := imm.Kind == ImmInt && inByteRange(imm.Value)
		op := byte(0x80 | w(dst.Width))
		if byteImm {
			op |= 2
		}
		c.emit(op)
		c.emit(0xF8 | dst.Reg.lowBits())
		if byteImm {
			c.emit(byte(imm.Value))
		} else {
			c.emit32(int32(imm.Value))
		}
	}
	return c
}

func encodeTest(instr Instruction) Code {
	src, dst := instr.SrcReg, instr.DstReg
	var c Code
	c.emit(0x84 | w(src.Width))
	c.emit(modrm(3, src.Reg.lowBits(), dst.Reg.lowBits()))
	return c
}

func encodeCall(instr Instruction, relocs Relocs, textOffset int) Code {
	var c Code
	switch instr.Form {
	case FormImm:
		c.emit(0xE8)
		relocs.AddRelocText(instr.SrcImm.Sym, R_X86_64_PC32, textOffset+len(c.Bytes), instr.SrcImm.Disp)
		c.emit(0, 0, 0, 0)
	case FormReg:
		r := instr.SrcReg.Reg
		c.emit(rexByte(false, false, false, r.extended()))
		c.emit(0xFF)
		c.emit(0xD0 | r.lowBits())
	}
	return c
}

// jumpDisplacement computes L - (F + 4): the signed 32-bit
// displacement from the byte right after the instruction's 4-byte
// immediate field to the target symbol's text offset (spec.md §4.7
// "Conditional jumps", §8 "Jump offsets").
func jumpDisplacement(relocs Relocs, sym *symtab.Symbol, fieldOffset int, addend int32) int32 {
	return relocs.TextDisplacement(sym, fieldOffset) + addend
}

func encodeJmp(instr Instruction, relocs Relocs, textOffset int) Code {
	var c Code
	c.emit(0xE9)
	disp := jumpDisplacement(relocs, instr.SrcImm.Sym, textOffset+len(c.Bytes), instr.SrcImm.Disp-4)
	c.emit32(disp)
	return c
}

func encodeJcc(instr Instruction, relocs Relocs, textOffset int) Code {
	var c Code
	c.emit(0x0F, 0x80|ccBits[instr.Op])
	disp := jumpDisplacement(relocs, instr.SrcImm.Sym, textOffset+len(c.Bytes), instr.SrcImm.Disp-4)
	c.emit32(disp)
	return c
}

func encodeSetcc(instr Instruction) Code {
	r := instr.SrcReg.Reg
	var c Code
	c.emit(0x0F, 0x90|ccBits[instr.Op])
	c.emit(modrm(3, 0, r.lowBits()))
	return c
}
