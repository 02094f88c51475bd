// Package elfobj writes ELF64 ET_REL relocatable object files: the
// output format and the relocation-registration collaborator named in
// spec.md §6. Section layout (text, data, rela.text, symtab, strtab)
// follows the append-only byte-buffer model of spec.md §5. No
// third-party ELF-object-writer library exists anywhere in the
// retrieval pack; debug/elf supplies only the section/relocation type
// constants reused below, never a writer API (see DESIGN.md).
package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"c89cc/pkg/symtab"
	"c89cc/pkg/types"
	"c89cc/pkg/x64"
)

// pendingReloc is one relocation waiting to be written into rela.text
// at Flush time. Every registered entry is written there, including
// forward jumps to labels later defined in .text; Flush patches no
// text bytes itself. Only TextDisplacement on an already-defined .text
// symbol avoids an entry, by returning the displacement directly.
type pendingReloc struct {
	sym    *symtab.Symbol
	kind   x64.RelocKind
	offset int
	addend int32
}

// symbolEntry records a defined symbol's section and byte offset, or
// zero values for one that is declared but not yet defined (extern).
type symbolEntry struct {
	sym     *symtab.Symbol
	section elf.SectionIndex
	offset  int
	size    int64
	global  bool
	defined bool
}

// Object accumulates one translation unit's text and data bytes,
// relocations and symbols, implementing x64.Relocs so the encoder can
// call directly into it.
type Object struct {
	text bytes.Buffer
	data bytes.Buffer

	relocs  []pendingReloc
	symbols []*symbolEntry
	byName  map[*symtab.Symbol]*symbolEntry
}

func New() *Object {
	return &Object{byName: map[*symtab.Symbol]*symbolEntry{}}
}

// TextLen returns the current text section length, the offset at
// which the next emitted instruction will land.
func (o *Object) TextLen() int { return o.text.Len() }

// AppendText appends raw bytes (an encoded instruction) to .text.
func (o *Object) AppendText(b []byte) { o.text.Write(b) }

// AppendData appends raw bytes to .data, returning the offset they
// were written at.
func (o *Object) AppendData(b []byte) int {
	off := o.data.Len()
	o.data.Write(b)
	return off
}

func (o *Object) entry(sym *symtab.Symbol) *symbolEntry {
	e, ok := o.byName[sym]
	if !ok {
		e = &symbolEntry{sym: sym}
		o.byName[sym] = e
		o.symbols = append(o.symbols, e)
	}
	return e
}

// DefineText marks sym as defined at the current (or given) text
// offset, global if its linkage is LinkExtern (spec.md §5 "symbol
// definitions must be placed into the symbol table before any
// relocation referencing them is resolved").
func (o *Object) DefineText(sym *symtab.Symbol, offset int, size int64) {
	e := o.entry(sym)
	e.section = elf.SHN_UNDEF + 1 // .text index, fixed up at Flush
	e.offset = offset
	e.size = size
	e.defined = true
	e.global = sym.Linkage == symtab.LinkExtern
}

// DefineData is DefineText's .data counterpart.
func (o *Object) DefineData(sym *symtab.Symbol, offset int, size int64) {
	e := o.entry(sym)
	e.section = elf.SHN_UNDEF + 2 // .data index, fixed up at Flush
	e.offset = offset
	e.size = size
	e.defined = true
	e.global = sym.Linkage == symtab.LinkExtern
}

// AddRelocText implements x64.Relocs: register a pending relocation
// against the text section.
func (o *Object) AddRelocText(sym *symtab.Symbol, kind x64.RelocKind, textOffset int, addend int32) {
	o.entry(sym) // ensure it appears in the symbol table even if undefined
	o.relocs = append(o.relocs, pendingReloc{sym: sym, kind: kind, offset: textOffset, addend: addend})
}

// TextDisplacement implements x64.Relocs: if sym is already defined
// in .text, return the exact signed displacement. Otherwise sym is a
// forward reference (a jump to a block not yet encoded) — register a
// pending PC32 relocation against fieldOffset, written to .rela.text
// by Flush for the linker to resolve, and return 0 for the placeholder
// bytes in the meantime. Its addend is -4 so the resolved value
// S + A - P is measured from the end of the 4-byte field, as the
// defined-symbol displacement is once the encoder subtracts 4.
func (o *Object) TextDisplacement(sym *symtab.Symbol, fieldOffset int) int32 {
	e, ok := o.byName[sym]
	if ok && e.defined && e.section == elf.SHN_UNDEF+1 {
		return int32(e.offset - fieldOffset)
	}
	o.AddRelocText(sym, x64.R_X86_64_PC32, fieldOffset, -4)
	return 0
}

// ELF64 structures, laid out by hand since encoding/binary has no
// struct-aware ELF writer and none of the retrieval pack's
// dependencies offers one.

const (
	ehdrSize  = 64
	shdrSize  = 64
	symSize   = 24
	relaSize  = 24
)

func u16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func u64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

type section struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	addr    uint64
	offset  uint64
	size    uint64
	link    uint32
	info    uint32
	align   uint64
	entsize uint64
	data    []byte
}

// Flush serializes the accumulated text/data/symbols/relocations into
// a complete ELF64 ET_REL image.
func (o *Object) Flush() ([]byte, error) {
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	strOf := func(s string) uint32 {
		if s == "" {
			return 0
		}
		off := uint32(strtab.Len())
		strtab.WriteString(s)
		strtab.WriteByte(0)
		return off
	}

	// Section indices fixed by layout: 0 null, 1 .text, 2 .data,
	// 3 .rela.text, 4 .symtab, 5 .strtab, 6 .shstrtab.
	const (
		shText      = 1
		shData      = 2
		shRelaText  = 3
		shSymtab    = 4
		shStrtab    = 5
		shShstrtab  = 6
		nSections   = 7
	)

	var symtabBuf bytes.Buffer
	// Null symbol entry.
	symtabBuf.Write(make([]byte, symSize))

	localCount := 1
	indexOf := map[*symtab.Symbol]uint32{}

	emitSym := func(e *symbolEntry, idx uint32) {
		bind := byte(elf.STB_LOCAL)
		if e.global {
			bind = byte(elf.STB_GLOBAL)
		}
		typ := byte(elf.STT_OBJECT)
		switch {
		case e.defined && e.section == shText:
			typ = byte(elf.STT_FUNC)
		case !e.defined && e.sym.Type != nil && types.IsFunction(e.sym.Type):
			typ = byte(elf.STT_FUNC)
		}
		info := bind<<4 | typ
		shndx := uint16(elf.SHN_UNDEF)
		if e.defined {
			shndx = uint16(e.section)
		}
		symtabBuf.Write(u32(strOf(e.sym.Name)))
		symtabBuf.WriteByte(info)
		symtabBuf.WriteByte(0)
		symtabBuf.Write(u16(shndx))
		symtabBuf.Write(u64(uint64(e.offset)))
		symtabBuf.Write(u64(uint64(e.size)))
		indexOf[e.sym] = idx
	}

	// Locals first (defined, non-global), then globals, matching the
	// conventional ELF symtab ordering st_info expects.
	idx := uint32(1)
	for _, e := range o.symbols {
		if !e.global {
			emitSym(e, idx)
			idx++
			localCount++
		}
	}
	for _, e := range o.symbols {
		if e.global {
			emitSym(e, idx)
			idx++
		}
	}

	var relaBuf bytes.Buffer
	for _, r := range o.relocs {
		e, ok := o.byName[r.sym]
		if !ok {
			return nil, fmt.Errorf("elfobj: relocation against unregistered symbol %q", r.sym.Name)
		}
		si, ok := indexOf[e.sym]
		if !ok {
			return nil, fmt.Errorf("elfobj: no symtab index for %q", r.sym.Name)
		}
		relaBuf.Write(u64(uint64(r.offset)))
		relaBuf.Write(u64(uint64(si)<<32 | uint64(relocType(r.kind))))
		relaBuf.Write(u64(uint64(int64(r.addend))))
	}

	shstrtab := new(bytes.Buffer)
	shstrtab.WriteByte(0)
	shstrOf := func(s string) uint32 {
		off := uint32(shstrtab.Len())
		shstrtab.WriteString(s)
		shstrtab.WriteByte(0)
		return off
	}
	names := make([]uint32, nSections)
	names[shText] = shstrOf(".text")
	names[shData] = shstrOf(".data")
	names[shRelaText] = shstrOf(".rela.text")
	names[shSymtab] = shstrOf(".symtab")
	names[shStrtab] = shstrOf(".strtab")
	names[shShstrtab] = shstrOf(".shstrtab")

	// Lay out section contents right after the ELF header, in source
	// order, respecting 8-byte alignment; the section header table
	// follows them at shoff.
	offset := uint64(ehdrSize)
	align := func(off uint64, a uint64) uint64 {
		if a == 0 {
			return off
		}
		if r := off % a; r != 0 {
			off += a - r
		}
		return off
	}

	shdrs := make([]section, nSections)
	place := func(i int, name string, typ elf.SectionType, flags elf.SectionFlag, data []byte, a uint64, link, info uint32, entsize uint64) {
		offset = align(offset, a)
		shdrs[i] = section{name: name, typ: typ, flags: flags, offset: offset, size: uint64(len(data)), data: data, link: link, info: info, align: a, entsize: entsize}
		offset += uint64(len(data))
	}

	place(shText, ".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, o.text.Bytes(), 16, 0, 0, 0)
	place(shData, ".data", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, o.data.Bytes(), 8, 0, 0, 0)
	place(shRelaText, ".rela.text", elf.SHT_RELA, elf.SHF_INFO_LINK, relaBuf.Bytes(), 8, shSymtab, shText, relaSize)
	place(shSymtab, ".symtab", elf.SHT_SYMTAB, 0, symtabBuf.Bytes(), 8, shStrtab, uint32(localCount), symSize)
	place(shStrtab, ".strtab", elf.SHT_STRTAB, 0, strtab.Bytes(), 1, 0, 0, 0)
	place(shShstrtab, ".shstrtab", elf.SHT_STRTAB, 0, shstrtab.Bytes(), 1, 0, 0, 0)

	shoff := align(offset, 8)

	var out bytes.Buffer
	writeEhdr(&out, shoff, uint16(nSections), uint16(shShstrtab))
	// Write section payloads at their computed offsets with padding.
	cur := uint64(ehdrSize)
	for i := 1; i < nSections; i++ {
		s := shdrs[i]
		if s.offset > cur {
			out.Write(make([]byte, s.offset-cur))
		}
		out.Write(s.data)
		cur = s.offset + s.size
	}
	if shoff > cur {
		out.Write(make([]byte, shoff-cur))
	}

	// Null section header.
	out.Write(make([]byte, shdrSize))
	for i := 1; i < nSections; i++ {
		s := shdrs[i]
		out.Write(u32(names[i]))
		out.Write(u32(uint32(s.typ)))
		out.Write(u64(uint64(s.flags)))
		out.Write(u64(0)) // sh_addr
		out.Write(u64(s.offset))
		out.Write(u64(s.size))
		out.Write(u32(s.link))
		out.Write(u32(s.info))
		out.Write(u64(s.align))
		out.Write(u64(s.entsize))
	}

	return out.Bytes(), nil
}

func relocType(k x64.RelocKind) uint32 {
	switch k {
	case x64.R_X86_64_PC32:
		return uint32(elf.R_X86_64_PC32)
	case x64.R_X86_64_32S:
		return uint32(elf.R_X86_64_32S)
	case x64.R_X86_64_64:
		return uint32(elf.R_X86_64_64)
	}
	return uint32(elf.R_X86_64_NONE)
}

func writeEhdr(out *bytes.Buffer, shoff uint64, shnum, shstrndx uint16) {
	out.Write([]byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0}) // ELFCLASS64, ELFDATA2LSB, EV_CURRENT
	out.Write(make([]byte, 8))                         // EI_PAD
	out.Write(u16(uint16(elf.ET_REL)))
	out.Write(u16(uint16(elf.EM_X86_64)))
	out.Write(u32(uint32(elf.EV_CURRENT)))
	out.Write(u64(0)) // e_entry
	out.Write(u64(0)) // e_phoff
	out.Write(u64(shoff))
	out.Write(u32(0)) // e_flags
	out.Write(u16(ehdrSize))
	out.Write(u16(0)) // e_phentsize
	out.Write(u16(0)) // e_phnum
	out.Write(u16(shdrSize))
	out.Write(u16(shnum))
	out.Write(u16(shstrndx))
}
