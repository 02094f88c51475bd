package parser

import "c89cc/pkg/token"
import "c89cc/pkg/types"

// specMask is a bitset over the declaration specifier keywords,
// matching the table original_source/src/parser/declaration.c builds
// before mapping a combination to a basic type (spec.md §4.4 names the
// specifier grammar but not this exact table).
type specMask uint32

const (
	specVoid specMask = 1 << iota
	specChar
	specShort
	specInt
	specLong
	specLongLong
	specSigned
	specUnsigned
	specFloat
	specDouble
)

// basicTypeFor resolves a completed specifier combination to a basic
// type, reproducing declaration.c's switch over
// (void|char|short|int|signed|unsigned|long|longlong|float|double).
func basicTypeFor(m specMask) *types.Type {
	switch {
	case m&specVoid != 0:
		return types.BasicVoid
	case m&specFloat != 0:
		return types.BasicFloat
	case m&specDouble != 0:
		return types.BasicDouble
	case m&specChar != 0:
		if m&specUnsigned != 0 {
			return types.BasicUnsignedChar
		}
		return types.BasicChar
	case m&specShort != 0:
		if m&specUnsigned != 0 {
			return types.BasicUnsignedShort
		}
		return types.BasicShort
	case m&specLongLong != 0 || m&specLong != 0:
		if m&specUnsigned != 0 {
			return types.BasicUnsignedLong
		}
		return types.BasicLong
	case m&specUnsigned != 0:
		return types.BasicUnsignedInt
	default:
		return types.BasicInt
	}
}

// specifierKind maps a keyword token to the specMask bit it sets, or
// ok=false when tok does not start/continue a specifier.
func specifierKind(k token.Kind) (specMask, bool) {
	switch k {
	case token.VOID:
		return specVoid, true
	case token.CHAR:
		return specChar, true
	case token.SHORT:
		return specShort, true
	case token.INT:
		return specInt, true
	case token.LONG:
		return specLong, true
	case token.SIGNED:
		return specSigned, true
	case token.UNSIGNED:
		return specUnsigned, true
	case token.FLOAT:
		return specFloat, true
	case token.DOUBLE:
		return specDouble, true
	}
	return 0, false
}
