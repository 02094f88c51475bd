// Package types implements the type system described by spec.md §4.1:
// a graph of type nodes built from a process-wide arena, with tagged
// alias nodes letting qualifiers be attached to a struct/union without
// mutating its definition.
package types

import "fmt"

// Kind is the discriminant of a Type node.
type Kind int

const (
	Void Kind = iota
	Signed
	Unsigned
	Real
	Pointer
	Array
	Struct
	Union
	Function
)

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Signed:
		return "signed"
	case Unsigned:
		return "unsigned"
	case Real:
		return "real"
	case Pointer:
		return "pointer"
	case Array:
		return "array"
	case Struct:
		return "struct"
	case Union:
		return "union"
	case Function:
		return "function"
	}
	return "?"
}

// Qualifier is a bitset of cv-qualifiers.
type Qualifier uint8

const (
	Const Qualifier = 1 << iota
	Volatile
)

// Member is one field of a struct/union, or one parameter of a
// function type. Offset is only meaningful for struct members.
type Member struct {
	Name   string
	Type   *Type
	Offset int
}

type memberList struct {
	members []Member
	vararg  bool
}

// Type is one node of the type graph. Tagged nodes (see Arena.Tag) have
// Next pointing at the struct/union they alias and no members of their
// own; every structural query unwraps through Next via Unwrap first.
type Type struct {
	Kind      Kind
	Size      int
	Qualifier Qualifier
	Next      *Type // pointee / element / return type, or the aliased def for tagged nodes
	TagName   string
	count     int // array element count, 0 when incomplete

	members *memberList
}

func (t *Type) IsTagged() bool { return t.TagName != "" }

// Arena owns every Type and member list created during a compilation.
// Its zero value is ready to use; teardown is a single bulk release
// when the compilation is discarded (spec.md §3 "Lifecycle").
type Arena struct {
	types []*Type
}

func NewArena() *Arena { return &Arena{} }

func (a *Arena) alloc(t *Type) *Type {
	a.types = append(a.types, t)
	return t
}

// Release drops every Type allocated by the arena in one shot.
func (a *Arena) Release() { a.types = nil }

// Basic, process-wide singleton scalar types, mirroring lacc's
// basic_type__* constants (original_source/src/parser/type.c).
var (
	BasicVoid           = &Type{Kind: Void}
	BasicChar           = &Type{Kind: Signed, Size: 1}
	BasicShort          = &Type{Kind: Signed, Size: 2}
	BasicInt            = &Type{Kind: Signed, Size: 4}
	BasicLong           = &Type{Kind: Signed, Size: 8}
	BasicUnsignedChar   = &Type{Kind: Unsigned, Size: 1}
	BasicUnsignedShort  = &Type{Kind: Unsigned, Size: 2}
	BasicUnsignedInt    = &Type{Kind: Unsigned, Size: 4}
	BasicUnsignedLong   = &Type{Kind: Unsigned, Size: 8}
	BasicFloat          = &Type{Kind: Real, Size: 4}
	BasicDouble         = &Type{Kind: Real, Size: 8}
)

// NewInteger allocates a new integer type node of the given byte size
// (1, 2, 4 or 8), matching type_init(T_SIGNED/T_UNSIGNED, size).
func (a *Arena) NewInteger(unsigned bool, size int) *Type {
	if size != 1 && size != 2 && size != 4 && size != 8 {
		panic(fmt.Sprintf("types: invalid integer size %d", size))
	}
	k := Signed
	if unsigned {
		k = Unsigned
	}
	return a.alloc(&Type{Kind: k, Size: size})
}

// NewPointer allocates a pointer-to-next type, matching
// type_init(T_POINTER, next).
func (a *Arena) NewPointer(next *Type) *Type {
	return a.alloc(&Type{Kind: Pointer, Next: next, Size: 8})
}

// NewArray allocates an array of count elements of next, or an
// incomplete array (size 0) when count is 0, matching
// type_init(T_ARRAY, next, count).
func (a *Arena) NewArray(next *Type, count int) *Type {
	size := 0
	if count > 0 {
		size = SizeOf(next) * count
	}
	return a.alloc(&Type{Kind: Array, Next: next, Size: size, count: count})
}

// NewStruct/NewUnion/NewFunction allocate an empty aggregate or
// function type; members are attached with AddMember.
func (a *Arena) NewStruct() *Type   { return a.alloc(&Type{Kind: Struct}) }
func (a *Arena) NewUnion() *Type    { return a.alloc(&Type{Kind: Union}) }
func (a *Arena) NewFunction(ret *Type) *Type {
	return a.alloc(&Type{Kind: Function, Next: ret})
}

// Tag creates a non-owning tag node aliasing a struct/union definition
// so call sites can attach qualifiers per use without mutating the
// shared definition (spec.md §4.1 "type_tagged_copy").
func (a *Arena) Tag(def *Type, name string) *Type {
	if def.IsTagged() {
		panic("types: cannot tag an already-tagged type")
	}
	if def.Kind != Struct && def.Kind != Union {
		panic("types: Tag requires a struct or union definition")
	}
	return a.alloc(&Type{Kind: def.Kind, Next: def, TagName: name})
}

// Qualify returns a copy of t with qualifier bits added; scalar types
// only, matching the "remove_qualifiers"/qualifier-copy pattern in
// type.c used the other way around.
func (a *Arena) Qualify(t *Type, q Qualifier) *Type {
	copy := *t
	copy.Qualifier |= q
	return a.alloc(&copy)
}

// Unwrap returns t->Next if t is a tagged alias, else t itself
// (spec.md §4.1 "unwrapped").
func Unwrap(t *Type) *Type {
	if t.IsTagged() {
		return t.Next
	}
	return t
}

// NMembers returns the number of members/parameters, or 0 if none.
func NMembers(t *Type) int {
	t = Unwrap(t)
	if t.members == nil {
		return 0
	}
	return len(t.members.members)
}

// GetMember returns the n'th member, or nil if out of range.
func GetMember(t *Type, n int) *Member {
	t = Unwrap(t)
	if t.members == nil || n < 0 || n >= len(t.members.members) {
		return nil
	}
	return &t.members.members[n]
}

// FindMember looks up a struct/union member by name.
func FindMember(t *Type, name string) *Member {
	t = Unwrap(t)
	for i := range t.members.members {
		if t.members.members[i].Name == name {
			return &t.members.members[i]
		}
	}
	return nil
}

// IsVararg reports whether a function type's parameter list ends in "...".
func IsVararg(t *Type) bool {
	t = Unwrap(t)
	return t.members != nil && t.members.vararg
}

const ellipsis = "..."

// AddMember appends one struct/union field or function parameter,
// re-laying out struct offsets and union size as it goes (spec.md
// §4.1 "type_add_member").
func (a *Arena) AddMember(t *Type, name string, memberType *Type) {
	if t.IsTagged() {
		panic("types: cannot add a member to a tagged alias")
	}
	if t.Kind != Struct && t.Kind != Union && t.Kind != Function {
		panic("types: AddMember requires struct, union or function")
	}

	if t.Kind == Function {
		if name == ellipsis {
			if t.members == nil {
				t.members = &memberList{}
			}
			t.members.vararg = true
			return
		}
		if memberType.Kind == Array {
			memberType = a.NewPointer(memberType.Next)
		}
	}

	if t.members == nil {
		t.members = &memberList{}
	}
	t.members.members = append(t.members.members, Member{Name: name, Type: memberType})

	switch t.Kind {
	case Struct:
		t.Size = layoutStruct(t.members.members)
	case Union:
		if s := SizeOf(memberType); s > t.Size {
			t.Size = s
		}
	}
}

// layoutStruct scans members left to right, padding the running size
// up to each member's alignment before assigning its offset, and
// rounds the final size up to the strongest member's alignment.
func layoutStruct(members []Member) int {
	size := 0
	maxAlign := 0
	for i := range members {
		align := TypeAlignment(members[i].Type)
		if align > maxAlign {
			maxAlign = align
		}
		if size%align != 0 {
			size += align - size%align
		}
		members[i].Offset = size
		size += SizeOf(members[i].Type)
	}
	if maxAlign > 0 && size%maxAlign != 0 {
		size += maxAlign - size%maxAlign
	}
	return size
}

// SizeOf dereferences through a tag before reporting size (spec.md
// §3 invariant (b)).
func SizeOf(t *Type) int {
	if t.IsTagged() {
		return t.Next.Size
	}
	return t.Size
}

// CompleteArray fills in an incomplete array type's element count and
// size once its brace or string-literal initializer has been counted
// (spec.md §4.4's array-completion rule: `int a[] = {1,2,3};` rewrites
// the declarator's type to `int[3]`). t must be an incomplete array
// (IsArray(t) && !IsComplete(t)); it is mutated in place since a
// declarator's array type is never shared with another declarator.
func CompleteArray(t *Type, count int) {
	u := t
	if u.IsTagged() {
		u = u.Next
	}
	u.count = count
	u.Size = SizeOf(u.Next) * count
}

// TypeAlignment returns element alignment for arrays, the strongest
// member alignment for aggregates, and Size for scalars.
func TypeAlignment(t *Type) int {
	switch t.Kind {
	case Array:
		return TypeAlignment(t.Next)
	case Struct, Union:
		u := Unwrap(t)
		max := 0
		for i := 0; i < NMembers(u); i++ {
			if d := TypeAlignment(GetMember(u, i).Type); d > max {
				max = d
			}
		}
		return max
	default:
		return SizeOf(t)
	}
}

// Deref returns the pointee type of a pointer, unwrapping any tag.
func Deref(t *Type) *Type {
	if t.Kind != Pointer {
		panic("types: Deref of non-pointer type")
	}
	return Unwrap(t.Next)
}

// ArrayLen returns the element count of an array type (0 if incomplete).
func ArrayLen(t *Type) int { return t.count }

// Equal compares two types ignoring qualifiers and, for structs/unions,
// ignoring nothing else; function parameter names are ignored too
// (spec.md §4.1 "type_equal").
func Equal(a, b *Type) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.IsTagged() && b.IsTagged() {
		return a.Next == b.Next
	}

	a, b = Unwrap(a), Unwrap(b)
	if a.Kind != b.Kind || a.Size != b.Size || NMembers(a) != NMembers(b) {
		return false
	}
	if (a.Kind == Unsigned) != (b.Kind == Unsigned) {
		return false
	}
	if !Equal(a.Next, b.Next) {
		return false
	}
	for i := 0; i < NMembers(a); i++ {
		ma, mb := GetMember(a, i), GetMember(b, i)
		if !Equal(ma.Type, mb.Type) {
			return false
		}
		if (a.Kind == Struct || a.Kind == Union) && ma.Name != mb.Name {
			return false
		}
	}
	return true
}

// IsCompatible implements the simplified C89 compatible-types rule
// (6.2.7): for this module's purposes it is type equality.
func IsCompatible(a, b *Type) bool { return Equal(a, b) }

func IsInteger(t *Type) bool  { return Unwrap(t).Kind == Signed || Unwrap(t).Kind == Unsigned }
func IsUnsigned(t *Type) bool { return Unwrap(t).Kind == Unsigned }
func IsArithmetic(t *Type) bool {
	k := Unwrap(t).Kind
	return k == Signed || k == Unsigned || k == Real
}
func IsPointer(t *Type) bool        { return Unwrap(t).Kind == Pointer }
func IsArray(t *Type) bool          { return Unwrap(t).Kind == Array }
func IsStructOrUnion(t *Type) bool  { k := Unwrap(t).Kind; return k == Struct || k == Union }
func IsFunction(t *Type) bool       { return Unwrap(t).Kind == Function }
func IsScalar(t *Type) bool         { return !IsStructOrUnion(t) && !IsArray(t) && !IsFunction(t) }

// IsComplete reports whether an object of this type has a known size:
// every type is complete except void and an array whose outermost
// dimension was left unspecified (spec.md §3 invariant (c)).
func IsComplete(t *Type) bool {
	u := Unwrap(t)
	if u.Kind == Void {
		return false
	}
	if u.Kind == Array {
		return u.Size > 0 || u.count > 0
	}
	return true
}

// PromoteInteger returns int or unsigned int when size_of(t) < 4, else
// t unchanged (spec.md §4.1 "promote_integer").
func PromoteInteger(t *Type) *Type {
	if SizeOf(t) < 4 {
		if IsUnsigned(t) {
			return BasicUnsignedInt
		}
		return BasicInt
	}
	return t
}

// UsualArithmeticConversion converts an operand narrower than int to
// int (int holds every value of those types, signed or unsigned), then
// picks the wider type; ties favor unsigned. Floating types are not
// implemented beyond classification (spec.md §1 non-goals), so both
// operands must be integer. The result is qualifier-stripped.
func UsualArithmeticConversion(a *Arena, t1, t2 *Type) *Type {
	if !IsInteger(t1) || !IsInteger(t2) {
		panic("types: UsualArithmeticConversion requires integer operands")
	}
	if SizeOf(t1) < 4 {
		t1 = BasicInt
	}
	if SizeOf(t2) < 4 {
		t2 = BasicInt
	}

	var result *Type
	switch {
	case SizeOf(t1) > SizeOf(t2):
		result = t1
	case SizeOf(t2) > SizeOf(t1):
		result = t2
	case IsUnsigned(t1):
		result = t1
	default:
		result = t2
	}
	return a.stripQualifiers(result)
}

// stripQualifiers returns t unchanged if already unqualified, else a
// fresh copy with Qualifier cleared.
func (a *Arena) stripQualifiers(t *Type) *Type {
	if t.Qualifier == 0 {
		return t
	}
	copy := *t
	copy.Qualifier = 0
	return a.alloc(&copy)
}

func (t *Type) String() string {
	var buf []byte
	buf = appendType(buf, t)
	return string(buf)
}

func appendType(buf []byte, t *Type) []byte {
	if t == nil {
		return buf
	}
	if t.Qualifier&Const != 0 {
		buf = append(buf, "const "...)
	}
	if t.Qualifier&Volatile != 0 {
		buf = append(buf, "volatile "...)
	}
	if t.IsTagged() {
		kw := "struct"
		if t.Kind == Union {
			kw = "union"
		}
		return append(buf, fmt.Sprintf("%s %s", kw, t.TagName)...)
	}
	switch t.Kind {
	case Void:
		return append(buf, "void"...)
	case Signed, Unsigned:
		prefix := ""
		if t.Kind == Unsigned {
			prefix = "unsigned "
		}
		switch t.Size {
		case 1:
			return append(buf, prefix+"char"...)
		case 2:
			return append(buf, prefix+"short"...)
		case 4:
			return append(buf, prefix+"int"...)
		default:
			return append(buf, prefix+"long"...)
		}
	case Real:
		if t.Size == 4 {
			return append(buf, "float"...)
		}
		return append(buf, "double"...)
	case Pointer:
		buf = append(buf, "* "...)
		return appendType(buf, t.Next)
	case Array:
		if t.Size > 0 {
			buf = append(buf, fmt.Sprintf("[%d] ", t.Size/SizeOf(t.Next))...)
		} else {
			buf = append(buf, "[] "...)
		}
		return appendType(buf, t.Next)
	case Function:
		buf = append(buf, "("...)
		for i := 0; i < NMembers(t); i++ {
			buf = appendType(buf, GetMember(t, i).Type)
			if i < NMembers(t)-1 {
				buf = append(buf, ", "...)
			}
		}
		if IsVararg(t) {
			buf = append(buf, ", ..."...)
		}
		buf = append(buf, ") -> "...)
		return appendType(buf, t.Next)
	case Struct, Union:
		buf = append(buf, "{"...)
		for i := 0; i < NMembers(t); i++ {
			m := GetMember(t, i)
			buf = append(buf, fmt.Sprintf(".%s::", m.Name)...)
			buf = appendType(buf, m.Type)
			buf = append(buf, fmt.Sprintf(" (+%d)", m.Offset)...)
			if i < NMembers(t)-1 {
				buf = append(buf, ", "...)
			}
		}
		return append(buf, "}"...)
	}
	return buf
}
