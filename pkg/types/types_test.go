package types

import "testing"

func TestStructLayoutAlignsEachMember(t *testing.T) {
	a := NewArena()
	st := a.NewStruct()
	a.AddMember(st, "x", BasicInt)  // offset 0, size 4
	a.AddMember(st, "y", BasicChar) // offset 4, size 1

	if SizeOf(st) != 8 {
		t.Fatalf("size = %d, want 8", SizeOf(st))
	}
	if TypeAlignment(st) != 4 {
		t.Fatalf("alignment = %d, want 4", TypeAlignment(st))
	}
	for i := 0; i < NMembers(st); i++ {
		m := GetMember(st, i)
		if m.Offset%TypeAlignment(m.Type) != 0 {
			t.Errorf("member %q offset %d is not a multiple of its alignment %d", m.Name, m.Offset, TypeAlignment(m.Type))
		}
	}
	if SizeOf(st)%TypeAlignment(st) != 0 {
		t.Errorf("struct size %d is not a multiple of its alignment %d", SizeOf(st), TypeAlignment(st))
	}
}

func TestUnionSizeIsMax(t *testing.T) {
	a := NewArena()
	u := a.NewUnion()
	a.AddMember(u, "b", BasicChar)
	a.AddMember(u, "l", BasicLong)
	if SizeOf(u) != 8 {
		t.Fatalf("union size = %d, want 8", SizeOf(u))
	}
	for i := 0; i < NMembers(u); i++ {
		if GetMember(u, i).Offset != 0 {
			t.Errorf("union member %q has nonzero offset", GetMember(u, i).Name)
		}
	}
}

func TestEndToEndStructP(t *testing.T) {
	// struct P { int x; char y; }; -> size 8, alignment 4, offsets 0 and 4.
	a := NewArena()
	p := a.NewStruct()
	a.AddMember(p, "x", BasicInt)
	a.AddMember(p, "y", BasicChar)

	if SizeOf(p) != 8 || TypeAlignment(p) != 4 {
		t.Fatalf("got size=%d align=%d, want size=8 align=4", SizeOf(p), TypeAlignment(p))
	}
	if GetMember(p, 0).Offset != 0 || GetMember(p, 1).Offset != 4 {
		t.Fatalf("offsets = %d,%d, want 0,4", GetMember(p, 0).Offset, GetMember(p, 1).Offset)
	}
}

func TestTypeEqualReflexiveAndSymmetric(t *testing.T) {
	a := NewArena()
	st := a.NewStruct()
	a.AddMember(st, "x", BasicInt)
	ptr := a.NewPointer(BasicInt)
	arr := a.NewArray(BasicChar, 10)

	cases := []*Type{BasicInt, BasicUnsignedLong, ptr, arr, st, BasicVoid}
	for _, ty := range cases {
		if !Equal(ty, ty) {
			t.Errorf("Equal(%v, %v) = false, want true (reflexive)", ty, ty)
		}
	}

	for i := range cases {
		for j := range cases {
			if Equal(cases[i], cases[j]) != Equal(cases[j], cases[i]) {
				t.Errorf("Equal not symmetric for %v, %v", cases[i], cases[j])
			}
			if IsCompatible(cases[i], cases[j]) != Equal(cases[i], cases[j]) {
				t.Errorf("IsCompatible diverges from Equal for %v, %v", cases[i], cases[j])
			}
		}
	}
}

func TestTaggedTypesCompareByDefinitionIdentity(t *testing.T) {
	a := NewArena()
	def := a.NewStruct()
	a.AddMember(def, "x", BasicInt)
	tag1 := a.Tag(def, "point")
	tag2 := a.Tag(def, "point")

	if !Equal(tag1, tag2) {
		t.Fatalf("two tags of the same definition should be equal")
	}
	if SizeOf(tag1) != SizeOf(def) {
		t.Fatalf("SizeOf(tag) = %d, want %d (must unwrap)", SizeOf(tag1), SizeOf(def))
	}

	other := a.NewStruct()
	a.AddMember(other, "y", BasicInt)
	tag3 := a.Tag(other, "point")
	if Equal(tag1, tag3) {
		t.Fatalf("tags of different definitions must not be equal even with the same name")
	}
}

func TestQualifyDoesNotMutateOriginal(t *testing.T) {
	a := NewArena()
	def := a.NewStruct()
	a.AddMember(def, "x", BasicInt)
	tag := a.Tag(def, "point")
	qualified := a.Qualify(tag, Const)

	if tag.Qualifier != 0 {
		t.Fatalf("qualifying a copy must not mutate the tag it was copied from")
	}
	if qualified.Qualifier&Const == 0 {
		t.Fatalf("qualified copy should carry Const")
	}
	if !Equal(tag, qualified) {
		t.Fatalf("Equal must ignore qualifiers")
	}
}

func TestPromoteIntegerAndUsualArithmeticConversion(t *testing.T) {
	a := NewArena()

	if got := PromoteInteger(BasicChar); got != BasicInt {
		t.Errorf("promote(char) = %v, want int", got)
	}
	if got := PromoteInteger(BasicUnsignedChar); got != BasicUnsignedInt {
		t.Errorf("promote(unsigned char) = %v, want unsigned int", got)
	}

	tests := []struct {
		name     string
		a, b     *Type
		wantSize int
		wantUns  bool
	}{
		{"char,char", BasicChar, BasicChar, 4, false},
		{"unsigned short,int", BasicUnsignedShort, BasicInt, 4, false},
		{"unsigned int,long", BasicUnsignedInt, BasicLong, 8, false},
		{"long,unsigned long", BasicLong, BasicUnsignedLong, 8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := UsualArithmeticConversion(a, tt.a, tt.b)
			if SizeOf(result) != tt.wantSize || IsUnsigned(result) != tt.wantUns {
				t.Errorf("got size=%d unsigned=%v, want size=%d unsigned=%v",
					SizeOf(result), IsUnsigned(result), tt.wantSize, tt.wantUns)
			}
		})
	}
}

func TestIncompleteArrayIsNotComplete(t *testing.T) {
	a := NewArena()
	incomplete := a.NewArray(BasicInt, 0)
	if IsComplete(incomplete) {
		t.Fatalf("array with unspecified outer dimension should be incomplete")
	}
	complete := a.NewArray(BasicInt, 3)
	if !IsComplete(complete) {
		t.Fatalf("array with a known count should be complete")
	}
	if SizeOf(complete) != 12 {
		t.Fatalf("size = %d, want 12", SizeOf(complete))
	}
}

func TestCompleteArrayFillsCountAndSize(t *testing.T) {
	a := NewArena()
	incomplete := a.NewArray(BasicInt, 0)
	if IsComplete(incomplete) {
		t.Fatalf("precondition: array should start incomplete")
	}
	CompleteArray(incomplete, 3)
	if !IsComplete(incomplete) {
		t.Fatalf("array should be complete after CompleteArray")
	}
	if ArrayLen(incomplete) != 3 {
		t.Fatalf("ArrayLen = %d, want 3", ArrayLen(incomplete))
	}
	if SizeOf(incomplete) != 12 {
		t.Fatalf("size = %d, want 12", SizeOf(incomplete))
	}
}

func TestFunctionMembersDecayArraysAndTrackVararg(t *testing.T) {
	a := NewArena()
	fn := a.NewFunction(BasicInt)
	a.AddMember(fn, "buf", a.NewArray(BasicChar, 16))
	a.AddMember(fn, "...", nil)

	if !IsVararg(fn) {
		t.Fatalf("expected vararg function")
	}
	if NMembers(fn) != 1 {
		t.Fatalf("\"...\" should not be counted as a member, got %d", NMembers(fn))
	}
	if GetMember(fn, 0).Type.Kind != Pointer {
		t.Fatalf("array parameter should decay to pointer, got %v", GetMember(fn, 0).Type.Kind)
	}
}
