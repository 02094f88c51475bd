package abi

import "testing"

import "c89cc/pkg/types"

func TestScalarClassification(t *testing.T) {
	if got := Classify(types.BasicInt); len(got) != 1 || got[0] != Integer {
		t.Fatalf("int -> %v, want [INTEGER]", got)
	}
	a := types.NewArena()
	if got := Classify(a.NewPointer(types.BasicChar)); len(got) != 1 || got[0] != Integer {
		t.Fatalf("pointer -> %v, want [INTEGER]", got)
	}
	if got := Classify(types.BasicDouble); len(got) != 1 || got[0] != SSE {
		t.Fatalf("double -> %v, want [SSE]", got)
	}
}

func TestSmallStructClassifiesAsIntegerEightbytes(t *testing.T) {
	a := types.NewArena()
	st := a.NewStruct()
	a.AddMember(st, "x", types.BasicInt)
	a.AddMember(st, "y", types.BasicInt)

	got := Classify(st)
	if len(got) != 1 || got[0] != Integer {
		t.Fatalf("{int,int} -> %v, want [INTEGER]", got)
	}
}

func TestLargeAggregateClassifiesAsMemory(t *testing.T) {
	a := types.NewArena()
	st := a.NewStruct()
	for i := 0; i < 5; i++ {
		a.AddMember(st, string(rune('a'+i)), types.BasicLong)
	}
	got := Classify(st)
	if len(got) != 1 || got[0] != Memory {
		t.Fatalf("5x long struct -> %v, want [MEMORY]", got)
	}
}

func TestVectorLengthMatchesEightbyteCountUnlessMemory(t *testing.T) {
	a := types.NewArena()
	st := a.NewStruct()
	a.AddMember(st, "a", types.BasicLong)
	a.AddMember(st, "b", types.BasicLong)
	a.AddMember(st, "c", types.BasicInt)

	got := Classify(st)
	wantLen := (types.SizeOf(st) + 7) / 8
	if got[0] == Memory {
		if len(got) != 1 {
			t.Fatalf("MEMORY classification must report length 1, got %d", len(got))
		}
	} else if len(got) != wantLen {
		t.Fatalf("len(got) = %d, want %d", len(got), wantLen)
	}
}

func TestEndToEndAddFunctionParameters(t *testing.T) {
	// int add(int a, int b) { return a + b; } -> both params INTEGER.
	params, ret := ClassifyCall([]*types.Type{types.BasicInt, types.BasicInt}, types.BasicInt)
	if len(params) != 2 || params[0].Classes[0] != Integer || params[1].Classes[0] != Integer {
		t.Fatalf("params = %v, want two INTEGER", params)
	}
	if ret.Classes[0] != Integer {
		t.Fatalf("return class = %v, want INTEGER", ret.Classes)
	}
}

func TestMemoryReturnReservesHiddenPointerArgument(t *testing.T) {
	a := types.NewArena()
	big := a.NewStruct()
	for i := 0; i < 5; i++ {
		a.AddMember(big, string(rune('a'+i)), types.BasicLong)
	}
	// Six integer-class int parameters exactly fill DI..R9; with a
	// MEMORY return consuming DI first, the sixth argument must spill.
	args := make([]*types.Type, 6)
	for i := range args {
		args[i] = types.BasicInt
	}
	params, ret := ClassifyCall(args, big)
	if !ret.IsMemory() {
		t.Fatalf("oversized return must classify as MEMORY")
	}
	if params[5].IsMemory() != true {
		t.Fatalf("sixth integer argument should have spilled to MEMORY once the hidden pointer consumed a register")
	}
	for i := 0; i < 5; i++ {
		if params[i].IsMemory() {
			t.Fatalf("argument %d should still fit in a register", i)
		}
	}
}

func TestArgumentsAreNeverPartiallyRegisterPassed(t *testing.T) {
	a := types.NewArena()
	twoEightbytes := a.NewStruct()
	a.AddMember(twoEightbytes, "a", types.BasicLong)
	a.AddMember(twoEightbytes, "b", types.BasicLong)

	// Five plain ints (5 regs) + one two-eightbyte struct (needs 2 more,
	// only 1 left) must demote entirely to MEMORY, not split.
	args := []*types.Type{types.BasicInt, types.BasicInt, types.BasicInt, types.BasicInt, types.BasicInt, twoEightbytes}
	params, _ := ClassifyCall(args, types.BasicVoid)
	if !params[5].IsMemory() {
		t.Fatalf("struct argument that cannot fully fit in registers must spill entirely")
	}
}
