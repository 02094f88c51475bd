package symtab

import (
	"testing"

	"c89cc/pkg/types"
)

func TestAddAndLookupAcrossScopes(t *testing.T) {
	tab := New()

	g := tab.AddIdent(&Symbol{Name: "g", Kind: Definition, Type: types.BasicInt})
	if g.Depth != 0 {
		t.Fatalf("file-scope symbol depth = %d, want 0", g.Depth)
	}

	tab.PushScope()
	inner := tab.AddIdent(&Symbol{Name: "x", Kind: Declaration, Type: types.BasicChar})
	if inner.Depth != 1 {
		t.Fatalf("inner symbol depth = %d, want 1", inner.Depth)
	}
	if tab.LookupIdent("g") != g {
		t.Fatalf("outer symbol should stay visible from an inner scope")
	}
	if tab.LookupIdent("x") != inner {
		t.Fatalf("inner symbol not found")
	}
	tab.PopScope()

	if tab.LookupIdent("x") != nil {
		t.Fatalf("inner symbol should not survive its scope")
	}
	if tab.LookupIdent("g") != g {
		t.Fatalf("file-scope symbol should still be visible")
	}
}

func TestShadowingReturnsMostRecentBinding(t *testing.T) {
	tab := New()
	outer := tab.AddIdent(&Symbol{Name: "v", Type: types.BasicInt})
	tab.PushScope()
	inner := tab.AddIdent(&Symbol{Name: "v", Type: types.BasicChar})

	if tab.LookupIdent("v") != inner {
		t.Fatalf("lookup should return the innermost binding")
	}
	tab.PopScope()
	if tab.LookupIdent("v") != outer {
		t.Fatalf("lookup should fall back to the outer binding once the shadow is gone")
	}
}

func TestSymbolPointerIsStable(t *testing.T) {
	tab := New()
	sym := tab.AddIdent(&Symbol{Name: "s", Type: types.BasicInt})
	tab.PushScope()
	tab.AddIdent(&Symbol{Name: "other", Type: types.BasicInt})
	tab.PopScope()

	if tab.LookupIdent("s") != sym {
		t.Fatalf("identity of a symbol pointer must survive unrelated scope churn")
	}
}

func TestIdentifiersAndTagsAreDisjointNamespaces(t *testing.T) {
	tab := New()
	tab.AddIdent(&Symbol{Name: "point", Kind: Declaration, Type: types.BasicInt})
	tab.AddTag(&Symbol{Name: "point", Kind: Declaration})

	if tab.LookupIdent("point") == tab.LookupTag("point") {
		t.Fatalf("identifier and tag namespaces must not collide")
	}
}

func TestNewTempMintsDistinctNames(t *testing.T) {
	tab := New()
	t1 := tab.NewTemp(types.BasicInt)
	t2 := tab.NewTemp(types.BasicInt)
	if t1.Name == t2.Name {
		t.Fatalf("two temporaries got the same name %q", t1.Name)
	}
	if tab.LookupIdent(t1.Name) != t1 {
		t.Fatalf("temporary should be inserted into the identifier namespace")
	}
}

func TestNewLabelMintsDistinctNames(t *testing.T) {
	tab := New()
	labels := map[string]bool{}
	for i := 0; i < 5; i++ {
		l := tab.NewLabel("")
		if labels[l] {
			t.Fatalf("duplicate label %q", l)
		}
		labels[l] = true
	}
}
