// Package symtab implements the two-namespace scoped symbol table of
// spec.md §4.2: one namespace for identifiers (objects, functions,
// typedefs, enum constants, labels), one for struct/union/enum tags.
package symtab

import (
	"fmt"

	"c89cc/pkg/types"
)

// Kind classifies what a Symbol denotes.
type Kind int

const (
	Declaration Kind = iota
	Tentative
	Definition
	Typedef
	StringValue
	EnumConstant
	Label
	Temporary
)

// Linkage classifies cross-translation-unit visibility.
type Linkage int

const (
	LinkNone Linkage = iota
	LinkIntern
	LinkExtern
)

// Symbol is a named, scoped binding. A *Symbol's address is stable for
// its lifetime: once sym_add returns it, IR and types may hold onto
// the pointer indefinitely (spec.md §4.2).
type Symbol struct {
	Name    string
	Kind    Kind
	Linkage Linkage
	Depth   int
	Type    *types.Type

	// Payloads, populated depending on Kind.
	StringData  string // Kind == StringValue
	EnumValue   int64  // Kind == EnumConstant
	IsFunc      bool   // true for __func__-style payloads
}

func (s *Symbol) String() string {
	return fmt.Sprintf("%s@%d", s.Name, s.Depth)
}

// scope is one level of a namespace's lookup stack.
type scope map[string]*Symbol

// namespace is a stack of scopes with a running depth counter.
type namespace struct {
	scopes []scope
	depth  int
}

func newNamespace() *namespace {
	return &namespace{scopes: []scope{{}}}
}

func (n *namespace) push() {
	n.depth++
	n.scopes = append(n.scopes, scope{})
}

func (n *namespace) pop() {
	if len(n.scopes) == 1 {
		panic("symtab: pop of file scope")
	}
	n.scopes = n.scopes[:len(n.scopes)-1]
	n.depth--
}

func (n *namespace) add(sym *Symbol) *Symbol {
	sym.Depth = n.depth
	n.scopes[len(n.scopes)-1][sym.Name] = sym
	return sym
}

func (n *namespace) lookup(name string) *Symbol {
	for i := len(n.scopes) - 1; i >= 0; i-- {
		if sym, ok := n.scopes[i][name]; ok {
			return sym
		}
	}
	return nil
}

// lookupCurrent restricts the search to the innermost scope, used to
// detect redeclarations within one block.
func (n *namespace) lookupCurrent(name string) *Symbol {
	return n.scopes[len(n.scopes)-1][name]
}

// Table owns the identifier and tag namespaces for one translation
// unit, plus the counters used to mint fresh temporaries and labels.
type Table struct {
	idents *namespace
	tags   *namespace

	tmpCounter   int
	labelCounter int
}

func New() *Table {
	return &Table{idents: newNamespace(), tags: newNamespace()}
}

// Depth returns the current identifier-namespace scope depth (0 is
// file scope).
func (t *Table) Depth() int { return t.idents.depth }

// PushScope opens a new block scope in both namespaces.
func (t *Table) PushScope() {
	t.idents.push()
	t.tags.push()
}

// PopScope discards every binding introduced in the innermost scope of
// both namespaces.
func (t *Table) PopScope() {
	t.idents.pop()
	t.tags.pop()
}

// AddIdent inserts sym into the identifier namespace at the current
// scope and returns the same pointer, now owned by the table.
func (t *Table) AddIdent(sym *Symbol) *Symbol { return t.idents.add(sym) }

// LookupIdent returns the most recent identifier binding visible from
// the current scope, or nil.
func (t *Table) LookupIdent(name string) *Symbol { return t.idents.lookup(name) }

// LookupIdentCurrentScope restricts lookup to the innermost scope,
// used by the declaration parser to reject redeclarations.
func (t *Table) LookupIdentCurrentScope(name string) *Symbol {
	return t.idents.lookupCurrent(name)
}

// AddTag inserts sym into the tag namespace (struct/union/enum names).
func (t *Table) AddTag(sym *Symbol) *Symbol { return t.tags.add(sym) }

// LookupTag looks up a struct/union/enum tag name.
func (t *Table) LookupTag(name string) *Symbol { return t.tags.lookup(name) }

func (t *Table) LookupTagCurrentScope(name string) *Symbol {
	return t.tags.lookupCurrent(name)
}

// NewTemp mints a fresh, anonymous compiler temporary of the given
// type in the identifier namespace's current scope (spec.md §4.2
// "sym_create_tmp").
func (t *Table) NewTemp(ty *types.Type) *Symbol {
	t.tmpCounter++
	sym := &Symbol{Name: fmt.Sprintf(".t%d", t.tmpCounter), Kind: Temporary, Type: ty}
	return t.idents.add(sym)
}

// NewLabel mints a fresh block label name; labels do not occupy the
// identifier namespace themselves, callers use the text as a block
// name (spec.md §4.2 "sym_create_label").
func (t *Table) NewLabel(prefix string) string {
	t.labelCounter++
	if prefix == "" {
		prefix = ".L"
	}
	return fmt.Sprintf("%s%d", prefix, t.labelCounter)
}
