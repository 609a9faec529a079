// Package symtab implements the scoped symbol tables shared by the type checker
// and the IR lowering pass.
//
// Scoping uses a single undo log: every write records how to revert itself, and
// leaving a scope replays the log back to the mark taken on entry. The visible
// effect is the same as cloning the whole table on entry and restoring the clone
// on exit, including for nested struct, impl and function declarations.
package symtab

import "github.com/xplshn/traitc/pkg/ast"

type undoLog struct {
	entries []func()
}

func (l *undoLog) push(fn func()) { l.entries = append(l.entries, fn) }

func (l *undoLog) rewind(mark int) {
	for len(l.entries) > mark {
		last := len(l.entries) - 1
		l.entries[last]()
		l.entries = l.entries[:last]
	}
}

type binding[V any] struct {
	val   V
	depth int
}

// Scoped is one name-to-value mapping of a Table.
type Scoped[V any] struct {
	m     map[string]binding[V]
	log   *undoLog
	depth *int
}

func newScoped[V any](log *undoLog, depth *int) *Scoped[V] {
	return &Scoped[V]{m: make(map[string]binding[V]), log: log, depth: depth}
}

// Set binds name to v in the current scope.
func (s *Scoped[V]) Set(name string, v V) {
	old, had := s.m[name]
	s.log.push(func() {
		if had {
			s.m[name] = old
		} else {
			delete(s.m, name)
		}
	})
	s.m[name] = binding[V]{val: v, depth: *s.depth}
}

func (s *Scoped[V]) Lookup(name string) (V, bool) {
	b, ok := s.m[name]
	return b.val, ok
}

// IsOuter reports whether name is bound, and was bound by an enclosing scope
// rather than the current one.
func (s *Scoped[V]) IsOuter(name string) bool {
	b, ok := s.m[name]
	return ok && b.depth < *s.depth
}

func (s *Scoped[V]) Len() int { return len(s.m) }

// Names returns every visible name, in no particular order.
func (s *Scoped[V]) Names() []string {
	names := make([]string, 0, len(s.m))
	for n := range s.m {
		names = append(names, n)
	}
	return names
}

// Table groups the five mappings of a pass. V is what a variable maps to:
// a Datatype while checking, a storage location while lowering.
type Table[V any] struct {
	Variables *Scoped[V]
	Structs   *Scoped[*ast.Node]
	Impls     *Scoped[[]*ast.Node]
	Traits    *Scoped[[]*ast.Node]
	Functions *Scoped[*ast.Node]

	log   *undoLog
	depth int
	marks []int
}

func New[V any]() *Table[V] {
	t := &Table[V]{log: &undoLog{}}
	t.Variables = newScoped[V](t.log, &t.depth)
	t.Structs = newScoped[*ast.Node](t.log, &t.depth)
	t.Impls = newScoped[[]*ast.Node](t.log, &t.depth)
	t.Traits = newScoped[[]*ast.Node](t.log, &t.depth)
	t.Functions = newScoped[*ast.Node](t.log, &t.depth)
	return t
}

// Mark returns a point that Restore can rewind to.
func (t *Table[V]) Mark() int { return len(t.log.entries) }

func (t *Table[V]) Restore(mark int) { t.log.rewind(mark) }

// Enter opens a nested scope.
func (t *Table[V]) Enter() {
	t.marks = append(t.marks, t.Mark())
	t.depth++
}

// Leave discards every binding made since the matching Enter.
func (t *Table[V]) Leave() {
	if len(t.marks) == 0 {
		panic("symtab: Leave without Enter")
	}
	last := len(t.marks) - 1
	t.Restore(t.marks[last])
	t.marks = t.marks[:last]
	t.depth--
}

func (t *Table[V]) Depth() int { return t.depth }

// AddImpl appends an impl block to the list registered for structName.
func (t *Table[V]) AddImpl(structName string, impl *ast.Node) {
	prev, _ := t.Impls.Lookup(structName)
	next := make([]*ast.Node, len(prev), len(prev)+1)
	copy(next, prev)
	t.Impls.Set(structName, append(next, impl))
}

func (t *Table[V]) AddTrait(name string, trait *ast.Node) {
	prev, _ := t.Traits.Lookup(name)
	next := make([]*ast.Node, len(prev), len(prev)+1)
	copy(next, prev)
	t.Traits.Set(name, append(next, trait))
}

// FindMethod searches every impl registered for structName.
func (t *Table[V]) FindMethod(structName, method string) (*ast.Node, *ast.Node) {
	impls, _ := t.Impls.Lookup(structName)
	for _, impl := range impls {
		for _, m := range impl.Data.(ast.ImplDeclNode).Methods {
			if MethodName(m) == method {
				return m, impl
			}
		}
	}
	return nil, nil
}

// FindTraitMethod searches the methods declared by a trait.
func (t *Table[V]) FindTraitMethod(traitName, method string) *ast.Node {
	traits, _ := t.Traits.Lookup(traitName)
	for _, tr := range traits {
		for _, m := range tr.Data.(ast.TraitDeclNode).Methods {
			if MethodName(m) == method {
				return m
			}
		}
	}
	return nil
}

// MethodName returns the name of a FuncDef or Prototype node.
func MethodName(n *ast.Node) string {
	return ast.PrototypeOf(n).Name
}

// DepthOf returns the scope depth name was bound at.
func (s *Scoped[V]) DepthOf(name string) (int, bool) {
	b, ok := s.m[name]
	return b.depth, ok
}
