package symtab

type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota
	ScopeImpl
	ScopeTrait
)

// Scope marks what kind of declaration is being visited. It decides the
// mangled name of functions and whether a `self` binding is injected.
type Scope struct {
	Kind   ScopeKind
	Struct string // impl target
	Trait  string // implemented or declared trait, if any
}

func ImplScope(structName, traitName string) Scope {
	return Scope{Kind: ScopeImpl, Struct: structName, Trait: traitName}
}

func TraitScope(name string) Scope { return Scope{Kind: ScopeTrait, Trait: name} }

// Owner is the name methods declared in this scope are mangled under.
func (s Scope) Owner() string {
	switch s.Kind {
	case ScopeImpl:
		return s.Struct
	case ScopeTrait:
		return s.Trait
	}
	return ""
}

func (s Scope) Mangle(name string) string {
	if owner := s.Owner(); owner != "" {
		return owner + "." + name
	}
	return name
}

// SelfStruct names the struct `self` points to, or "" outside an impl.
func (s Scope) SelfStruct() string {
	if s.Kind == ScopeImpl {
		return s.Struct
	}
	return ""
}

// ScopeStack is pushed and popped around impl and trait bodies.
// The zero value is at global scope.
type ScopeStack struct {
	stack []Scope
}

func (ss *ScopeStack) Push(s Scope) { ss.stack = append(ss.stack, s) }

func (ss *ScopeStack) Pop() {
	if len(ss.stack) == 0 {
		panic("symtab: Pop on global scope")
	}
	ss.stack = ss.stack[:len(ss.stack)-1]
}

func (ss *ScopeStack) Current() Scope {
	if len(ss.stack) == 0 {
		return Scope{Kind: ScopeGlobal}
	}
	return ss.stack[len(ss.stack)-1]
}

func (ss *ScopeStack) InMethod() bool { return ss.Current().Kind == ScopeImpl }
