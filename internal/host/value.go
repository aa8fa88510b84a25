// Package host models the object system of the embedding interpreter: the
// values it can hand to the guest engine, its symbol table, its error
// signalling mechanism, text buffers and its timer facility.
//
// The model is small and Lisp flavoured. Immediate values
// (symbols, integers, floats, strings) compare by value; aggregates and
// functions compare by pointer identity.
package host

// Value is a host value. The set of implementations is closed.
type Value interface {
	hostValue()
}

// Symbol is an interned host symbol. Symbols starting with ':' are keywords.
type Symbol string

// Int is a host integer.
type Int int64

// Float is a host floating point number.
type Float float64

// String is a host string.
type String string

// Cons is a pair; proper lists are chains of Cons terminated by Nil.
type Cons struct {
	Car Value
	Cdr Value
}

// Vector is a fixed size, indexable array.
type Vector struct {
	Items []Value
}

// Function is a host function callable from the guest engine. The Caller it
// receives is only valid for the duration of the call.
type Function struct {
	Name string
	Fn   func(c Caller, args []Value) (Value, error)
}

// Foreign is an opaque reference to an object owned by another runtime, e.g.
// a guest function handed to the host.
type Foreign struct {
	Kind string
	ID   string
	// Owner identifies the runtime instance the reference belongs to.
	Owner any
}

// Caller is the scope token handed to host functions invoked by the guest
// engine. It lets the host function re-enter the guest on the scope that is
// already active, which is the only safe way to do so.
type Caller interface {
	// Call invokes a guest function reference (a *Foreign) with args.
	Call(fn Value, args ...Value) (Value, error)
	// Eval evaluates source in the guest global scope.
	Eval(source string) (Value, error)
}

const (
	Nil Symbol = "nil"
	T   Symbol = "t"
)

func (Symbol) hostValue()     {}
func (Int) hostValue()        {}
func (Float) hostValue()      {}
func (String) hostValue()     {}
func (*Cons) hostValue()      {}
func (*Vector) hostValue()    {}
func (*HashTable) hostValue() {}
func (*Function) hostValue()  {}
func (*Foreign) hostValue()   {}

// IsKeyword reports whether s is a keyword symbol.
func (s Symbol) IsKeyword() bool { return len(s) > 1 && s[0] == ':' }

// Name returns the symbol name without the keyword sigil.
func (s Symbol) Name() string {
	if s.IsKeyword() {
		return string(s[1:])
	}
	return string(s)
}

// Keyword returns the keyword symbol for name.
func Keyword(name string) Symbol {
	if len(name) > 0 && name[0] == ':' {
		return Symbol(name)
	}
	return Symbol(":" + name)
}

// Bool converts a Go bool to t or nil.
func Bool(b bool) Value {
	if b {
		return T
	}
	return Nil
}

// Truthy reports whether v is anything other than nil.
func Truthy(v Value) bool {
	return v != nil && v != Value(Nil)
}

// NewVector returns a vector holding items.
func NewVector(items ...Value) *Vector {
	return &Vector{Items: items}
}

// NewFunction returns a named host function.
func NewFunction(name string, fn func(c Caller, args []Value) (Value, error)) *Function {
	return &Function{Name: name, Fn: fn}
}

// TypeOf returns the host type name of v, as reported in wrong-type-argument
// signals.
func TypeOf(v Value) Symbol {
	switch v := v.(type) {
	case nil:
		return "nil"
	case Symbol:
		if v == Nil {
			return "null"
		}
		return "symbol"
	case Int:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	case *Cons:
		return "cons"
	case *Vector:
		return "vector"
	case *HashTable:
		return "hash-table"
	case *Function:
		return "function"
	case *Foreign:
		return "foreign"
	default:
		return "unknown"
	}
}
