package host

import "sync"

// Obarray is the host symbol table: it maps symbols to their function cells.
// The guest engine looks host functions up by name through it.
type Obarray struct {
	mu        sync.RWMutex
	functions map[Symbol]*Function
}

// NewObarray returns an empty symbol table.
func NewObarray() *Obarray {
	return &Obarray{functions: make(map[Symbol]*Function)}
}

// Defun binds fn to the function cell of sym and returns fn.
func (o *Obarray) Defun(sym Symbol, fn func(c Caller, args []Value) (Value, error)) *Function {
	f := NewFunction(string(sym), fn)
	o.mu.Lock()
	o.functions[sym] = f
	o.mu.Unlock()
	return f
}

// Fset binds an existing function to sym.
func (o *Obarray) Fset(sym Symbol, fn *Function) {
	o.mu.Lock()
	o.functions[sym] = fn
	o.mu.Unlock()
}

// SymbolFunction returns the function cell of sym, signalling void-function
// when it is unbound.
func (o *Obarray) SymbolFunction(sym Symbol) (*Function, error) {
	o.mu.RLock()
	f, ok := o.functions[sym]
	o.mu.RUnlock()
	if !ok {
		return nil, &Signal{Symbol: VoidFunction, Data: []Value{sym}}
	}
	return f, nil
}

// Funcall applies fn, which may be a function or a symbol naming one.
func (o *Obarray) Funcall(c Caller, fn Value, args ...Value) (Value, error) {
	switch f := fn.(type) {
	case *Function:
		return f.Fn(c, args)
	case Symbol:
		fun, err := o.SymbolFunction(f)
		if err != nil {
			return nil, err
		}
		return fun.Fn(c, args)
	default:
		return nil, &Signal{Symbol: WrongTypeArgument, Data: []Value{Symbol("functionp"), fn}}
	}
}
