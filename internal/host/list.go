package host

// List builds a proper list from items.
func List(items ...Value) Value {
	var out Value = Nil
	for i := len(items) - 1; i >= 0; i-- {
		out = &Cons{Car: items[i], Cdr: out}
	}
	return out
}

// IsList reports whether v is nil or a cons.
func IsList(v Value) bool {
	if v == Value(Nil) {
		return true
	}
	_, ok := v.(*Cons)
	return ok
}

// ToSlice returns the elements of the proper list v. It returns false if v is
// not a proper list.
func ToSlice(v Value) ([]Value, bool) {
	var out []Value
	for {
		switch c := v.(type) {
		case Symbol:
			return out, c == Nil
		case *Cons:
			out = append(out, c.Car)
			v = c.Cdr
		default:
			return nil, false
		}
	}
}

// IsAlist reports whether v is a non-empty proper list whose elements are all
// conses with symbol cars.
func IsAlist(v Value) bool {
	items, ok := ToSlice(v)
	if !ok || len(items) == 0 {
		return false
	}
	for _, item := range items {
		c, ok := item.(*Cons)
		if !ok {
			return false
		}
		if _, ok := c.Car.(Symbol); !ok {
			return false
		}
	}
	return true
}

// IsPlist reports whether v is a non-empty proper list of even length whose
// first element is a keyword.
func IsPlist(v Value) bool {
	items, ok := ToSlice(v)
	if !ok || len(items) == 0 || len(items)%2 != 0 {
		return false
	}
	k, ok := items[0].(Symbol)
	return ok && k.IsKeyword()
}

// PlistGet returns the value following key in plist.
func PlistGet(plist []Value, key Symbol) (Value, bool) {
	for i := 0; i+1 < len(plist); i += 2 {
		if k, ok := plist[i].(Symbol); ok && k == key {
			return plist[i+1], true
		}
	}
	return nil, false
}
