package host

import "math"

// Eq reports identity: immediates by value, everything else by pointer.
func Eq(a, b Value) bool {
	return a == b
}

// Equal reports structural equality; hash tables and functions compare by
// identity.
func Equal(a, b Value) bool {
	switch a := a.(type) {
	case *Cons:
		bc, ok := b.(*Cons)
		if !ok {
			return false
		}
		return Equal(a.Car, bc.Car) && Equal(a.Cdr, bc.Cdr)
	case *Vector:
		bv, ok := b.(*Vector)
		if !ok || len(a.Items) != len(bv.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case Float:
		bf, ok := b.(Float)
		if !ok {
			return false
		}
		if math.IsNaN(float64(a)) && math.IsNaN(float64(bf)) {
			return true
		}
		return a == bf
	default:
		return a == b
	}
}
