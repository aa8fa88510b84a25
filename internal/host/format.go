package host

import (
	"strconv"
	"strings"
)

// Format prints v the way the host reader would read it back, where possible.
func Format(v Value) string {
	var b strings.Builder
	format(&b, v)
	return b.String()
}

func format(b *strings.Builder, v Value) {
	switch v := v.(type) {
	case nil:
		b.WriteString("nil")
	case Symbol:
		b.WriteString(string(v))
	case Int:
		b.WriteString(strconv.FormatInt(int64(v), 10))
	case Float:
		s := strconv.FormatFloat(float64(v), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		b.WriteString(s)
	case String:
		b.WriteString(strconv.Quote(string(v)))
	case *Cons:
		b.WriteByte('(')
		var cur Value = v
		first := true
		for {
			c, ok := cur.(*Cons)
			if !ok {
				break
			}
			if !first {
				b.WriteByte(' ')
			}
			first = false
			format(b, c.Car)
			cur = c.Cdr
		}
		if cur != Value(Nil) {
			b.WriteString(" . ")
			format(b, cur)
		}
		b.WriteByte(')')
	case *Vector:
		b.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			format(b, item)
		}
		b.WriteByte(']')
	case *HashTable:
		b.WriteString("#s(hash-table data (")
		first := true
		v.Range(func(key, value Value) bool {
			if !first {
				b.WriteByte(' ')
			}
			first = false
			format(b, key)
			b.WriteByte(' ')
			format(b, value)
			return true
		})
		b.WriteString("))")
	case *Function:
		b.WriteString("#<subr ")
		b.WriteString(v.Name)
		b.WriteByte('>')
	case *Foreign:
		b.WriteString("#<")
		b.WriteString(v.Kind)
		b.WriteByte(' ')
		b.WriteString(v.ID)
		b.WriteByte('>')
	default:
		b.WriteString("#<unknown>")
	}
}
