package host

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListHelpers(t *testing.T) {
	t.Parallel()

	l := List(Int(1), String("a"), Keyword("k"))
	items, ok := ToSlice(l)
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.Equal(t, `(1 "a" :k)`, Format(l))

	_, ok = ToSlice(&Cons{Car: Int(1), Cdr: Int(2)})
	assert.False(t, ok)

	assert.True(t, IsAlist(List(&Cons{Car: Symbol("a"), Cdr: Int(1)})))
	assert.False(t, IsAlist(List(Int(1))))
	assert.True(t, IsPlist(List(Keyword("a"), Int(1))))
	assert.False(t, IsPlist(List(Symbol("a"), Int(1))))
	assert.False(t, IsPlist(List(Keyword("a"))))
}

func TestKeyword(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Symbol(":x"), Keyword("x"))
	assert.Equal(t, Symbol(":x"), Keyword(":x"))
	assert.Equal(t, "x", Keyword("x").Name())
	assert.False(t, Symbol(":").IsKeyword())
}

func TestHashTableKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	h := NewHashTable()
	h.Put(Symbol("b"), Int(1))
	h.Put(Symbol("a"), Int(2))
	h.Put(Symbol("b"), Int(3))

	var keys []Value
	h.Range(func(k, v Value) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []Value{Symbol("b"), Symbol("a")}, keys)
	v, ok := h.Get(Symbol("b"))
	require.True(t, ok)
	assert.Equal(t, Int(3), v)
}

func TestHashTableNaNKeys(t *testing.T) {
	t.Parallel()

	h := NewHashTable()
	h.Put(Float(math.NaN()), Int(1))
	h.Put(Float(math.NaN()), Int(2))
	assert.Equal(t, 1, h.Len())
	v, ok := h.Get(Float(math.NaN()))
	require.True(t, ok)
	assert.Equal(t, Int(2), v)
	assert.Equal(t, MapKey(Float(math.NaN())), MapKey(Float(-math.NaN())))
	assert.Equal(t, any(Int(1)), MapKey(Int(1)))
}

func TestObarrayFuncall(t *testing.T) {
	t.Parallel()

	o := NewObarray()
	o.Defun("plus", func(c Caller, args []Value) (Value, error) {
		var sum Int
		for _, a := range args {
			sum += a.(Int)
		}
		return sum, nil
	})

	v, err := o.Funcall(nil, Symbol("plus"), Int(1), Int(2))
	require.NoError(t, err)
	assert.Equal(t, Int(3), v)

	_, err = o.Funcall(nil, Symbol("missing"))
	var sig *Signal
	require.ErrorAs(t, err, &sig)
	assert.Equal(t, VoidFunction, sig.Symbol)
}

func TestTextBufferSubstring(t *testing.T) {
	t.Parallel()

	b := NewTextBuffer("*scratch*", "héllo world")
	s, err := b.Substring(1, 6)
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	s, err = b.Substring(b.PointMax(), 7)
	require.NoError(t, err)
	assert.Equal(t, "world", s)

	_, err = b.Substring(0, 3)
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := List(Int(1), NewVector(String("x")))
	b := List(Int(1), NewVector(String("x")))
	assert.True(t, Equal(a, b))
	assert.False(t, Eq(a, b))
	assert.True(t, Eq(Symbol("s"), Symbol("s")))
}
