package codec

import (
	"iter"
	"math"
	"strconv"

	"github.com/joeycumines/guestjs/internal/host"
	"github.com/segmentio/encoding/json"
)

// MaxSafeInteger is the largest integer the guest represents exactly.
const MaxSafeInteger = 1<<53 - 1

// Encode converts a host value to guest JSON text.
func Encode(v host.Value, cfg Config) (string, error) {
	b, err := appendValue(nil, v, cfg, 0)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const maxDepth = 512

func appendValue(b []byte, v host.Value, cfg Config, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, host.Signalf(host.ArgsOutOfRange, "nesting too deep")
	}
	if v == nil {
		return append(b, "null"...), nil
	}
	if cfg.Null != nil && host.Eq(v, cfg.Null) {
		return append(b, "null"...), nil
	}
	if cfg.False != nil && host.Eq(v, cfg.False) {
		return append(b, "false"...), nil
	}
	switch v := v.(type) {
	case host.Symbol:
		switch v {
		case host.T:
			return append(b, "true"...), nil
		case host.Nil:
			switch {
			case cfg.ObjectType != ObjectHashTable:
				return append(b, "{}"...), nil
			case cfg.ArrayType == ArrayList:
				return append(b, "[]"...), nil
			default:
				return append(b, "null"...), nil
			}
		}
		if cfg.Proxify != nil {
			return appendProxy(b, v, cfg)
		}
		return appendString(b, v.Name())
	case host.Int:
		if v > MaxSafeInteger || v < -MaxSafeInteger {
			return nil, &host.Signal{Symbol: host.ArgsOutOfRange, Data: []host.Value{v}}
		}
		return strconv.AppendInt(b, int64(v), 10), nil
	case host.Float:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &host.Signal{Symbol: host.DomainError, Data: []host.Value{v}}
		}
		out, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		return append(b, out...), nil
	case host.String:
		return appendString(b, string(v))
	case *host.Vector:
		return appendArray(b, v.Items, cfg, depth)
	case *host.HashTable:
		return appendHashTable(b, v, cfg, depth)
	case *host.Cons:
		return appendCons(b, v, cfg, depth)
	case *host.Foreign:
		if v.Kind == GuestKind {
			b = append(b, `{"`+GuestKey+`":`...)
			b, _ = appendString(b, v.ID)
			return append(b, '}'), nil
		}
	}
	if cfg.Proxify != nil {
		return appendProxy(b, v, cfg)
	}
	return nil, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("json-value-p"), v}}
}

// GuestKind is the Foreign kind of guest references.
const GuestKind = "guest"

func appendProxy(b []byte, v host.Value, cfg Config) ([]byte, error) {
	id, err := cfg.Proxify(v)
	if err != nil {
		return nil, err
	}
	b = append(b, `{"`+ProxyKey+`":`...)
	b, _ = appendString(b, id)
	return append(b, '}'), nil
}

func appendString(b []byte, s string) ([]byte, error) {
	out, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(b, out...), nil
}

func appendArray(b []byte, items []host.Value, cfg Config, depth int) ([]byte, error) {
	b = append(b, '[')
	for i, item := range items {
		if i > 0 {
			b = append(b, ',')
		}
		var err error
		if b, err = appendValue(b, item, cfg, depth+1); err != nil {
			return nil, err
		}
	}
	return append(b, ']'), nil
}

func appendKey(b []byte, key host.Value) ([]byte, error) {
	switch k := key.(type) {
	case host.Symbol:
		return appendString(b, k.Name())
	case host.String:
		return appendString(b, string(k))
	}
	return nil, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("symbolp"), key}}
}

// reservedKey returns the first key of keys that is a wire key.
func reservedKey(keys iter.Seq[host.Value]) (string, bool) {
	for k := range keys {
		if name, ok := keyName(k); ok && Reserved(name) {
			return name, true
		}
	}
	return "", false
}

// appendReserved encodes an object whose keys collide with a wire key: by
// proxy when the codec can retain it, as an error otherwise.
func appendReserved(b []byte, v host.Value, name string, cfg Config) ([]byte, error) {
	if cfg.Proxify != nil {
		return appendProxy(b, v, cfg)
	}
	return nil, host.Signalf(host.WrongTypeArgument, "reserved key %q", name)
}

func appendHashTable(b []byte, h *host.HashTable, cfg Config, depth int) ([]byte, error) {
	if name, ok := reservedKey(func(yield func(host.Value) bool) {
		h.Range(func(k, _ host.Value) bool { return yield(k) })
	}); ok {
		return appendReserved(b, h, name, cfg)
	}
	b = append(b, '{')
	seen := make(map[string]struct{}, h.Len())
	var err error
	first := true
	h.Range(func(key, value host.Value) bool {
		if name, ok := keyName(key); ok {
			if _, dup := seen[name]; dup {
				err = host.Signalf(host.WrongTypeArgument, "duplicate key %q", name)
				return false
			}
			seen[name] = struct{}{}
		}
		if !first {
			b = append(b, ',')
		}
		first = false
		if b, err = appendKey(b, key); err != nil {
			return false
		}
		b = append(b, ':')
		b, err = appendValue(b, value, cfg, depth+1)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return append(b, '}'), nil
}

func keyName(key host.Value) (string, bool) {
	switch k := key.(type) {
	case host.Symbol:
		return k.Name(), true
	case host.String:
		return string(k), true
	}
	return "", false
}

func appendCons(b []byte, c *host.Cons, cfg Config, depth int) ([]byte, error) {
	items, proper := host.ToSlice(c)
	if !proper {
		if cfg.Proxify != nil {
			return appendProxy(b, c, cfg)
		}
		return nil, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("listp"), c}}
	}
	switch {
	case host.IsPlist(c):
		if name, ok := reservedKey(func(yield func(host.Value) bool) {
			for i := 0; i < len(items); i += 2 {
				if !yield(items[i]) {
					return
				}
			}
		}); ok {
			return appendReserved(b, c, name, cfg)
		}
		return appendPairs(b, items, cfg, depth, func(i int) (host.Value, host.Value, int) {
			return items[i], items[i+1], 2
		})
	case host.IsAlist(c):
		if name, ok := reservedKey(func(yield func(host.Value) bool) {
			for _, item := range items {
				if !yield(item.(*host.Cons).Car) {
					return
				}
			}
		}); ok {
			return appendReserved(b, c, name, cfg)
		}
		return appendPairs(b, items, cfg, depth, func(i int) (host.Value, host.Value, int) {
			pair := items[i].(*host.Cons)
			return pair.Car, pair.Cdr, 1
		})
	}
	return appendArray(b, items, cfg, depth)
}

func appendPairs(b []byte, items []host.Value, cfg Config, depth int, next func(i int) (host.Value, host.Value, int)) ([]byte, error) {
	b = append(b, '{')
	seen := make(map[string]struct{})
	for i := 0; i < len(items); {
		key, value, step := next(i)
		name, ok := keyName(key)
		if !ok {
			return nil, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("symbolp"), key}}
		}
		// earlier entries shadow later ones, as with assq/plist-get
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			if len(seen) > 1 {
				b = append(b, ',')
			}
			var err error
			if b, err = appendKey(b, key); err != nil {
				return nil, err
			}
			b = append(b, ':')
			if b, err = appendValue(b, value, cfg, depth+1); err != nil {
				return nil, err
			}
		}
		i += step
	}
	return append(b, '}'), nil
}
