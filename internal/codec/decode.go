package codec

import (
	"bytes"
	"math"
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/joeycumines/guestjs/internal/host"
)

// Decode converts guest JSON text to a host value.
func Decode(text string, cfg Config) (host.Value, error) {
	data := []byte(text)
	value, dataType, offset, err := jsonparser.Get(data)
	if err != nil {
		return nil, parseError(err.Error())
	}
	if rest := bytes.TrimSpace(data[offset:]); len(rest) != 0 {
		return nil, parseError("trailing data after value")
	}
	return decodeValue(value, dataType, cfg, 0)
}

func parseError(msg string) error {
	return host.Signalf(host.JSONParseError, "%s", msg)
}

func decodeValue(raw []byte, dataType jsonparser.ValueType, cfg Config, depth int) (host.Value, error) {
	if depth > maxDepth {
		return nil, parseError("nesting too deep")
	}
	switch dataType {
	case jsonparser.Null:
		return nullValue(cfg), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return nil, parseError(err.Error())
		}
		if b {
			return host.T, nil
		}
		return falseValue(cfg), nil
	case jsonparser.Number:
		return decodeNumber(raw)
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return nil, parseError(err.Error())
		}
		return host.String(s), nil
	case jsonparser.Array:
		return decodeArray(raw, cfg, depth)
	case jsonparser.Object:
		return decodeObject(raw, cfg, depth)
	}
	return nil, parseError("unexpected value " + strconv.Quote(string(raw)))
}

func nullValue(cfg Config) host.Value {
	if cfg.Null != nil {
		return cfg.Null
	}
	return host.Nil
}

func falseValue(cfg Config) host.Value {
	if cfg.False != nil {
		return cfg.False
	}
	return host.Nil
}

func decodeNumber(raw []byte) (host.Value, error) {
	if !bytes.ContainsAny(raw, ".eE") {
		if i, err := strconv.ParseInt(string(raw), 10, 64); err == nil && i <= MaxSafeInteger && i >= -MaxSafeInteger {
			return host.Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return nil, parseError("bad number " + string(raw))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &host.Signal{Symbol: host.DomainError, Data: []host.Value{host.String(raw)}}
	}
	if f == math.Trunc(f) && math.Abs(f) <= MaxSafeInteger {
		return host.Int(int64(f)), nil
	}
	return host.Float(f), nil
}

func decodeArray(raw []byte, cfg Config, depth int) (host.Value, error) {
	var items []host.Value
	var err error
	_, perr := jsonparser.ArrayEach(raw, func(value []byte, dataType jsonparser.ValueType, _ int, e error) {
		if err != nil {
			return
		}
		if e != nil {
			err = parseError(e.Error())
			return
		}
		var v host.Value
		if v, err = decodeValue(value, dataType, cfg, depth+1); err == nil {
			items = append(items, v)
		}
	})
	if err != nil {
		return nil, err
	}
	if perr != nil {
		return nil, parseError(perr.Error())
	}
	if cfg.ArrayType == ArrayList {
		return host.List(items...), nil
	}
	if items == nil {
		items = []host.Value{}
	}
	return host.NewVector(items...), nil
}

type entry struct {
	key   string
	value host.Value
}

func decodeObject(raw []byte, cfg Config, depth int) (host.Value, error) {
	var entries []entry
	seen := make(map[string]struct{})
	err := jsonparser.ObjectEach(raw, func(k []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		key, err := jsonparser.ParseString(k)
		if err != nil {
			return parseError(err.Error())
		}
		if _, dup := seen[key]; dup {
			return parseError("duplicate key " + strconv.Quote(key))
		}
		seen[key] = struct{}{}
		if (key == ProxyKey || key == GuestKey) && dataType == jsonparser.String {
			id, err := jsonparser.ParseString(value)
			if err != nil {
				return parseError(err.Error())
			}
			entries = append(entries, entry{key: key, value: host.String(id)})
			return nil
		}
		v, err := decodeValue(value, dataType, cfg, depth+1)
		if err != nil {
			return err
		}
		entries = append(entries, entry{key: key, value: v})
		return nil
	})
	if err != nil {
		if _, ok := err.(*host.Signal); ok {
			return nil, err
		}
		return nil, parseError(err.Error())
	}

	if len(entries) == 1 {
		if ref, ok, err := decodeReference(entries[0], cfg); ok {
			return ref, err
		}
	}

	switch cfg.ObjectType {
	case ObjectAlist:
		items := make([]host.Value, len(entries))
		for i, e := range entries {
			items[i] = &host.Cons{Car: host.Symbol(e.key), Cdr: e.value}
		}
		return host.List(items...), nil
	case ObjectPlist:
		items := make([]host.Value, 0, 2*len(entries))
		for _, e := range entries {
			items = append(items, host.Keyword(e.key), e.value)
		}
		return host.List(items...), nil
	default:
		h := host.NewHashTable()
		for _, e := range entries {
			h.Put(host.Symbol(e.key), e.value)
		}
		return h, nil
	}
}

func decodeReference(e entry, cfg Config) (host.Value, bool, error) {
	id, isString := e.value.(host.String)
	if !isString {
		return nil, false, nil
	}
	switch e.key {
	case ProxyKey:
		if cfg.Resolve == nil {
			return nil, false, nil
		}
		v, err := cfg.Resolve(string(id))
		return v, true, err
	case GuestKey:
		if cfg.Guest == nil {
			return &host.Foreign{Kind: GuestKind, ID: string(id)}, true, nil
		}
		v, err := cfg.Guest(string(id))
		return v, true, err
	}
	return nil, false, nil
}
