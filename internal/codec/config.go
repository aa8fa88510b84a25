// Package codec converts between host values and the JSON text the guest
// engine reads and writes.
package codec

import "github.com/joeycumines/guestjs/internal/host"

// ObjectType selects the host representation of guest objects.
type ObjectType int

const (
	ObjectHashTable ObjectType = iota
	ObjectAlist
	ObjectPlist
)

// ArrayType selects the host representation of guest arrays.
type ArrayType int

const (
	ArrayVector ArrayType = iota
	ArrayList
)

// Wire keys used to carry references that JSON cannot represent.
const (
	ProxyKey     = "__proxy__"
	GuestKey     = "__guest__"
	HostErrorKey = "__hostError__"
)

// Reserved reports whether name is one of the wire keys. Objects using one
// as a key never travel as plain data.
func Reserved(name string) bool {
	return name == ProxyKey || name == GuestKey || name == HostErrorKey
}

// Config parameterises a conversion.
type Config struct {
	ObjectType ObjectType
	ArrayType  ArrayType
	// Null is the host value standing for JSON null.
	Null host.Value
	// False is the host value standing for JSON false.
	False host.Value

	// Proxify, when set, is called for host values with no JSON form. It
	// returns the proxy id the guest will see.
	Proxify func(v host.Value) (string, error)
	// Resolve maps a proxy id back to its host value.
	Resolve func(id string) (host.Value, error)
	// Guest maps a guest reference id to a host value. When nil a plain
	// *host.Foreign is produced.
	Guest func(id string) (host.Value, error)
}

// DefaultConfig returns hash table objects, vector arrays, :null and :false.
func DefaultConfig() Config {
	return Config{
		ObjectType: ObjectHashTable,
		ArrayType:  ArrayVector,
		Null:       host.Keyword("null"),
		False:      host.Keyword("false"),
	}
}

// ParseObjectType maps the host keyword names (hash-table, alist, plist).
func ParseObjectType(v host.Value) (ObjectType, error) {
	switch v {
	case host.Value(host.Symbol("hash-table")), host.Value(host.Keyword("hash-table")):
		return ObjectHashTable, nil
	case host.Value(host.Symbol("alist")), host.Value(host.Keyword("alist")):
		return ObjectAlist, nil
	case host.Value(host.Symbol("plist")), host.Value(host.Keyword("plist")):
		return ObjectPlist, nil
	}
	return 0, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("object-type"), v}}
}

// ParseArrayType maps the host keyword names (array, list).
func ParseArrayType(v host.Value) (ArrayType, error) {
	switch v {
	case host.Value(host.Symbol("array")), host.Value(host.Keyword("array")):
		return ArrayVector, nil
	case host.Value(host.Symbol("list")), host.Value(host.Keyword("list")):
		return ArrayList, nil
	}
	return 0, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("array-type"), v}}
}
