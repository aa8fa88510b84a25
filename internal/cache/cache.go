// Package cache stores transpiled guest sources so repeated evaluations of
// the same typed source skip the TypeScript pass.
package cache

import (
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Cache defines the interface for transpile caching.
type Cache interface {
	// Get retrieves a transpiled source.
	Get(key string) (string, bool, error)
	// Set stores a transpiled source.
	Set(key, code string) error
	// Clear removes all cached data.
	Clear() error
}

// Type represents the type of cache to use.
type Type string

const (
	TypeLocal Type = "local" // In-memory cache (default)
	TypeRedis Type = "redis" // Redis shared cache
	TypeNone  Type = "none"  // Caching disabled
)

// Config configures the cache.
type Config struct {
	Type Type

	// Redis options (only used if Type is "redis")
	Redis RedisConfig
	// MaxEntries bounds the local cache; 0 means DefaultMaxEntries.
	MaxEntries int
}

// New returns the cache described by cfg.
func New(cfg Config) (Cache, error) {
	switch cfg.Type {
	case TypeRedis:
		return NewRedisCache(cfg.Redis)
	case TypeNone:
		return Nop{}, nil
	default:
		return NewLocalCache(cfg.MaxEntries), nil
	}
}

// Key digests the parts of a transpile request into a cache key.
func Key(parts ...string) string {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		// separator so ("ab","c") and ("a","bc") differ
		_, _ = d.Write([]byte{0})
	}
	var sum [8]byte
	return hex.EncodeToString(d.Sum(sum[:0]))
}

// Nop is a Cache that never stores anything.
type Nop struct{}

func (Nop) Get(string) (string, bool, error) { return "", false, nil }
func (Nop) Set(string, string) error         { return nil }
func (Nop) Clear() error                     { return nil }
