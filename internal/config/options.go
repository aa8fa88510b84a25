package config

import (
	"fmt"
	"time"

	"github.com/joeycumines/guestjs/internal/bridge"
	"github.com/joeycumines/guestjs/internal/codec"
	"github.com/joeycumines/guestjs/internal/host"
)

// Apply copies the session options the config resolves (environment, file,
// schema default) onto opts. The color key is left to the caller, which
// knows whether its output is a terminal.
func (s *ConfigSchema) Apply(c *Config, opts *bridge.Options) error {
	bools := []struct {
		key string
		dst *bool
	}{
		{"allow-net", &opts.AllowNet},
		{"allow-read", &opts.AllowRead},
		{"allow-write", &opts.AllowWrite},
		{"allow-subprocess", &opts.AllowRun},
		{"inspect-brk", &opts.InspectBreak},
		{"skip-type-check", &opts.NoCheck},
		{"disallow-remote-imports", &opts.NoRemote},
	}
	for _, b := range bools {
		v, err := parseBool(s.Resolve(c, b.key))
		if err != nil {
			return fmt.Errorf("option %q: %w", b.key, err)
		}
		*b.dst = v
	}

	if v := s.Resolve(c, "tick-interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("option %q: %w", "tick-interval", err)
		}
		if d <= 0 {
			return fmt.Errorf("option %q must be positive: %s", "tick-interval", d)
		}
		opts.TickInterval = d
	}

	opts.InspectAddr = s.Resolve(c, "inspector-address")
	if opts.InspectBreak && opts.InspectAddr == "" {
		return fmt.Errorf("option %q needs %q", "inspect-brk", "inspector-address")
	}
	opts.TSConfigPath = s.Resolve(c, "type-config-path")

	objectType, err := codec.ParseObjectType(host.Symbol(s.Resolve(c, "object-type")))
	if err != nil {
		return fmt.Errorf("option %q: %w", "object-type", err)
	}
	opts.Codec.ObjectType = objectType
	arrayType, err := codec.ParseArrayType(host.Symbol(s.Resolve(c, "array-type")))
	if err != nil {
		return fmt.Errorf("option %q: %w", "array-type", err)
	}
	opts.Codec.ArrayType = arrayType

	opts.Cache = c.Cache
	return nil
}
