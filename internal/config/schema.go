package config

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType is the value type of an option.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"     // true/false, yes/no, on/off, 1/0, t/nil
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration" // time.ParseDuration syntax, e.g. 250ms
)

// ConfigOption declares one option: where it lives, how it is typed and
// what overrides it.
type ConfigOption struct {
	Key         string
	Section     string // "" for global
	Type        OptionType
	Default     string
	Description string
	// Choices, when set, lists the only accepted values.
	Choices []string
	// EnvVar names the environment variable that wins over the file.
	EnvVar string
}

// ConfigSchema is the set of known options, used to validate a loaded
// Config, resolve effective values and print help.
type ConfigSchema struct {
	order []*ConfigOption
	index map[string]map[string]*ConfigOption // section -> key
}

// NewSchema creates a new empty ConfigSchema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{index: make(map[string]map[string]*ConfigOption)}
}

// Register adds opt. A later registration of the same section and key
// replaces the earlier one.
func (s *ConfigSchema) Register(opt ConfigOption) {
	o := &opt
	keys := s.index[o.Section]
	if keys == nil {
		keys = make(map[string]*ConfigOption)
		s.index[o.Section] = keys
	}
	if prev, ok := keys[o.Key]; ok {
		*prev = *o
		return
	}
	keys[o.Key] = o
	s.order = append(s.order, o)
}

// RegisterAll registers each of opts.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the option registered for key in section ("" for global),
// or nil.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	return s.index[section][key]
}

// IsKnown reports whether key may appear in section. Global keys may appear
// in any section.
func (s *ConfigSchema) IsKnown(section, key string) bool {
	return s.Lookup(section, key) != nil || s.Lookup("", key) != nil
}

// GlobalOptions returns the global options in registration order.
func (s *ConfigSchema) GlobalOptions() []ConfigOption {
	return s.SectionOptions("")
}

// SectionOptions returns the options of section in registration order.
func (s *ConfigSchema) SectionOptions(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.order {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the sorted names of all non-global sections.
func (s *ConfigSchema) Sections() []string {
	out := make([]string, 0, len(s.index))
	for sec := range s.index {
		if sec != "" {
			out = append(out, sec)
		}
	}
	sort.Strings(out)
	return out
}

// Resolve returns the effective value of a global key. The first of these
// wins: a command-line override, the option's environment variable (even if
// empty), the file value, the schema default. Unknown keys resolve to "".
func (s *ConfigSchema) Resolve(c *Config, key string) string {
	if v, ok := c.Overrides[key]; ok {
		return v
	}
	opt := s.Lookup("", key)
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.GetGlobalOption(key); ok {
		return v
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ResolveCommand returns the effective value of key for a command section:
// the section value, then the section default, then Resolve for a global key.
func (s *ConfigSchema) ResolveCommand(c *Config, section, key string) string {
	if v, ok := c.Commands[section][key]; ok {
		return v
	}
	if opt := s.Lookup(section, key); opt != nil {
		return opt.Default
	}
	return s.Resolve(c, key)
}

// ValidateConfig returns a sorted list of problems with c: unknown keys and
// values that do not fit their option.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string

	for key, value := range c.Global {
		opt := s.Lookup("", key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			continue
		}
		if err := opt.validate(value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}

	for section, opts := range c.Commands {
		for key, value := range opts {
			opt := s.Lookup(section, key)
			if opt == nil {
				opt = s.Lookup("", key)
			}
			if opt == nil {
				issues = append(issues, fmt.Sprintf("unknown option for command %q: %q (value: %q)", section, key, value))
				continue
			}
			if err := opt.validate(value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}

	sort.Strings(issues)
	return issues
}

func (o *ConfigOption) validate(value string) error {
	if err := validateType(o.Type, value); err != nil {
		return err
	}
	if len(o.Choices) > 0 && !slices.Contains(o.Choices, value) {
		return fmt.Errorf("expected one of %s, got %q", strings.Join(o.Choices, ", "), value)
	}
	return nil
}

func validateType(t OptionType, value string) error {
	var err error
	switch t {
	case TypeString, "":
	case TypeBool:
		_, err = parseBool(value)
	case TypeInt:
		_, err = strconv.Atoi(value)
	case TypeDuration:
		_, err = time.ParseDuration(value)
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	if err != nil {
		return fmt.Errorf("expected %s, got %q", t, value)
	}
	return nil
}

// FormatHelp renders every option, globals first, then one block per
// section.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	if globals := s.GlobalOptions(); len(globals) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range globals {
			writeOptionHelp(&b, o)
		}
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.SectionOptions(sec) {
			writeOptionHelp(&b, o)
		}
	}
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o ConfigOption) {
	fmt.Fprintf(b, "  %-26s %s", o.Key, o.Description)
	var notes []string
	if len(o.Choices) > 0 {
		notes = append(notes, "one of: "+strings.Join(o.Choices, ", "))
	} else if o.Type != "" && o.Type != TypeString {
		notes = append(notes, "type: "+string(o.Type))
	}
	if o.Default != "" {
		notes = append(notes, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		notes = append(notes, "env: "+o.EnvVar)
	}
	if len(notes) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(notes, "; "))
	}
	b.WriteByte('\n')
}

// DefaultSchema returns the schema declaring every known guestjs
// configuration option.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll(defaultGlobalOptions())
	s.RegisterAll(defaultCommandOptions())
	return s
}

func defaultGlobalOptions() []ConfigOption {
	return []ConfigOption{
		// Permissions
		{Key: "allow-net", Type: TypeBool, Default: "true", Description: "Allow guest network access", EnvVar: "GUESTJS_ALLOW_NET"},
		{Key: "allow-read", Type: TypeBool, Default: "true", Description: "Allow guest file reads", EnvVar: "GUESTJS_ALLOW_READ"},
		{Key: "allow-write", Type: TypeBool, Default: "true", Description: "Allow guest file writes", EnvVar: "GUESTJS_ALLOW_WRITE"},
		{Key: "allow-subprocess", Type: TypeBool, Default: "true", Description: "Allow guest subprocesses", EnvVar: "GUESTJS_ALLOW_SUBPROCESS"},

		// Scheduling
		{Key: "tick-interval", Type: TypeDuration, Default: "100ms", Description: "Delay between ticks while guest work is pending"},
		{Key: "io-workers", Type: TypeInt, Default: "64", Description: "Guest I/O jobs run at once", EnvVar: "GUESTJS_IO_WORKERS"},

		// Inspector
		{Key: "inspector-address", Type: TypeString, Default: "", Description: "Address of the inspector endpoint", EnvVar: "GUESTJS_INSPECT"},
		{Key: "inspect-brk", Type: TypeBool, Default: "false", Description: "Wait for an inspector client before the first evaluation"},

		// Typed sources and modules
		{Key: "type-config-path", Type: TypeString, Default: "", Description: "tsconfig.json used for typed sources"},
		{Key: "skip-type-check", Type: TypeBool, Default: "false", Description: "Report only hard errors from the typed pass"},
		{Key: "disallow-remote-imports", Type: TypeBool, Default: "false", Description: "Refuse require() of http(s) URLs"},

		// Value codec
		{Key: "object-type", Default: "hash-table", Choices: []string{"hash-table", "alist", "plist"}, Description: "Host form of guest objects"},
		{Key: "array-type", Default: "array", Choices: []string{"array", "list"}, Description: "Host form of guest arrays"},

		// Output
		{Key: "color", Default: "auto", Choices: []string{"auto", "always", "never"}, Description: "Colored error output", EnvVar: "GUESTJS_COLOR"},

		// Logging options
		{Key: "log.file", Type: TypeString, Default: "", Description: "Log file path (JSON output)", EnvVar: "GUESTJS_LOG_FILE"},
		{Key: "log.level", Default: "warn", Choices: []string{"debug", "info", "warn", "error"}, Description: "Log level", EnvVar: "GUESTJS_LOG_LEVEL"},
	}
}

func defaultCommandOptions() []ConfigOption {
	return []ConfigOption{
		// [run] section
		{Key: "watch", Section: "run", Type: TypeBool, Default: "false", Description: "Re-evaluate the file when it changes"},

		// [repl] section
		{Key: "history-file", Section: "repl", Type: TypeString, Default: "", Description: "REPL history file"},

		// [cache] section. Parsed into Config.Cache by parseCacheOption; the
		// entries here document it.
		{Key: "type", Section: "cache", Default: "local", Choices: []string{"local", "redis", "none"}, Description: "Transpile cache backend"},
		{Key: "max-entries", Section: "cache", Type: TypeInt, Default: "256", Description: "Entries kept by the local cache"},
		{Key: "redis-addr", Section: "cache", Type: TypeString, Default: "localhost:6379", Description: "Redis address"},
		{Key: "redis-password", Section: "cache", Type: TypeString, Default: "", Description: "Redis password"},
		{Key: "redis-db", Section: "cache", Type: TypeInt, Default: "0", Description: "Redis database number"},
		{Key: "redis-ttl", Section: "cache", Type: TypeDuration, Default: "0s", Description: "Expiry of cached entries, 0 for none"},
		{Key: "redis-prefix", Section: "cache", Type: TypeString, Default: "guestjs:", Description: "Redis key prefix"},
		{Key: "redis-tls", Section: "cache", Type: TypeBool, Default: "false", Description: "Connect to Redis over TLS"},
	}
}
