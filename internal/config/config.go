package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeycumines/guestjs/internal/cache"
)

// Config represents the application configuration.
type Config struct {
	// Global options that apply to all commands
	Global map[string]string
	// Command-specific options
	Commands map[string]map[string]string
	// Overrides hold command-line values. They win over the environment and
	// the file when resolved through a schema.
	Overrides map[string]string
	// Cache configures the transpile cache. Parsed from the [cache] section.
	Cache cache.Config
	// Warnings contains any warnings generated during config loading
	Warnings []string
}

// NewConfig creates a new empty configuration.
func NewConfig() *Config {
	return &Config{
		Global:    make(map[string]string),
		Commands:  make(map[string]map[string]string),
		Overrides: make(map[string]string),
		Cache: cache.Config{
			Type:       cache.TypeLocal,
			MaxEntries: cache.DefaultMaxEntries,
			Redis:      cache.RedisConfig{Addr: "localhost:6379", Prefix: "guestjs:"},
		},
		Warnings: make([]string, 0),
	}
}

// Load loads configuration from the default config file path.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads configuration from the specified file path.
// The file uses dnsmasq-style format: optionName remainingLineIsTheValue
//
// A symlink as the final path component is rejected.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader loads configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	config := NewConfig()
	scanner := bufio.NewScanner(r)

	var currentCommand string
	var inCacheSection bool

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			sectionName := strings.Trim(line, "[]")
			if sectionName == "cache" {
				inCacheSection = true
				currentCommand = ""
				continue
			}
			inCacheSection = false
			currentCommand = sectionName
			if config.Commands[currentCommand] == nil {
				config.Commands[currentCommand] = make(map[string]string)
			}
			continue
		}

		optionName, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)

		switch {
		case inCacheSection:
			if err := parseCacheOption(&config.Cache, optionName, value); err != nil {
				return nil, fmt.Errorf("invalid cache option %q: %w", optionName, err)
			}
		case currentCommand == "":
			config.Global[optionName] = value
		default:
			config.Commands[currentCommand][optionName] = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	for _, issue := range ValidateConfig(config, DefaultSchema()) {
		config.addWarning("%s", issue)
	}

	return config, nil
}

// addWarning adds a warning to the config's warnings list. The caller decides
// how to report them.
func (c *Config) addWarning(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// parseCacheOption parses one line of the [cache] section.
// Supported options:
//   - type <local|redis|none>
//   - max-entries <int>: bound of the local cache
//   - redis-addr <host:port>
//   - redis-password <string>
//   - redis-db <int>
//   - redis-ttl <duration>: 0 keeps entries forever
//   - redis-prefix <string>
//   - redis-tls <bool>
func parseCacheOption(cc *cache.Config, name, value string) error {
	switch name {
	case "type":
		switch t := cache.Type(strings.ToLower(value)); t {
		case cache.TypeLocal, cache.TypeRedis, cache.TypeNone:
			cc.Type = t
		default:
			return fmt.Errorf("unknown cache type %q", value)
		}

	case "max-entries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", value, err)
		}
		if n < 0 {
			return fmt.Errorf("max-entries cannot be negative: %d", n)
		}
		cc.MaxEntries = n

	case "redis-addr":
		if value == "" {
			return fmt.Errorf("redis-addr cannot be empty")
		}
		cc.Redis.Addr = value

	case "redis-password":
		cc.Redis.Password = value

	case "redis-db":
		db, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", value, err)
		}
		if db < 0 {
			return fmt.Errorf("redis-db cannot be negative: %d", db)
		}
		cc.Redis.DB = db

	case "redis-ttl":
		ttl, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value %q: %w", value, err)
		}
		if ttl < 0 {
			return fmt.Errorf("redis-ttl cannot be negative: %s", ttl)
		}
		cc.Redis.TTL = ttl

	case "redis-prefix":
		cc.Redis.Prefix = value

	case "redis-tls":
		enabled, err := parseBool(value)
		if err != nil {
			return err
		}
		cc.Redis.UseTLS = enabled

	default:
		return fmt.Errorf("unknown cache option: %s", name)
	}
	return nil
}

// parseBool parses a boolean value from string.
// Accepts: true, false, 1, 0, yes, no, on, off, nil, t (case-insensitive)
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on", "t":
		return true, nil
	case "false", "0", "no", "off", "nil":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}

// ParseBool parses the boolean forms a config file accepts.
func ParseBool(s string) (bool, error) { return parseBool(s) }

// GetGlobalOption returns a global configuration option.
func (c *Config) GetGlobalOption(name string) (string, bool) {
	value, exists := c.Global[name]
	return value, exists
}

// GetCommandOption returns a command-specific configuration option.
// It first checks command-specific options, then falls back to global options.
func (c *Config) GetCommandOption(command, name string) (string, bool) {
	if cmdOptions, exists := c.Commands[command]; exists {
		if value, exists := cmdOptions[name]; exists {
			return value, true
		}
	}

	return c.GetGlobalOption(name)
}

// SetGlobalOption sets a global configuration option.
func (c *Config) SetGlobalOption(name, value string) {
	c.Global[name] = value
}

// SetCommandOption sets a command-specific configuration option.
func (c *Config) SetCommandOption(command, name, value string) {
	if c.Commands[command] == nil {
		c.Commands[command] = make(map[string]string)
	}
	c.Commands[command][name] = value
}

// SetOverride sets a command-line value for a global key.
func (c *Config) SetOverride(name, value string) {
	if c.Overrides == nil {
		c.Overrides = make(map[string]string)
	}
	c.Overrides[name] = value
}

// HasWarnings returns true if there are any warnings.
func (c *Config) HasWarnings() bool {
	return len(c.Warnings) > 0
}
