package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/guestjs/internal/cache"
)

func TestConfigParsing(t *testing.T) {
	configContent := `# Global options
allow-net false
color always

[run]
watch true

[repl]
history-file /tmp/history`

	config, err := LoadFromReader(strings.NewReader(configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if value, ok := config.GetGlobalOption("allow-net"); !ok || value != "false" {
		t.Errorf("Expected allow-net=false, got %s (exists: %v)", value, ok)
	}

	if value, ok := config.GetCommandOption("run", "watch"); !ok || value != "true" {
		t.Errorf("Expected run.watch=true, got %s (exists: %v)", value, ok)
	}

	if value, ok := config.GetCommandOption("repl", "history-file"); !ok || value != "/tmp/history" {
		t.Errorf("Expected repl.history-file=/tmp/history, got %s (exists: %v)", value, ok)
	}

	// command sections fall back to global options
	if value, ok := config.GetCommandOption("run", "color"); !ok || value != "always" {
		t.Errorf("Expected run.color=always (fallback), got %s (exists: %v)", value, ok)
	}

	if value, ok := config.GetCommandOption("nonexistent", "option"); ok {
		t.Errorf("Expected nonexistent option to not exist, but got %s", value)
	}

	if config.HasWarnings() {
		t.Errorf("Expected no warnings, got %v", config.Warnings)
	}
}

func TestEmptyConfig(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Failed to load empty config: %v", err)
	}

	if len(config.Global) != 0 {
		t.Errorf("Expected empty global config, got %v", config.Global)
	}

	if len(config.Commands) != 0 {
		t.Errorf("Expected empty commands config, got %v", config.Commands)
	}

	if config.Cache.Type != cache.TypeLocal || config.Cache.MaxEntries != cache.DefaultMaxEntries {
		t.Errorf("Expected default local cache, got %+v", config.Cache)
	}
}

func TestCacheSection(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader(`
[cache]
type redis
redis-addr cache.internal:6380
redis-password  s3cret
redis-db 2
redis-ttl 1h
redis-prefix test:
redis-tls yes
max-entries 10
`))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	want := cache.Config{
		Type:       cache.TypeRedis,
		MaxEntries: 10,
		Redis: cache.RedisConfig{
			Addr:     "cache.internal:6380",
			Password: "s3cret",
			DB:       2,
			TTL:      time.Hour,
			Prefix:   "test:",
			UseTLS:   true,
		},
	}
	if config.Cache != want {
		t.Errorf("Expected %+v, got %+v", want, config.Cache)
	}
	if _, ok := config.Commands["cache"]; ok {
		t.Errorf("cache section must not be stored as a command section")
	}
}

func TestCacheSectionErrors(t *testing.T) {
	for _, line := range []string{
		"type memcached",
		"max-entries -1",
		"max-entries lots",
		"redis-addr",
		"redis-db x",
		"redis-ttl -1s",
		"redis-tls maybe",
		"unknown 1",
	} {
		_, err := LoadFromReader(strings.NewReader("[cache]\n" + line))
		if err == nil {
			t.Errorf("Expected error for %q", line)
			continue
		}
		if !strings.Contains(err.Error(), "invalid cache option") {
			t.Errorf("Unexpected error for %q: %v", line, err)
		}
	}
}

func TestUnknownOptionsWarn(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader("verbose true\ntick-interval soon\n[run]\npager less\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	joined := strings.Join(config.Warnings, "\n")
	for _, want := range []string{
		`unknown global option: "verbose"`,
		`global option "tick-interval": expected duration`,
		`unknown option for command "run": "pager"`,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected warning containing %q, got %q", want, joined)
		}
	}
}

func TestSetGlobalAndCommandOptions(t *testing.T) {
	config := NewConfig()
	config.SetGlobalOption("color", "never")
	config.SetCommandOption("run", "watch", "true")

	if v, ok := config.GetGlobalOption("color"); !ok || v != "never" {
		t.Errorf("Expected color=never, got %q", v)
	}
	if v, ok := config.GetCommandOption("run", "watch"); !ok || v != "true" {
		t.Errorf("Expected run.watch=true, got %q", v)
	}
}

func TestLoadFromPathMissing(t *testing.T) {
	config, err := LoadFromPath(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("LoadFromPath returned error: %v", err)
	}
	if len(config.Global) != 0 {
		t.Errorf("Expected empty config, got %v", config.Global)
	}
}

func TestLoadFromPathRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.WriteFile(target, []byte("color never\n"), 0600); err != nil {
		t.Fatalf("failed to write target: %v", err)
	}
	link := filepath.Join(dir, "config")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := LoadFromPath(link)
	if err == nil || !strings.Contains(err.Error(), "symlink not allowed") {
		t.Fatalf("expected symlink rejection, got %v", err)
	}
}

func TestLoadUsesConfigPathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("array-type list\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("GUESTJS_CONFIG", path)

	config, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if v, _ := config.GetGlobalOption("array-type"); v != "list" {
		t.Errorf("Expected array-type=list, got %q", v)
	}
}
