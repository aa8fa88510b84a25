// Package typescript runs the typed-source pass: TypeScript is lowered to
// JavaScript the guest engine can run before any of it executes. esbuild does
// the lowering and reports syntax errors; Check adds a shallow pass over
// primitive annotations. There is no full type checker.
package typescript

import (
	"fmt"
	"os"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/joeycumines/guestjs/internal/cache"
)

// Options configures a Transpiler.
type Options struct {
	// TSConfigPath optionally names a tsconfig.json whose compilerOptions
	// apply to every transform.
	TSConfigPath string
	// NoCheck reports only hard errors. Otherwise warnings and the
	// mismatches found by Check are fatal too.
	NoCheck bool
	// Cache stores transpiled output; nil disables caching.
	Cache cache.Cache
}

// Transpiler converts TypeScript to JavaScript.
type Transpiler struct {
	tsconfig string
	noCheck  bool
	cache    cache.Cache
}

// New returns a Transpiler, reading the tsconfig file if one is configured.
func New(opts Options) (*Transpiler, error) {
	t := &Transpiler{noCheck: opts.NoCheck, cache: opts.Cache}
	if opts.TSConfigPath != "" {
		raw, err := os.ReadFile(opts.TSConfigPath)
		if err != nil {
			return nil, fmt.Errorf("read type config: %w", err)
		}
		t.tsconfig = string(raw)
	}
	if t.cache == nil {
		t.cache = cache.Nop{}
	}
	return t, nil
}

// Diagnostic is a single problem reported by the typed pass.
type Diagnostic struct {
	File    string
	Line    int
	Column  int
	Text    string
	Warning bool
}

func (d Diagnostic) String() string {
	kind := "error"
	if d.Warning {
		kind = "warning"
	}
	if d.File == "" {
		return fmt.Sprintf("%s: %s", kind, d.Text)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, kind, d.Text)
}

// Error is returned when the typed pass rejects a source.
type Error struct {
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = d.String()
	}
	return strings.Join(parts, "\n")
}

// Transform checks and lowers source, named name for diagnostics. The output
// carries an inline source map so guest stack traces point at the original.
func (t *Transpiler) Transform(name, source string) (string, error) {
	key := cache.Key(name, source, t.tsconfig, fmt.Sprint(t.noCheck))
	if code, ok, err := t.cache.Get(key); err == nil && ok {
		return code, nil
	}

	result := api.Transform(source, api.TransformOptions{
		Loader:      api.LoaderTS,
		Sourcefile:  name,
		Sourcemap:   api.SourceMapInline,
		Target:      api.ES2017,
		TsconfigRaw: t.tsconfig,
		LogLevel:    api.LogLevelSilent,
	})

	var diags []Diagnostic
	for _, m := range result.Errors {
		diags = append(diags, toDiagnostic(m, false))
	}
	if !t.noCheck {
		for _, m := range result.Warnings {
			diags = append(diags, toDiagnostic(m, true))
		}
		if len(diags) == 0 {
			diags = Check(name, source)
		}
	}
	if len(diags) > 0 {
		return "", &Error{Diagnostics: diags}
	}

	code := string(result.Code)
	_ = t.cache.Set(key, code)
	return code, nil
}

func toDiagnostic(m api.Message, warning bool) Diagnostic {
	d := Diagnostic{Text: m.Text, Warning: warning}
	if m.Location != nil {
		d.File = m.Location.File
		d.Line = m.Location.Line
		d.Column = m.Location.Column
	}
	return d
}

// IsUntyped reports whether a source name carries a plain JavaScript suffix.
func IsUntyped(name string) bool {
	for _, suffix := range []string{".js", ".mjs", ".cjs"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
