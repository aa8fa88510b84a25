package bridge

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// printer routes guest console output to the console writers, the logger and
// the inspector.
type printer struct {
	w *Worker
}

func (p *printer) Log(s string)   { p.emit("log", s) }
func (p *printer) Info(s string)  { p.emit("info", s) }
func (p *printer) Debug(s string) { p.emit("debug", s) }
func (p *printer) Warn(s string)  { p.emit("warning", s) }
func (p *printer) Error(s string) { p.emit("error", s) }

func (p *printer) emit(level, s string) {
	b := p.w.bridge
	out := b.stdout
	if level == "warning" || level == "error" {
		out = b.stderr
	}
	if out != nil {
		_, _ = fmt.Fprintln(out, s)
	}

	fields := []zap.Field{zap.String("level", level), zap.String("text", s)}
	switch level {
	case "error":
		p.w.logger.Error("console", fields...)
	case "warning":
		p.w.logger.Warn("console", fields...)
	default:
		p.w.logger.Debug("console", fields...)
	}

	if insp := b.Inspector(); insp != nil {
		insp.ConsoleAPICalled(level, s)
	}
}

// WithConsole sends guest console output to stdout, and warnings and errors
// to stderr. Either may be nil.
func WithConsole(stdout, stderr io.Writer) Option {
	return func(b *Bridge) {
		b.stdout = stdout
		b.stderr = stderr
	}
}
