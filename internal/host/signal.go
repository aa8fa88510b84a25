package host

import (
	"fmt"
	"strings"
)

// Error symbols used across the module.
const (
	ErrorSymbol             Symbol = "error"
	WrongTypeArgument       Symbol = "wrong-type-argument"
	ArgsOutOfRange          Symbol = "args-out-of-range"
	DomainError             Symbol = "domain-error"
	JSONParseError          Symbol = "json-parse-error"
	VoidFunction            Symbol = "void-function"
	FileMissing             Symbol = "file-missing"
	GuestErrorSymbol        Symbol = "guest-error"
	GuestCompileErrorSymbol Symbol = "guest-compile-error"
	GuestRejectionSymbol    Symbol = "guest-unhandled-rejection"
)

// Signal is the host's error signalling mechanism: an error symbol plus data.
type Signal struct {
	Symbol Symbol
	Data   []Value
}

// Signalf returns a Signal carrying a formatted message as its only datum.
func Signalf(sym Symbol, format string, args ...any) *Signal {
	return &Signal{Symbol: sym, Data: []Value{String(fmt.Sprintf(format, args...))}}
}

// Error returns a generic error signal.
func Error(format string, args ...any) *Signal {
	return Signalf(ErrorSymbol, format, args...)
}

func (s *Signal) Error() string {
	var b strings.Builder
	b.WriteString(string(s.Symbol))
	for i, d := range s.Data {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString(", ")
		}
		if str, ok := d.(String); ok {
			b.WriteString(string(str))
		} else {
			b.WriteString(Format(d))
		}
	}
	return b.String()
}

// Message returns the first datum if it is a string, otherwise the full
// error text.
func (s *Signal) Message() string {
	if len(s.Data) > 0 {
		if str, ok := s.Data[0].(String); ok {
			return string(str)
		}
	}
	return s.Error()
}
