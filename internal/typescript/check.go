package typescript

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Check reports primitive type mismatches esbuild does not look for: a
// variable annotated number, string or boolean initialized or reassigned
// with a literal of another primitive type. Anything it cannot be sure of is
// left alone, so a clean result is no proof of a well-typed program.
func Check(name, source string) []Diagnostic {
	c := checker{file: name, toks: scan(source), scopes: []map[string]string{{}}}
	c.run()
	return c.diags
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokTemplate
	tokPunct
	tokRegexp
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
	// nl is set when a line break separates the token from the previous one.
	nl bool
}

type lexer struct {
	src  string
	pos  int
	line int
	col  int
	nl   bool
	toks []token
}

func scan(src string) []token {
	l := &lexer{src: src, line: 1}
	l.run()
	return l.toks
}

func (l *lexer) advance(n int) {
	for _, r := range l.src[l.pos : l.pos+n] {
		if r == '\n' {
			l.line++
			l.col = 0
			l.nl = true
		} else {
			l.col++
		}
	}
	l.pos += n
}

func (l *lexer) emit(kind tokenKind, start, line, col int) {
	l.toks = append(l.toks, token{kind: kind, text: l.src[start:l.pos], line: line, col: col, nl: l.nl})
	l.nl = false
}

// regexAllowed reports whether a slash at this point starts a regular
// expression rather than a division.
func (l *lexer) regexAllowed() bool {
	if len(l.toks) == 0 {
		return true
	}
	prev := l.toks[len(l.toks)-1]
	switch prev.kind {
	case tokNumber, tokString, tokTemplate, tokRegexp:
		return false
	case tokIdent:
		switch prev.text {
		case "return", "typeof", "case", "do", "else", "in", "of", "new", "delete", "void", "throw", "yield", "await":
			return true
		}
		return false
	}
	return prev.text != ")" && prev.text != "]" && prev.text != "}"
}

func (l *lexer) run() {
	for l.pos < len(l.src) {
		start, line, col := l.pos, l.line, l.col
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		switch {
		case unicode.IsSpace(r):
			l.advance(size)
		case strings.HasPrefix(l.src[l.pos:], "//"):
			end := strings.IndexByte(l.src[l.pos:], '\n')
			if end < 0 {
				end = len(l.src) - l.pos
			}
			l.advance(end)
		case strings.HasPrefix(l.src[l.pos:], "/*"):
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				l.advance(len(l.src) - l.pos)
			} else {
				l.advance(end + 4)
			}
		case r == '"' || r == '\'':
			l.advance(1)
			l.skipQuoted(byte(r))
			l.emit(tokString, start, line, col)
		case r == '`':
			l.advance(1)
			l.skipTemplate()
			l.emit(tokTemplate, start, line, col)
		case r == '/' && l.regexAllowed():
			l.advance(1)
			l.skipRegexp()
			l.emit(tokRegexp, start, line, col)
		case r < utf8.RuneSelf && isDigit(byte(r)) || (r == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
			for l.pos < len(l.src) && (isIdentByte(l.src[l.pos]) || l.src[l.pos] == '.') {
				l.advance(1)
			}
			l.emit(tokNumber, start, line, col)
		case r == '_' || r == '$' || unicode.IsLetter(r):
			for l.pos < len(l.src) {
				r, size := utf8.DecodeRuneInString(l.src[l.pos:])
				if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				l.advance(size)
			}
			l.emit(tokIdent, start, line, col)
		default:
			l.advance(size)
			l.emit(tokPunct, start, line, col)
		}
	}
}

func (l *lexer) skipQuoted(quote byte) {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '\\':
			l.advance(min(2, len(l.src)-l.pos))
			continue
		case quote, '\n':
			l.advance(1)
			return
		}
		l.advance(1)
	}
}

func (l *lexer) skipTemplate() {
	depth := 0
	for l.pos < len(l.src) {
		switch c := l.src[l.pos]; {
		case c == '\\':
			l.advance(min(2, len(l.src)-l.pos))
			continue
		case depth == 0 && c == '`':
			l.advance(1)
			return
		case c == '$' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '{':
			depth++
			l.advance(2)
			continue
		case depth > 0 && c == '}':
			depth--
		}
		l.advance(1)
	}
}

func (l *lexer) skipRegexp() {
	class := false
	for l.pos < len(l.src) {
		switch c := l.src[l.pos]; {
		case c == '\\':
			l.advance(min(2, len(l.src)-l.pos))
			continue
		case c == '\n':
			return
		case c == '[':
			class = true
		case c == ']':
			class = false
		case c == '/' && !class:
			l.advance(1)
			for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
				l.advance(1)
			}
			return
		}
		l.advance(1)
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || isDigit(c) || (c|0x20 >= 'a' && c|0x20 <= 'z')
}

var primitives = map[string]bool{"number": true, "string": true, "boolean": true}

type checker struct {
	file   string
	toks   []token
	i      int
	scopes []map[string]string
	diags  []Diagnostic
}

func (c *checker) peek(n int) (token, bool) {
	if c.i+n < len(c.toks) {
		return c.toks[c.i+n], true
	}
	return token{}, false
}

func (c *checker) run() {
	for c.i < len(c.toks) {
		tok := c.toks[c.i]
		switch {
		case tok.kind == tokPunct && tok.text == "{":
			c.scopes = append(c.scopes, map[string]string{})
		case tok.kind == tokPunct && tok.text == "}":
			if len(c.scopes) > 1 {
				c.scopes = c.scopes[:len(c.scopes)-1]
			}
		case tok.kind == tokIdent && (tok.text == "const" || tok.text == "let" || tok.text == "var") && (c.statementStart() || c.after("export", "declare")):
			c.i++
			c.declarations()
			continue
		case tok.kind == tokIdent && c.statementStart():
			c.assignment()
		}
		c.i++
	}
}

// statementStart reports whether the current token begins a statement.
func (c *checker) statementStart() bool {
	if c.i == 0 {
		return true
	}
	if c.toks[c.i].nl {
		prev := c.toks[c.i-1]
		// a trailing operator continues the expression on the next line
		return prev.kind != tokPunct || strings.Contains(";{})]", prev.text)
	}
	prev := c.toks[c.i-1]
	return prev.kind == tokPunct && (prev.text == ";" || prev.text == "{" || prev.text == "}")
}

// after reports whether the previous token is one of the given words.
func (c *checker) after(words ...string) bool {
	if c.i == 0 {
		return false
	}
	prev := c.toks[c.i-1]
	for _, w := range words {
		if prev.kind == tokIdent && prev.text == w {
			return true
		}
	}
	return false
}

// declarations handles the declarators after const, let or var.
func (c *checker) declarations() {
	for {
		name, ok := c.peek(0)
		if !ok || name.kind != tokIdent {
			return
		}
		declared := ""
		colon, _ := c.peek(1)
		typ, _ := c.peek(2)
		if isPunct(colon, ":") && typ.kind == tokIdent {
			after, more := c.peek(3)
			if primitives[typ.text] && (!more || after.nl || isPunct(after, "=", ";", ",", ")")) {
				declared = typ.text
			}
			c.i += 3
		} else {
			c.i++
		}
		c.scopes[len(c.scopes)-1][name.text] = declared
		if declared == "" {
			return
		}
		eq, ok := c.peek(0)
		if !ok || !isPunct(eq, "=") {
			if isPunct(eq, ",") && !eq.nl {
				c.i++
				continue
			}
			return
		}
		c.i++
		c.checkLiteral(declared)
		next, ok := c.peek(1)
		if !ok || !isPunct(next, ",") || next.nl {
			return
		}
		c.i += 2
	}
}

// assignment handles NAME = literal for a name declared in this block.
func (c *checker) assignment() {
	name := c.toks[c.i]
	eq, ok := c.peek(1)
	if !ok || !isPunct(eq, "=") {
		return
	}
	// ==, => and === scan as separate "=" tokens
	if next, ok := c.peek(2); ok && isPunct(next, "=", ">") && next.col == eq.col+1 && next.line == eq.line {
		return
	}
	declared, ok := c.scopes[len(c.scopes)-1][name.text]
	if !ok || declared == "" {
		return
	}
	c.i += 2
	c.checkLiteral(declared)
}

// checkLiteral reports the token at the cursor when it is a complete literal
// of a primitive type other than want.
func (c *checker) checkLiteral(want string) {
	lit, ok := c.peek(0)
	if !ok {
		return
	}
	got := literalType(lit)
	if got == "" {
		return
	}
	if end, more := c.peek(1); more && !end.nl && !isPunct(end, ";", ",", ")", "}") {
		return
	}
	if got != want {
		c.diags = append(c.diags, Diagnostic{
			File:   c.file,
			Line:   lit.line,
			Column: lit.col,
			Text:   fmt.Sprintf("Type '%s' is not assignable to type '%s'.", got, want),
		})
	}
}

func literalType(t token) string {
	switch t.kind {
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokTemplate:
		if !strings.Contains(t.text, "${") {
			return "string"
		}
	case tokIdent:
		if t.text == "true" || t.text == "false" {
			return "boolean"
		}
	}
	return ""
}

func isPunct(t token, texts ...string) bool {
	if t.kind != tokPunct {
		return false
	}
	for _, s := range texts {
		if t.text == s {
			return true
		}
	}
	return false
}
