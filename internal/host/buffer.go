package host

import "unicode/utf8"

// Buffer is a host text buffer. Positions are 1-based character positions,
// and a region [start, end) covers the characters between them.
type Buffer interface {
	Name() string
	String() string
	// Substring returns the text between start and end, in either order.
	Substring(start, end int) (string, error)
}

// TextBuffer is an in-memory Buffer.
type TextBuffer struct {
	name string
	text []rune
}

// NewTextBuffer returns a buffer named name holding text.
func NewTextBuffer(name, text string) *TextBuffer {
	return &TextBuffer{name: name, text: []rune(text)}
}

func (b *TextBuffer) Name() string { return b.name }

func (b *TextBuffer) String() string { return string(b.text) }

// Insert appends text at the end of the buffer.
func (b *TextBuffer) Insert(text string) {
	b.text = append(b.text, []rune(text)...)
}

// PointMax returns the position after the last character.
func (b *TextBuffer) PointMax() int { return len(b.text) + 1 }

func (b *TextBuffer) Substring(start, end int) (string, error) {
	if start > end {
		start, end = end, start
	}
	if start < 1 || end > len(b.text)+1 {
		return "", &Signal{Symbol: ArgsOutOfRange, Data: []Value{Int(start), Int(end)}}
	}
	return string(b.text[start-1 : end-1]), nil
}

// RuneCount returns the number of characters in s, for computing regions.
func RuneCount(s string) int { return utf8.RuneCountInString(s) }
