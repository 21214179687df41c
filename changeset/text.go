package changeset

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Line describes one line of a document. From and To are code point offsets,
// To excludes the line break. Number is 1-based.
type Line struct {
	Number int
	From   int
	To     int
	Text   string
}

// Len returns the length of doc in code points.
func Len(doc string) int {
	return utf8.RuneCountInString(doc)
}

// LineCount returns the number of lines in doc. An empty document has one line.
func LineCount(doc string) int {
	return strings.Count(doc, "\n") + 1
}

// LineAt returns the line containing pos.
func LineAt(doc string, pos int) (Line, error) {
	if pos < 0 || pos > Len(doc) {
		return Line{}, fmt.Errorf("%w: position %d", ErrOutOfRange, pos)
	}

	number, from, off := 1, 0, 0
	for _, line := range strings.Split(doc, "\n") {
		n := utf8.RuneCountInString(line)
		if pos <= off+n {
			return Line{Number: number, From: from, To: from + n, Text: line}, nil
		}
		off += n + 1
		from = off
		number++
	}
	// unreachable: the last line always ends at Len(doc)
	return Line{}, fmt.Errorf("%w: position %d", ErrOutOfRange, pos)
}

// LineByNumber returns the line with the given 1-based number.
func LineByNumber(doc string, number int) (Line, error) {
	lines := strings.Split(doc, "\n")
	if number < 1 || number > len(lines) {
		return Line{}, fmt.Errorf("%w: line %d of %d", ErrOutOfRange, number, len(lines))
	}
	from := 0
	for _, line := range lines[:number-1] {
		from += utf8.RuneCountInString(line) + 1
	}
	text := lines[number-1]
	return Line{Number: number, From: from, To: from + utf8.RuneCountInString(text), Text: text}, nil
}

// PosOf converts a 1-based line number and a 0-based column into an offset.
// Columns past the end of the line clamp to the line end.
func PosOf(doc string, number, col int) (int, error) {
	line, err := LineByNumber(doc, number)
	if err != nil {
		return 0, err
	}
	if col < 0 {
		col = 0
	}
	if line.From+col > line.To {
		return line.To, nil
	}
	return line.From + col, nil
}
