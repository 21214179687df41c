package changeset

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind is the kind of a changeset operation.
type Kind uint8

const (
	Retain Kind = iota
	Delete
	Insert
)

func (k Kind) String() string {
	switch k {
	case Retain:
		return "retain"
	case Delete:
		return "delete"
	case Insert:
		return "insert"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Op is a single changeset operation.
// For Retain and Delete, N is the number of code points covered.
// For Insert, Text holds the inserted text and N its length in code points.
type Op struct {
	Kind Kind
	N    int
	Text string
}

var (
	ErrLengthMismatch = errors.New("changeset length does not match document")
	ErrOutOfRange     = errors.New("change range out of bounds")
	ErrMalformed      = errors.New("malformed changeset")
)

// ChangeSet describes a transformation of a whole document. It always covers
// the full length of the document it applies to.
type ChangeSet struct {
	ops       []Op
	lenBefore int
	lenAfter  int
}

// Change replaces [From, To) of the original document with Insert.
type Change struct {
	From   int
	To     int
	Insert string
}

// Empty returns the changeset that leaves a document of the given length untouched.
func Empty(length int) ChangeSet {
	var b Builder
	b.Retain(length)
	return b.Build()
}

// Of builds a changeset over a document of the given length from a list of
// changes expressed in original document coordinates.
func Of(length int, changes ...Change) (ChangeSet, error) {
	sorted := append([]Change(nil), changes...)
	// insertion sort keeps equal positions in the given order
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].From < sorted[j-1].From; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var b Builder
	pos := 0
	for _, c := range sorted {
		if c.From < pos || c.To < c.From || c.To > length {
			return ChangeSet{}, fmt.Errorf("%w: [%d, %d) in document of length %d", ErrOutOfRange, c.From, c.To, length)
		}
		b.Retain(c.From - pos)
		b.Delete(c.To - c.From)
		b.Insert(c.Insert)
		pos = c.To
	}
	b.Retain(length - pos)
	return b.Build(), nil
}

// Replace is a shorthand for a changeset with a single change.
func Replace(length, from, to int, text string) (ChangeSet, error) {
	return Of(length, Change{From: from, To: to, Insert: text})
}

// Diff returns a changeset turning old into new with a single replacement
// spanning everything between their common prefix and suffix.
func Diff(old, new string) ChangeSet {
	a, b := []rune(old), []rune(new)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	var bld Builder
	bld.Retain(prefix)
	bld.Delete(len(a) - prefix - suffix)
	bld.Insert(string(b[prefix : len(b)-suffix]))
	bld.Retain(suffix)
	return bld.Build()
}

// Ops returns a copy of the operations.
func (cs ChangeSet) Ops() []Op {
	return append([]Op(nil), cs.ops...)
}

// LenBefore is the length of the document the changeset applies to.
func (cs ChangeSet) LenBefore() int { return cs.lenBefore }

// LenAfter is the length of the document the changeset produces.
func (cs ChangeSet) LenAfter() int { return cs.lenAfter }

// IsEmpty reports whether the changeset leaves the document unchanged.
func (cs ChangeSet) IsEmpty() bool {
	for _, op := range cs.ops {
		if op.Kind != Retain {
			return false
		}
	}
	return true
}

// Apply applies the changeset to doc.
func (cs ChangeSet) Apply(doc string) (string, error) {
	src := []rune(doc)
	if len(src) != cs.lenBefore {
		return "", fmt.Errorf("%w: changeset expects %d, document has %d", ErrLengthMismatch, cs.lenBefore, len(src))
	}

	var sb strings.Builder
	sb.Grow(len(doc))
	pos := 0
	for _, op := range cs.ops {
		if op.Kind != Insert && op.N > len(src)-pos {
			return "", fmt.Errorf("%w: %s at %d past document of length %d", ErrOutOfRange, op.Kind, pos, len(src))
		}
		switch op.Kind {
		case Retain:
			sb.WriteString(string(src[pos : pos+op.N]))
			pos += op.N
		case Delete:
			pos += op.N
		case Insert:
			sb.WriteString(op.Text)
		}
	}
	return sb.String(), nil
}

// Invert returns the changeset that undoes cs. doc is the document cs applies to.
func (cs ChangeSet) Invert(doc string) (ChangeSet, error) {
	src := []rune(doc)
	if len(src) != cs.lenBefore {
		return ChangeSet{}, fmt.Errorf("%w: changeset expects %d, document has %d", ErrLengthMismatch, cs.lenBefore, len(src))
	}

	var b Builder
	pos := 0
	for _, op := range cs.ops {
		if op.Kind != Insert && op.N > len(src)-pos {
			return ChangeSet{}, fmt.Errorf("%w: %s at %d past document of length %d", ErrOutOfRange, op.Kind, pos, len(src))
		}
		switch op.Kind {
		case Retain:
			b.Retain(op.N)
			pos += op.N
		case Delete:
			b.Insert(string(src[pos : pos+op.N]))
			pos += op.N
		case Insert:
			b.Delete(op.N)
		}
	}
	return b.Build(), nil
}

// MapPos maps a position in the document before the changeset to the
// corresponding position after it. When an insertion happens exactly at pos,
// assoc < 0 keeps the position before the inserted text and assoc >= 0 moves
// it after. Positions inside a replaced range map to the start of the
// replacement (assoc < 0) or its end (assoc >= 0); the start of a replaced
// range always maps to the start of the replacement.
func (cs ChangeSet) MapPos(pos int, assoc int) int {
	if pos < 0 {
		pos = 0
	}
	if pos > cs.lenBefore {
		pos = cs.lenBefore
	}

	a, b := 0, 0
	for i := 0; i < len(cs.ops); i++ {
		op := cs.ops[i]
		switch op.Kind {
		case Retain:
			if pos < a+op.N {
				return b + pos - a
			}
			a += op.N
			b += op.N
		case Delete:
			if pos < a+op.N {
				if pos > a && assoc >= 0 && i+1 < len(cs.ops) && cs.ops[i+1].Kind == Insert {
					return b + cs.ops[i+1].N
				}
				return b
			}
			a += op.N
		case Insert:
			pure := i == 0 || cs.ops[i-1].Kind != Delete
			if pos == a && assoc < 0 && pure {
				return b
			}
			b += op.N
		}
	}
	return b + pos - a
}

// Changes iterates the changed ranges, reporting each one in both original
// (fromA, toA) and new (fromB, toB) coordinates along with the inserted text.
func (cs ChangeSet) Changes(fn func(fromA, toA, fromB, toB int, inserted string)) {
	a, b := 0, 0
	for i := 0; i < len(cs.ops); i++ {
		op := cs.ops[i]
		if op.Kind == Retain {
			a += op.N
			b += op.N
			continue
		}
		fromA, fromB := a, b
		var inserted string
		for ; i < len(cs.ops) && cs.ops[i].Kind != Retain; i++ {
			switch cs.ops[i].Kind {
			case Delete:
				a += cs.ops[i].N
			case Insert:
				inserted += cs.ops[i].Text
				b += cs.ops[i].N
			}
		}
		i--
		fn(fromA, a, fromB, b, inserted)
	}
}

func (cs ChangeSet) String() string {
	parts := make([]string, 0, len(cs.ops))
	for _, op := range cs.ops {
		switch op.Kind {
		case Insert:
			parts = append(parts, fmt.Sprintf("insert(%q)", op.Text))
		default:
			parts = append(parts, fmt.Sprintf("%s(%d)", op.Kind, op.N))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Builder accumulates operations in canonical form.
type Builder struct {
	ops       []Op
	lenBefore int
	lenAfter  int
}

// Retain appends n unchanged code points.
func (b *Builder) Retain(n int) *Builder {
	if n <= 0 {
		return b
	}
	b.lenBefore += n
	b.lenAfter += n
	if last := len(b.ops) - 1; last >= 0 && b.ops[last].Kind == Retain {
		b.ops[last].N += n
		return b
	}
	b.ops = append(b.ops, Op{Kind: Retain, N: n})
	return b
}

// Delete appends the deletion of n code points.
func (b *Builder) Delete(n int) *Builder {
	if n <= 0 {
		return b
	}
	b.lenBefore += n
	last := len(b.ops) - 1
	if last >= 0 && b.ops[last].Kind == Delete {
		b.ops[last].N += n
		return b
	}
	// deletes go before inserts inside a replaced region
	if last >= 0 && b.ops[last].Kind == Insert {
		if last > 0 && b.ops[last-1].Kind == Delete {
			b.ops[last-1].N += n
			return b
		}
		ins := b.ops[last]
		b.ops[last] = Op{Kind: Delete, N: n}
		b.ops = append(b.ops, ins)
		return b
	}
	b.ops = append(b.ops, Op{Kind: Delete, N: n})
	return b
}

// Insert appends inserted text.
func (b *Builder) Insert(text string) *Builder {
	if text == "" {
		return b
	}
	n := utf8.RuneCountInString(text)
	b.lenAfter += n
	if last := len(b.ops) - 1; last >= 0 && b.ops[last].Kind == Insert {
		b.ops[last].Text += text
		b.ops[last].N += n
		return b
	}
	b.ops = append(b.ops, Op{Kind: Insert, N: n, Text: text})
	return b
}

// Build returns the accumulated changeset.
func (b *Builder) Build() ChangeSet {
	return ChangeSet{
		ops:       append([]Op(nil), b.ops...),
		lenBefore: b.lenBefore,
		lenAfter:  b.lenAfter,
	}
}
