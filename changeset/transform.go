package changeset

import "fmt"

// cursor walks the operations of a changeset, handing out partial ops.
type cursor struct {
	ops []Op
	i   int
	cur *Op
}

func newCursor(cs ChangeSet) *cursor {
	c := &cursor{ops: cs.ops}
	c.next()
	return c
}

func (c *cursor) next() {
	if c.i >= len(c.ops) {
		c.cur = nil
		return
	}
	op := c.ops[c.i]
	c.i++
	c.cur = &op
}

// take consumes n code points from the current op.
func (c *cursor) take(n int) {
	c.cur.N -= n
	if c.cur.Kind == Insert {
		c.cur.Text = string([]rune(c.cur.Text)[n:])
	}
	if c.cur.N == 0 {
		c.next()
	}
}

func (c *cursor) is(k Kind) bool {
	return c.cur != nil && c.cur.Kind == k
}

// Compose returns a changeset equivalent to applying a and then b.
func Compose(a, b ChangeSet) (ChangeSet, error) {
	if a.lenAfter != b.lenBefore {
		return ChangeSet{}, fmt.Errorf("%w: compose %d -> %d with %d -> %d",
			ErrLengthMismatch, a.lenBefore, a.lenAfter, b.lenBefore, b.lenAfter)
	}

	var out Builder
	x, y := newCursor(a), newCursor(b)
	for x.cur != nil || y.cur != nil {
		if x.is(Delete) {
			out.Delete(x.cur.N)
			x.next()
			continue
		}
		if y.is(Insert) {
			out.Insert(y.cur.Text)
			y.next()
			continue
		}
		if x.cur == nil || y.cur == nil {
			return ChangeSet{}, fmt.Errorf("%w: compose ran past the end", ErrLengthMismatch)
		}

		n := min(x.cur.N, y.cur.N)
		switch {
		case x.is(Retain) && y.is(Retain):
			out.Retain(n)
		case x.is(Retain) && y.is(Delete):
			out.Delete(n)
		case x.is(Insert) && y.is(Retain):
			out.Insert(string([]rune(x.cur.Text)[:n]))
		case x.is(Insert) && y.is(Delete):
			// inserted then deleted: nothing survives
		}
		x.take(n)
		y.take(n)
	}
	return out.Build(), nil
}

// ComposeAll composes a sequence of changesets left to right. An empty
// sequence yields Empty(length).
func ComposeAll(length int, sets ...ChangeSet) (ChangeSet, error) {
	acc := Empty(length)
	for i, cs := range sets {
		next, err := Compose(acc, cs)
		if err != nil {
			return ChangeSet{}, fmt.Errorf("changeset %d: %w", i, err)
		}
		acc = next
	}
	return acc, nil
}

// Transform takes two changesets made concurrently against the same document
// and returns a' and b' such that applying a then b' equals applying b then a'.
// When both insert at the same position, a's text ends up first.
func Transform(a, b ChangeSet) (ChangeSet, ChangeSet, error) {
	if a.lenBefore != b.lenBefore {
		return ChangeSet{}, ChangeSet{}, fmt.Errorf("%w: transform over %d and %d",
			ErrLengthMismatch, a.lenBefore, b.lenBefore)
	}

	var ap, bp Builder
	x, y := newCursor(a), newCursor(b)
	for x.cur != nil || y.cur != nil {
		if x.is(Insert) {
			ap.Insert(x.cur.Text)
			bp.Retain(x.cur.N)
			x.next()
			continue
		}
		if y.is(Insert) {
			ap.Retain(y.cur.N)
			bp.Insert(y.cur.Text)
			y.next()
			continue
		}
		if x.cur == nil || y.cur == nil {
			return ChangeSet{}, ChangeSet{}, fmt.Errorf("%w: transform ran past the end", ErrLengthMismatch)
		}

		n := min(x.cur.N, y.cur.N)
		switch {
		case x.is(Retain) && y.is(Retain):
			ap.Retain(n)
			bp.Retain(n)
		case x.is(Delete) && y.is(Retain):
			ap.Delete(n)
		case x.is(Retain) && y.is(Delete):
			bp.Delete(n)
		case x.is(Delete) && y.is(Delete):
			// both removed the same text
		}
		x.take(n)
		y.take(n)
	}
	return ap.Build(), bp.Build(), nil
}

// Map rewrites cs, made against the same document as over, so that it applies
// to the document produced by over. With before set, text inserted by cs at
// the same position as text inserted by over is placed first.
func Map(cs, over ChangeSet, before bool) (ChangeSet, error) {
	if before {
		mapped, _, err := Transform(cs, over)
		return mapped, err
	}
	_, mapped, err := Transform(over, cs)
	return mapped, err
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
