package changeset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// MarshalJSON encodes the changeset as a list of sections: a number n for n
// unchanged code points, or [deleted, line...] for a replaced range where the
// inserted text is split into lines.
func (cs ChangeSet) MarshalJSON() ([]byte, error) {
	sections := make([]interface{}, 0, len(cs.ops))
	for i := 0; i < len(cs.ops); i++ {
		op := cs.ops[i]
		if op.Kind == Retain {
			sections = append(sections, op.N)
			continue
		}

		deleted, inserted := 0, ""
		for ; i < len(cs.ops) && cs.ops[i].Kind != Retain; i++ {
			if cs.ops[i].Kind == Delete {
				deleted += cs.ops[i].N
			} else {
				inserted += cs.ops[i].Text
			}
		}
		i--

		section := []interface{}{deleted}
		if inserted != "" {
			for _, line := range strings.Split(inserted, "\n") {
				section = append(section, line)
			}
		}
		sections = append(sections, section)
	}
	return json.Marshal(sections)
}

// UnmarshalJSON decodes the section list produced by MarshalJSON.
func (cs *ChangeSet) UnmarshalJSON(data []byte) error {
	var sections []json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// before and after are the running document lengths; sections that
	// would overflow them are rejected.
	var b Builder
	before, after := 0, 0
	for i, raw := range sections {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			var parts []json.RawMessage
			if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
				return fmt.Errorf("%w: section %d is not a replacement", ErrMalformed, i)
			}
			var deleted int
			if err := json.Unmarshal(parts[0], &deleted); err != nil || deleted < 0 {
				return fmt.Errorf("%w: section %d has an invalid deletion length", ErrMalformed, i)
			}
			lines := make([]string, 0, len(parts)-1)
			for _, p := range parts[1:] {
				var line string
				if err := json.Unmarshal(p, &line); err != nil {
					return fmt.Errorf("%w: section %d has a non-string line", ErrMalformed, i)
				}
				lines = append(lines, line)
			}
			inserted := strings.Join(lines, "\n")
			if !grow(&before, deleted) || !grow(&after, utf8.RuneCountInString(inserted)) {
				return fmt.Errorf("%w: section %d overflows the document length", ErrMalformed, i)
			}
			b.Delete(deleted)
			b.Insert(inserted)
			continue
		}

		var n int
		if err := json.Unmarshal(raw, &n); err != nil || n < 0 {
			return fmt.Errorf("%w: section %d is not a length", ErrMalformed, i)
		}
		if !grow(&before, n) || !grow(&after, n) {
			return fmt.Errorf("%w: section %d overflows the document length", ErrMalformed, i)
		}
		b.Retain(n)
	}
	*cs = b.Build()
	return nil
}

// grow adds n to *total unless the sum would overflow.
func grow(total *int, n int) bool {
	if n > math.MaxInt-*total {
		return false
	}
	*total += n
	return true
}
