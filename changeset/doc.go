// Package changeset implements plain-text changesets: sequences of retain,
// delete and insert operations covering a whole document, with apply,
// compose, invert, transform and position mapping.
//
// Lengths and positions count Unicode code points.
package changeset
