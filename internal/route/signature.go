package route

import (
	"strings"

	"github.com/richxcame/airpool/internal/geo"
)

// CellWidth is the width of one cell inside a signature.
const CellWidth = geo.CellStringWidth

// Signature is the ordered concatenation of the hex cells a route
// traverses, origin side first. Every cell renders at the same width,
// so containment and divergence between two routes reduce to plain
// string prefix operations, and lexicographic range scans over
// signatures find routes that share a trunk.
type Signature string

// FromCells builds a signature from an ordered cell list.
func FromCells(cells []string) Signature {
	return Signature(strings.Join(cells, ""))
}

func (s Signature) String() string { return string(s) }

// CellCount returns the number of whole cells in the signature.
func (s Signature) CellCount() int { return len(s) / CellWidth }

// Cells splits the signature back into its ordered cell list.
func (s Signature) Cells() []string {
	cells := make([]string, 0, s.CellCount())
	for i := 0; i+CellWidth <= len(s); i += CellWidth {
		cells = append(cells, string(s[i:i+CellWidth]))
	}
	return cells
}

// CellAt returns the i-th cell of the signature.
func (s Signature) CellAt(i int) string {
	return string(s[i*CellWidth : (i+1)*CellWidth])
}

// DestinationCell returns the final cell, where the route ends.
func (s Signature) DestinationCell() string {
	if len(s) < CellWidth {
		return ""
	}
	return string(s[len(s)-CellWidth:])
}

// Valid reports whether the signature is non-empty, cell-aligned, and
// made of lowercase hex digits only.
func (s Signature) Valid() bool {
	if len(s) == 0 || len(s)%CellWidth != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// HasPrefix reports whether s begins with prefix. A route whose
// signature extends another route's signature covers it entirely.
func (s Signature) HasPrefix(prefix Signature) bool {
	return strings.HasPrefix(string(s), string(prefix))
}

// CommonPrefixCells returns how many whole cells a and b share at the
// start. Partial-cell matches do not count.
func CommonPrefixCells(a, b Signature) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i / CellWidth
}

// SplitCell returns the last cell of the k-cell common prefix: the
// point where two routes part ways. k must be at least 1.
func (s Signature) SplitCell(k int) string {
	return s.CellAt(k - 1)
}

// Longer returns whichever signature traverses more cells, preferring
// a on ties.
func Longer(a, b Signature) Signature {
	if len(b) > len(a) {
		return b
	}
	return a
}
