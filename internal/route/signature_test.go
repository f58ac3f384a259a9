package route

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// cell builds a synthetic full-width cell from a single hex digit.
func cell(ch string) string {
	return strings.Repeat(ch, CellWidth)
}

func sig(chs ...string) Signature {
	cells := make([]string, len(chs))
	for i, ch := range chs {
		cells[i] = cell(ch)
	}
	return FromCells(cells)
}

func TestSignature_FromCellsAndBack(t *testing.T) {
	cells := []string{cell("a"), cell("b"), cell("c")}
	s := FromCells(cells)

	assert.Equal(t, 3*CellWidth, len(s))
	assert.Equal(t, 3, s.CellCount())
	assert.Equal(t, cells, s.Cells())
	assert.Equal(t, cell("b"), s.CellAt(1))
}

func TestSignature_DestinationCell(t *testing.T) {
	assert.Equal(t, cell("c"), sig("a", "b", "c").DestinationCell())
	assert.Equal(t, cell("a"), sig("a").DestinationCell())
	assert.Equal(t, "", Signature("short").DestinationCell())
}

func TestSignature_Valid(t *testing.T) {
	tests := []struct {
		name string
		s    Signature
		want bool
	}{
		{"single cell", sig("a"), true},
		{"multi cell", sig("a", "b", "c"), true},
		{"real cells", Signature("872a10528ffffff872a1052affffff"), true},
		{"empty", Signature(""), false},
		{"misaligned", Signature("abc"), false},
		{"uppercase", Signature(strings.Repeat("A", CellWidth)), false},
		{"non-hex", Signature(strings.Repeat("z", CellWidth)), false},
		{"separator leaked in", Signature(cell("a") + "::" + cell("b")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.Valid())
		})
	}
}

func TestSignature_HasPrefix(t *testing.T) {
	assert.True(t, sig("a", "b", "c").HasPrefix(sig("a", "b")))
	assert.True(t, sig("a", "b").HasPrefix(sig("a", "b")))
	assert.False(t, sig("a", "b").HasPrefix(sig("a", "b", "c")))
	assert.False(t, sig("a", "b").HasPrefix(sig("b")))
}

func TestCommonPrefixCells(t *testing.T) {
	tests := []struct {
		name string
		a, b Signature
		want int
	}{
		{"identical", sig("a", "b", "c"), sig("a", "b", "c"), 3},
		{"shared trunk", sig("a", "b", "c"), sig("a", "b", "d"), 2},
		{"first cell only", sig("a", "b"), sig("a", "c"), 1},
		{"nothing shared", sig("a", "b"), sig("c", "d"), 0},
		{"different lengths", sig("a", "b", "c", "d"), sig("a", "b"), 2},
		{"empty side", sig("a"), Signature(""), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CommonPrefixCells(tt.a, tt.b))
			assert.Equal(t, tt.want, CommonPrefixCells(tt.b, tt.a))
		})
	}
}

func TestCommonPrefixCells_PartialCellDoesNotCount(t *testing.T) {
	// 14 of 15 characters match: the cells differ, so no whole cell is
	// shared and the divergence point is undefined.
	a := Signature(strings.Repeat("a", CellWidth-1) + "b")
	b := Signature(strings.Repeat("a", CellWidth-1) + "c")
	assert.Equal(t, 0, CommonPrefixCells(a, b))
}

func TestSignature_SplitCell(t *testing.T) {
	caller := sig("a", "b", "c")

	// Shared trunk of 2 cells parts ways at the second cell.
	k := CommonPrefixCells(caller, sig("a", "b", "d"))
	assert.Equal(t, 2, k)
	assert.Equal(t, cell("b"), caller.SplitCell(k))

	// A single shared cell splits at the origin cell itself.
	assert.Equal(t, cell("a"), caller.SplitCell(1))
}

func TestLonger(t *testing.T) {
	longer := sig("a", "b", "c")
	shorter := sig("a", "b")

	assert.Equal(t, longer, Longer(longer, shorter))
	assert.Equal(t, longer, Longer(shorter, longer))

	// Ties keep the first argument.
	other := sig("x", "y")
	assert.Equal(t, shorter, Longer(shorter, other))
}
