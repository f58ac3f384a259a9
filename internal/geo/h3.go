package geo

import (
	"fmt"

	"github.com/uber/h3-go/v4"
)

// Route signatures compare cells by plain byte order, which only works
// because an H3 index renders as a fixed-width hex string.
// See: https://h3geo.org/docs/core-library/restable
const (
	// CellStringWidth is the length of an H3 cell's hex string form.
	CellStringWidth = 15
)

// ToCell converts a coordinate to its H3 cell at the given resolution.
func ToCell(lat, lng float64, resolution int) (h3.Cell, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), resolution)
	if err != nil {
		return 0, fmt.Errorf("h3 cell for (%f, %f) at resolution %d: %w", lat, lng, resolution, err)
	}
	return cell, nil
}

// CellCenter returns the centre coordinates of an H3 cell. Detour
// probes route between cell centres rather than raw rider coordinates.
func CellCenter(cell h3.Cell) (lat, lng float64, err error) {
	latLng, err := cell.LatLng()
	if err != nil {
		return 0, 0, fmt.Errorf("centre of cell %s: %w", cell, err)
	}
	return latLng.Lat, latLng.Lng, nil
}

// CellToString converts an H3 cell to its hex string representation.
func CellToString(cell h3.Cell) string {
	return cell.String()
}

// StringToCell parses an H3 cell hex string back to a Cell.
func StringToCell(s string) h3.Cell {
	return h3.Cell(h3.IndexFromString(s))
}

// GridPath returns the contiguous line of cells from a to b, inclusive
// of both endpoints. A nil return means the grid could not produce a
// path (pentagon distortion, mostly); callers then keep the two cells
// adjacent instead of filling between them.
func GridPath(from, to h3.Cell) []h3.Cell {
	path, err := from.GridPath(to)
	if err != nil {
		return nil
	}
	return path
}
