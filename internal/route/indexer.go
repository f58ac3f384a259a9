package route

import (
	"context"
	"fmt"

	"github.com/uber/h3-go/v4"

	"github.com/richxcame/airpool/internal/geo"
	"github.com/richxcame/airpool/internal/maps"
	"github.com/richxcame/airpool/pkg/common"
)

// RoutePlanner is the slice of the maps client the indexer needs.
type RoutePlanner interface {
	DriveRoute(ctx context.Context, origin, destination maps.LatLng) (*maps.DriveRoute, error)
}

// Route is the indexed form of one rider's journey out of the airport.
type Route struct {
	Signature       Signature
	Cells           []string
	DestinationCell string
	TotalKm         float64
}

// Indexer turns a destination coordinate into a comparable route
// signature anchored at the configured origin.
type Indexer struct {
	planner    RoutePlanner
	origin     maps.LatLng
	resolution int
}

// NewIndexer builds an indexer. Every route it computes starts at the
// given origin; the resolution fixes the cell size signatures are made
// of.
func NewIndexer(planner RoutePlanner, originLat, originLng float64, resolution int) *Indexer {
	return &Indexer{
		planner:    planner,
		origin:     maps.LatLng{Latitude: originLat, Longitude: originLng},
		resolution: resolution,
	}
}

// ComputeRoute maps the drive from the origin to the destination onto
// the hex grid: step endpoints become cells, consecutive repeats
// collapse, grid paths fill the gaps between non-adjacent samples, and
// the destination cell closes the list. The same destination always
// produces the same signature.
func (ix *Indexer) ComputeRoute(ctx context.Context, destLat, destLng float64) (*Route, error) {
	drive, err := ix.planner.DriveRoute(ctx, ix.origin, maps.LatLng{Latitude: destLat, Longitude: destLng})
	if err != nil {
		return nil, err
	}

	destCell, err := geo.ToCell(destLat, destLng, ix.resolution)
	if err != nil {
		return nil, common.NewIndexerUnavailableError(fmt.Errorf("map destination: %w", err))
	}

	deduped := make([]h3.Cell, 0, len(drive.Waypoints))
	for _, wp := range drive.Waypoints {
		cell, err := geo.ToCell(wp.Latitude, wp.Longitude, ix.resolution)
		if err != nil {
			return nil, common.NewIndexerUnavailableError(fmt.Errorf("map waypoint: %w", err))
		}
		if n := len(deduped); n == 0 || deduped[n-1] != cell {
			deduped = append(deduped, cell)
		}
	}

	// Waypoint samples can jump several cells at a stretch of highway;
	// splice the grid path between each adjacent pair so the signature
	// never skips a cell. seen keeps a self-crossing drive from
	// appending the same cell twice.
	seen := make(map[h3.Cell]struct{}, 2*len(deduped))
	cells := make([]string, 0, 2*len(deduped))
	appendCell := func(c h3.Cell) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		cells = append(cells, geo.CellToString(c))
	}

	for i, cell := range deduped {
		if i == 0 {
			appendCell(cell)
			continue
		}
		path := geo.GridPath(deduped[i-1], cell)
		if path == nil {
			appendCell(cell)
			continue
		}
		for _, c := range path {
			appendCell(c)
		}
	}

	destStr := geo.CellToString(destCell)
	if n := len(cells); n == 0 || cells[n-1] != destStr {
		cells = append(cells, destStr)
	}

	return &Route{
		Signature:       FromCells(cells),
		Cells:           cells,
		DestinationCell: destStr,
		TotalKm:         float64(drive.DistanceMeters) / 1000.0,
	}, nil
}
