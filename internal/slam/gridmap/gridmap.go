package gridmap

import (
	"fmt"

	"github.com/banshee-data/gridslam/internal/geometry"
)

// Default update factors: occupied hits are trusted more than free rays.
const (
	DefaultOccupiedFactor = 0.9
	DefaultFreeFactor     = 0.4
)

// Byte values produced by ToMapData.
const (
	MapDataFree     byte = 0
	MapDataOccupied byte = 100
	MapDataUnknown  byte = 101
)

// OccupancyGridMap couples a cell container with the world<->map transform.
// Map coordinates are (world + origin) / resolution, so integer map
// coordinates address cells directly.
type OccupancyGridMap[C any, P CellPtr[C]] struct {
	cells      *CellContainer[C]
	resolution float64
	// origin is stored negated relative to the constructor argument.
	origin geometry.Point

	occupiedFactor float64 // log-odds increment
	freeFactor     float64 // log-odds increment

	worldToMap geometry.Transform
	mapToWorld geometry.Transform
}

// LogOddsGridMap is the occupancy grid used by the SLAM loop.
type LogOddsGridMap = OccupancyGridMap[LogOddsCell, *LogOddsCell]

// NewOccupancyGridMap takes ownership of cells. resolution must be positive
// and both factors must be probabilities in (0, 1); anything else panics.
func NewOccupancyGridMap[C any, P CellPtr[C]](cells *CellContainer[C], resolution float64, origin geometry.Point, occupiedFactor, freeFactor float64) *OccupancyGridMap[C, P] {
	if cells == nil {
		panic("gridmap: nil cell container")
	}
	if !(resolution > 0) {
		panic(fmt.Sprintf("gridmap: resolution must be positive, got %v", resolution))
	}

	scaleToMap := 1 / resolution
	worldToMap := geometry.Translate(origin.X, origin.Y).Then(geometry.Scale(scaleToMap, scaleToMap))
	mapToWorld, ok := worldToMap.Inverse()
	if !ok {
		panic(fmt.Sprintf("gridmap: resolution %v gives a singular transform", resolution))
	}

	return &OccupancyGridMap[C, P]{
		cells:          cells,
		resolution:     resolution,
		origin:         geometry.Point{X: -origin.X, Y: -origin.Y},
		occupiedFactor: ToLogOdds(occupiedFactor),
		freeFactor:     ToLogOdds(freeFactor),
		worldToMap:     worldToMap,
		mapToWorld:     mapToWorld,
	}
}

// NewLogOddsGridMap builds a log-odds grid over cells.
func NewLogOddsGridMap(cells *LogOddsCellContainer, resolution float64, origin geometry.Point, occupiedFactor, freeFactor float64) *LogOddsGridMap {
	return NewOccupancyGridMap[LogOddsCell, *LogOddsCell](cells, resolution, origin, occupiedFactor, freeFactor)
}

// Size returns the grid extent in cells.
func (m *OccupancyGridMap[C, P]) Size() Size { return m.cells.Size() }

// Width returns the number of columns.
func (m *OccupancyGridMap[C, P]) Width() int { return m.cells.Size().Width }

// Height returns the number of rows.
func (m *OccupancyGridMap[C, P]) Height() int { return m.cells.Size().Height }

// Area returns the number of cells.
func (m *OccupancyGridMap[C, P]) Area() int { return m.cells.Size().Area() }

// Resolution returns world units per cell.
func (m *OccupancyGridMap[C, P]) Resolution() float64 { return m.resolution }

// Origin returns the stored (negated) origin.
func (m *OccupancyGridMap[C, P]) Origin() geometry.Point { return m.origin }

// WorldToMap returns the world->map transform.
func (m *OccupancyGridMap[C, P]) WorldToMap() geometry.Transform { return m.worldToMap }

// ToMapCoordinate converts a world point to continuous map coordinates.
func (m *OccupancyGridMap[C, P]) ToMapCoordinate(p geometry.Point) geometry.Point {
	return m.worldToMap.Apply(p)
}

// ToWorldCoordinate converts continuous map coordinates to a world point.
func (m *OccupancyGridMap[C, P]) ToWorldCoordinate(p geometry.Point) geometry.Point {
	return m.mapToWorld.Apply(p)
}

// HasValue reports whether (x, y) addresses a cell of this map.
func (m *OccupancyGridMap[C, P]) HasValue(x, y int) bool {
	return m.cells.HasCell(x, y)
}

func (m *OccupancyGridMap[C, P]) cell(x, y int) P {
	if !m.HasValue(x, y) {
		panic(fmt.Sprintf("gridmap: cell (%d, %d) outside %dx%d map", x, y, m.Width(), m.Height()))
	}
	return P(m.cells.At(x, y))
}

// IsOccupied reports whether the cell at (x, y) is occupied. Panics when out of range.
func (m *OccupancyGridMap[C, P]) IsOccupied(x, y int) bool { return m.cell(x, y).IsOccupied() }

// IsFree reports whether the cell at (x, y) is free. Panics when out of range.
func (m *OccupancyGridMap[C, P]) IsFree(x, y int) bool { return m.cell(x, y).IsFree() }

// Value returns the occupancy probability at (x, y). Panics when out of range.
func (m *OccupancyGridMap[C, P]) Value(x, y int) float64 { return m.cell(x, y).Value() }

// MarkOccupied applies the occupied increment to (x, y). Panics when out of range.
func (m *OccupancyGridMap[C, P]) MarkOccupied(x, y int) {
	m.cell(x, y).MarkOccupied(m.occupiedFactor)
}

// MarkFree applies the free increment to (x, y). Panics when out of range.
func (m *OccupancyGridMap[C, P]) MarkFree(x, y int) {
	m.cell(x, y).MarkFree(m.freeFactor)
}

// SetOccupiedFactor replaces the occupied increment for subsequent marks.
func (m *OccupancyGridMap[C, P]) SetOccupiedFactor(prob float64) {
	m.occupiedFactor = ToLogOdds(prob)
}

// SetFreeFactor replaces the free increment for subsequent marks.
func (m *OccupancyGridMap[C, P]) SetFreeFactor(prob float64) {
	m.freeFactor = ToLogOdds(prob)
}

// OccupiedFactor returns the occupied log-odds increment.
func (m *OccupancyGridMap[C, P]) OccupiedFactor() float64 { return m.occupiedFactor }

// FreeFactor returns the free log-odds increment.
func (m *OccupancyGridMap[C, P]) FreeFactor() float64 { return m.freeFactor }

// Cells exposes the row-major cell storage for export. Read-only.
func (m *OccupancyGridMap[C, P]) Cells() []C { return m.cells.Cells() }

// ToMapData encodes every cell as one byte, row-major: MapDataOccupied,
// MapDataFree or MapDataUnknown (101, not -1).
func (m *OccupancyGridMap[C, P]) ToMapData() []byte {
	cells := m.cells.Cells()
	data := make([]byte, len(cells))
	for i := range cells {
		c := P(&cells[i])
		switch {
		case c.IsOccupied():
			data[i] = MapDataOccupied
		case c.IsFree():
			data[i] = MapDataFree
		default:
			data[i] = MapDataUnknown
		}
	}
	return data
}

// Stats summarises cell classification counts.
type Stats struct {
	Occupied int `json:"occupied"`
	Free     int `json:"free"`
	Unknown  int `json:"unknown"`
}

// Stats counts occupied, free and unknown cells.
func (m *OccupancyGridMap[C, P]) Stats() Stats {
	var s Stats
	for _, b := range m.ToMapData() {
		switch b {
		case MapDataOccupied:
			s.Occupied++
		case MapDataFree:
			s.Free++
		default:
			s.Unknown++
		}
	}
	return s
}
