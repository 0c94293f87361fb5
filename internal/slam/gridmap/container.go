package gridmap

import "fmt"

// Size is the grid extent in cells.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns Width*Height.
func (s Size) Area() int { return s.Width * s.Height }

// CellContainer is a fixed-size, row-major array of cells. It is created once
// and never resized.
type CellContainer[C any] struct {
	size  Size
	cells []C
}

// LogOddsCellContainer is the container used by LogOddsGridMap.
type LogOddsCellContainer = CellContainer[LogOddsCell]

// NewCellContainer allocates width*height zero-valued cells.
func NewCellContainer[C any](size Size) *CellContainer[C] {
	if size.Width <= 0 || size.Height <= 0 {
		panic(fmt.Sprintf("gridmap: container size must be positive, got %dx%d", size.Width, size.Height))
	}
	return &CellContainer[C]{
		size:  size,
		cells: make([]C, size.Area()),
	}
}

// NewLogOddsCellContainer allocates a container of unknown log-odds cells.
func NewLogOddsCellContainer(size Size) *LogOddsCellContainer {
	return NewCellContainer[LogOddsCell](size)
}

// Size returns the container extent.
func (c *CellContainer[C]) Size() Size { return c.size }

// HasCell reports whether (x, y) lies inside the container.
func (c *CellContainer[C]) HasCell(x, y int) bool {
	return x >= 0 && x < c.size.Width && y >= 0 && y < c.size.Height
}

// At returns the cell at (x, y). Callers must check HasCell first; an
// out-of-range coordinate panics.
func (c *CellContainer[C]) At(x, y int) *C {
	if !c.HasCell(x, y) {
		panic(fmt.Sprintf("gridmap: cell (%d, %d) outside %dx%d grid", x, y, c.size.Width, c.size.Height))
	}
	return &c.cells[y*c.size.Width+x]
}

// Cells exposes the backing storage in row-major order. Callers must treat
// it as read-only.
func (c *CellContainer[C]) Cells() []C { return c.cells }
