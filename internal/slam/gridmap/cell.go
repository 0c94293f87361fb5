package gridmap

import "math"

// LogOddsSaturation is the value at which MarkOccupied stops adding evidence.
// The free side has no equivalent floor.
const LogOddsSaturation = 50.0

// Cell is the capability an occupancy grid needs from its cell type.
type Cell interface {
	IsOccupied() bool
	IsFree() bool
	// Value returns the occupancy probability in (0, 1).
	Value() float64
	MarkOccupied(v float64)
	MarkFree(v float64)
}

// CellPtr constrains a grid's cell parameter: P must be *C and implement Cell.
type CellPtr[C any] interface {
	*C
	Cell
}

// LogOddsCell stores occupancy evidence as an unbounded log-odds value.
// The zero value is an unknown cell.
type LogOddsCell struct {
	value float64
}

// IsOccupied reports whether the accumulated evidence favours occupied.
func (c *LogOddsCell) IsOccupied() bool { return c.value > 0 }

// IsFree reports whether the accumulated evidence favours free.
func (c *LogOddsCell) IsFree() bool { return c.value < 0 }

// MarkOccupied adds v unless the cell has already reached LogOddsSaturation.
func (c *LogOddsCell) MarkOccupied(v float64) {
	if c.value < LogOddsSaturation {
		c.value += v
	}
}

// MarkFree adds v (expected negative) with no saturation.
func (c *LogOddsCell) MarkFree(v float64) {
	c.value += v
}

// Value maps the log-odds to a probability with the logistic transform.
func (c *LogOddsCell) Value() float64 {
	odds := math.Exp(c.value)
	if math.IsInf(odds, 1) {
		return 1
	}
	return odds / (odds + 1)
}

// LogOdds returns the raw log-odds value.
func (c *LogOddsCell) LogOdds() float64 { return c.value }

// ToLogOdds converts a probability in (0, 1) to log-odds. It panics outside
// that interval since such a factor can only come from a programming error.
func ToLogOdds(prob float64) float64 {
	if !(prob > 0 && prob < 1) {
		panic("gridmap: probability must be in (0, 1)")
	}
	return math.Log(prob / (1 - prob))
}
