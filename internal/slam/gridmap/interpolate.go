package gridmap

import (
	"math"

	"github.com/banshee-data/gridslam/internal/geometry"
)

// Interpolation is a sample of the continuous occupancy field: the
// interpolated probability and its partial derivatives along map x and y.
// It is the [value, d/dx, d/dy] triple consumed by the scan matcher.
type Interpolation struct {
	Value float64
	DX    float64
	DY    float64
}

// InterpolatedValue bilinearly interpolates cell probabilities around the
// continuous map coordinate p. Cell (x, y) is sampled at integer coordinate
// (x, y). Coordinates whose 2x2 neighbourhood is not fully inside the grid
// return the zero Interpolation. Gradients are only filled when withGradient
// is set.
func (m *OccupancyGridMap[C, P]) InterpolatedValue(p geometry.Point, withGradient bool) Interpolation {
	size := m.cells.Size()
	// Written as a negated conjunction so NaN coordinates fall out too.
	if !(p.X >= 0 && p.Y >= 0 && p.X < float64(size.Width-1) && p.Y < float64(size.Height-1)) {
		return Interpolation{}
	}

	x0 := int(math.Floor(p.X))
	y0 := int(math.Floor(p.Y))
	fx := p.X - float64(x0)
	fy := p.Y - float64(y0)
	fxInv := 1 - fx
	fyInv := 1 - fy

	i0 := m.probability(x0, y0)
	i1 := m.probability(x0+1, y0)
	i2 := m.probability(x0, y0+1)
	i3 := m.probability(x0+1, y0+1)

	out := Interpolation{
		Value: (i0*fxInv+i1*fx)*fyInv + (i2*fxInv+i3*fx)*fy,
	}
	if withGradient {
		dx1 := i0 - i1
		dx2 := i2 - i3
		dy1 := i0 - i2
		dy2 := i1 - i3
		out.DX = -(dx1*fyInv + dx2*fy)
		out.DY = -(dy1*fxInv + dy2*fx)
	}
	return out
}

func (m *OccupancyGridMap[C, P]) probability(x, y int) float64 {
	return P(m.cells.At(x, y)).Value()
}
