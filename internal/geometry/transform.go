// Package geometry holds the planar primitives shared by the grid map and the
// scan matcher: points, poses and 2-D affine transforms.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a 2-D point in whichever frame the caller is working in.
type Point = r2.Vec

// Transform is a 2-D affine transform stored row-major as the top two rows of
// a 3x3 homogeneous matrix: m00,m01,tx, m10,m11,ty.
type Transform [6]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0,
		0, 1, 0,
	}
}

// Scale returns a transform scaling x by sx and y by sy.
func Scale(sx, sy float64) Transform {
	return Transform{
		sx, 0, 0,
		0, sy, 0,
	}
}

// Translate returns a transform adding (tx, ty).
func Translate(tx, ty float64) Transform {
	return Transform{
		1, 0, tx,
		0, 1, ty,
	}
}

// Rotate returns a counter-clockwise rotation by theta radians about the origin.
func Rotate(theta float64) Transform {
	s, c := math.Sincos(theta)
	return Transform{
		c, -s, 0,
		s, c, 0,
	}
}

// Then returns the transform that applies t first and next second.
func (t Transform) Then(next Transform) Transform {
	return Transform{
		next[0]*t[0] + next[1]*t[3],
		next[0]*t[1] + next[1]*t[4],
		next[0]*t[2] + next[1]*t[5] + next[2],
		next[3]*t[0] + next[4]*t[3],
		next[3]*t[1] + next[4]*t[4],
		next[3]*t[2] + next[4]*t[5] + next[5],
	}
}

// Apply maps p through t.
func (t Transform) Apply(p Point) Point {
	return Point{
		X: t[0]*p.X + t[1]*p.Y + t[2],
		Y: t[3]*p.X + t[4]*p.Y + t[5],
	}
}

// Determinant returns the determinant of the linear part of t.
func (t Transform) Determinant() float64 {
	return t[0]*t[4] - t[1]*t[3]
}

// Inverse returns the inverse transform. ok is false when the linear part is
// singular, in which case the identity is returned.
func (t Transform) Inverse() (inv Transform, ok bool) {
	det := t.Determinant()
	if det == 0 || math.IsNaN(det) {
		return Identity(), false
	}
	a := t[4] / det
	b := -t[1] / det
	c := -t[3] / det
	d := t[0] / det
	return Transform{
		a, b, -(a*t[2] + b*t[5]),
		c, d, -(c*t[2] + d*t[5]),
	}, true
}
