package geometry

import "math"

// Pose is a planar position plus heading. Theta is left as given; call
// Normalized or NormalizeAngle when a bounded heading is needed.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// NewPose builds a pose from a position and heading.
func NewPose(position Point, theta float64) Pose {
	return Pose{X: position.X, Y: position.Y, Theta: theta}
}

// Position returns the translational part of the pose.
func (p Pose) Position() Point {
	return Point{X: p.X, Y: p.Y}
}

// Transform returns the rigid transform rotating by Theta and then
// translating to (X, Y).
func (p Pose) Transform() Transform {
	return Rotate(p.Theta).Then(Translate(p.X, p.Y))
}

// Normalized returns a copy of p with Theta wrapped into [0, 2π).
func (p Pose) Normalized() Pose {
	p.Theta = NormalizeAngle(p.Theta, 0, 2*math.Pi)
	return p
}

// NormalizeAngle wraps theta into the half-open interval [lo, hi).
func NormalizeAngle(theta, lo, hi float64) float64 {
	width := hi - lo
	v := math.Mod(theta-lo, width)
	if v < 0 {
		v += width
	}
	// v+width can round up to exactly width for tiny negative inputs.
	if v >= width {
		v = 0
	}
	return v + lo
}

// AngleDiff returns the signed difference a-b wrapped into [-π, π).
func AngleDiff(a, b float64) float64 {
	return NormalizeAngle(a-b, -math.Pi, math.Pi)
}
