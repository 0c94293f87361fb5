// Package scanmatch aligns a 2-D point cloud against an occupancy field with
// Gauss-Newton refinement.
//
// The matcher keeps no state between calls. Points are sensor-frame offsets
// expressed in map cell units (already scaled by 1/resolution); the pose is
// in the world frame and is converted through the map's coordinate
// transform for the duration of a match.
package scanmatch

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/gridslam/internal/geometry"
	"github.com/banshee-data/gridslam/internal/slam/gridmap"
)

// MaxRotationStep bounds the heading change of a single Gauss-Newton step.
const MaxRotationStep = 0.2

// rankTolerance is the relative singular-value cutoff used by the solver.
const rankTolerance = 1e-9

// Map is what the matcher needs from a grid: coordinate conversion and a
// differentiable occupancy field in map coordinates.
type Map interface {
	ToMapCoordinate(p geometry.Point) geometry.Point
	ToWorldCoordinate(p geometry.Point) geometry.Point
	InterpolatedValue(p geometry.Point, withGradient bool) gridmap.Interpolation
}

// Result describes a completed match.
type Result struct {
	Pose geometry.Pose
	// Steps counts the Gauss-Newton steps that were applied.
	Steps int
	// Stalled is set when a step produced no estimate and iteration stopped
	// before the iteration bound.
	Stalled bool
}

// Matcher runs scan matching against maps of type M.
type Matcher[M Map] struct{}

// New returns a matcher for maps of type M.
func New[M Map]() *Matcher[M] {
	return &Matcher[M]{}
}

// Match refines pose so that points land on occupied parts of m, running at
// most maxIterations+1 Gauss-Newton steps. It always returns a pose; with no
// points the input pose is returned unchanged.
func (sm *Matcher[M]) Match(pose geometry.Pose, points []geometry.Point, m M, maxIterations int) geometry.Pose {
	return sm.MatchDetailed(pose, points, m, maxIterations).Pose
}

// MatchDetailed is Match plus step accounting.
func (sm *Matcher[M]) MatchDetailed(pose geometry.Pose, points []geometry.Point, m M, maxIterations int) Result {
	if len(points) == 0 {
		return Result{Pose: pose}
	}

	var res Result
	estimated := geometry.NewPose(m.ToMapCoordinate(pose.Position()), pose.Theta)
	for i := 0; i <= maxIterations; i++ {
		s := sm.estimate(estimated, points, m)
		if s.outcome == stepNoImprovement {
			res.Stalled = true
			break
		}
		estimated = s.pose
		res.Steps++
	}

	res.Pose = geometry.NewPose(m.ToWorldCoordinate(estimated.Position()), estimated.Theta).Normalized()
	return res
}

type stepOutcome int

const (
	stepApplied stepOutcome = iota
	stepNoImprovement
)

// step is the result of one Gauss-Newton iteration. pose is only meaningful
// when outcome is stepApplied.
type step struct {
	outcome stepOutcome
	pose    geometry.Pose
}

// estimate runs one Gauss-Newton step from pose (map coordinates).
func (sm *Matcher[M]) estimate(pose geometry.Pose, points []geometry.Point, m M) step {
	transform := pose.Transform()
	sinRot, cosRot := math.Sincos(pose.Theta)

	var h [3][3]float64
	var dTr [3]float64

	for _, p := range points {
		transformed := transform.Apply(p)
		v := m.InterpolatedValue(transformed, true)

		xDeriv := v.DX
		yDeriv := v.DY
		rotDeriv := (-sinRot*p.X-cosRot*p.Y)*xDeriv + (cosRot*p.X-sinRot*p.Y)*yDeriv
		a := 1 - v.Value

		dTr[0] += xDeriv * a
		dTr[1] += yDeriv * a
		dTr[2] += rotDeriv * a

		h[0][0] += xDeriv * xDeriv
		h[1][1] += yDeriv * yDeriv
		h[2][2] += rotDeriv * rotDeriv

		h[0][1] += xDeriv * yDeriv
		h[0][2] += xDeriv * rotDeriv
		h[1][2] += yDeriv * rotDeriv
	}

	h[1][0] = h[0][1]
	h[2][0] = h[0][2]
	h[2][1] = h[1][2]

	if h[0][0] == 0 || h[1][1] == 0 {
		return step{outcome: stepNoImprovement}
	}

	dir, ok := solve(h, dTr)
	if !ok {
		return step{outcome: stepNoImprovement}
	}

	return step{
		outcome: stepApplied,
		pose: geometry.Pose{
			X:     pose.X + dir[0],
			Y:     pose.Y + dir[1],
			Theta: pose.Theta + clamp(dir[2], -MaxRotationStep, MaxRotationStep),
		},
	}
}

// solve returns the minimum-norm solution of h·x = b. For a full-rank h this
// is h⁻¹·b; rank-deficient systems (a single point, collinear gradients) are
// solved in the least-squares sense instead of blowing up.
func solve(h [3][3]float64, b [3]float64) ([3]float64, bool) {
	a := mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return [3]float64{}, false
	}
	rank := svd.Rank(rankTolerance)
	if rank == 0 {
		return [3]float64{}, false
	}

	var x mat.VecDense
	svd.SolveVecTo(&x, mat.NewVecDense(3, b[:]), rank)

	out := [3]float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return [3]float64{}, false
		}
	}
	return out, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
