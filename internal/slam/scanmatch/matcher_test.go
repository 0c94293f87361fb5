package scanmatch

import (
	"math"
	"testing"

	"github.com/banshee-data/gridslam/internal/geometry"
	"github.com/banshee-data/gridslam/internal/slam/gridmap"
)

const resolution = 0.05

func newMap(w, h int, origin geometry.Point) *gridmap.LogOddsGridMap {
	return gridmap.NewLogOddsGridMap(
		gridmap.NewLogOddsCellContainer(gridmap.Size{Width: w, Height: h}),
		resolution, origin, gridmap.DefaultOccupiedFactor, gridmap.DefaultFreeFactor)
}

func saturate(m *gridmap.LogOddsGridMap, x, y int) {
	for i := 0; i < 30; i++ {
		m.MarkOccupied(x, y)
	}
}

// countingMap records how often the matcher samples the field.
type countingMap struct {
	*gridmap.LogOddsGridMap
	samples int
}

func (c *countingMap) InterpolatedValue(p geometry.Point, withGradient bool) gridmap.Interpolation {
	c.samples++
	return c.LogOddsGridMap.InterpolatedValue(p, withGradient)
}

func landing(m *gridmap.LogOddsGridMap, pose geometry.Pose, p geometry.Point) geometry.Point {
	mapPose := geometry.NewPose(m.ToMapCoordinate(pose.Position()), pose.Theta)
	return mapPose.Transform().Apply(p)
}

func TestMatch_EmptyPointsReturnsPose(t *testing.T) {
	m := newMap(10, 10, geometry.Point{})
	pose := geometry.Pose{X: 0.12, Y: -3, Theta: -7.5}

	got := New[*gridmap.LogOddsGridMap]().Match(pose, nil, m, 10)
	if got != pose {
		t.Errorf("Match() = %+v, want %+v", got, pose)
	}
	res := New[*gridmap.LogOddsGridMap]().MatchDetailed(pose, []geometry.Point{}, m, 10)
	if res.Pose != pose || res.Steps != 0 {
		t.Errorf("MatchDetailed() = %+v", res)
	}
}

func TestMatch_ZeroIterationsRunsAtMostOneStep(t *testing.T) {
	m := &countingMap{LogOddsGridMap: newMap(20, 20, geometry.Point{})}
	saturate(m.LogOddsGridMap, 10, 10)
	points := []geometry.Point{{X: 8, Y: 0}, {X: 8, Y: 0.5}}
	pose := geometry.Pose{X: 2 * resolution, Y: 10 * resolution, Theta: 0.05}

	res := New[*countingMap]().MatchDetailed(pose, points, m, 0)
	if res.Steps > 1 {
		t.Errorf("Steps = %d, want <= 1", res.Steps)
	}
	if m.samples > len(points) {
		t.Errorf("sampled %d times, want <= %d", m.samples, len(points))
	}
}

func TestMatch_SinglePointConvergesOntoOccupiedCell(t *testing.T) {
	m := newMap(20, 20, geometry.Point{})
	saturate(m, 10, 10)
	target := geometry.Point{X: 10, Y: 10}

	// Robot at map (2, 10) looking along +x; the point sits 8 cells ahead.
	point := geometry.Point{X: 8, Y: 0}
	start := geometry.Pose{X: 2 * resolution, Y: 10 * resolution, Theta: 0.12}

	before := landing(m, start, point)
	initialDist := math.Hypot(before.X-target.X, before.Y-target.Y)

	got := New[*gridmap.LogOddsGridMap]().Match(start, []geometry.Point{point}, m, 20)
	after := landing(m, got, point)
	dist := math.Hypot(after.X-target.X, after.Y-target.Y)

	if dist >= 1 {
		t.Errorf("point landed %v cells from the occupied cell (at %v)", dist, after)
	}
	if dist >= initialDist {
		t.Errorf("match did not improve: %v -> %v", initialDist, dist)
	}
	if got.Theta < 0 || got.Theta >= 2*math.Pi {
		t.Errorf("Theta %v not normalised", got.Theta)
	}
}

func TestMatch_PointsOutsideGridReturnInitialPose(t *testing.T) {
	m := newMap(20, 20, geometry.Point{})
	saturate(m, 10, 10)
	pose := geometry.Pose{X: 0.5, Y: 0.5, Theta: 0.3}
	points := []geometry.Point{{X: 100, Y: 100}, {X: -50, Y: 3}}

	res := New[*gridmap.LogOddsGridMap]().MatchDetailed(pose, points, m, 10)
	if !res.Stalled || res.Steps != 0 {
		t.Errorf("expected immediate stall, got %+v", res)
	}
	if math.Abs(res.Pose.X-pose.X) > 1e-9 || math.Abs(res.Pose.Y-pose.Y) > 1e-9 || math.Abs(res.Pose.Theta-pose.Theta) > 1e-12 {
		t.Errorf("Pose = %+v, want %+v", res.Pose, pose)
	}
}

func TestMatch_UnknownMapDoesNotMove(t *testing.T) {
	m := newMap(20, 20, geometry.Point{})
	pose := geometry.Pose{X: 0.5, Y: 0.5, Theta: 1}
	got := New[*gridmap.LogOddsGridMap]().Match(pose, []geometry.Point{{X: 2, Y: 1}}, m, 5)
	if math.Abs(got.X-pose.X) > 1e-9 || math.Abs(got.Y-pose.Y) > 1e-9 || math.Abs(got.Theta-pose.Theta) > 1e-12 {
		t.Errorf("Match() = %+v, want %+v", got, pose)
	}
}

func TestMatch_CornerRecoversOffset(t *testing.T) {
	// World (0, 0) maps to cell (30, 30).
	m := newMap(60, 60, geometry.Point{X: 1.5, Y: 1.5})
	for y := 20; y <= 40; y++ {
		saturate(m, 40, y)
	}
	for x := 20; x <= 40; x++ {
		saturate(m, x, 40)
	}

	var points []geometry.Point
	for dy := -10; dy <= 10; dy++ {
		points = append(points, geometry.Point{X: 10, Y: float64(dy)})
	}
	for dx := -10; dx < 10; dx++ {
		points = append(points, geometry.Point{X: float64(dx), Y: 10})
	}

	start := geometry.Pose{X: 0.03, Y: -0.02, Theta: 0.03}
	got := New[*gridmap.LogOddsGridMap]().Match(start, points, m, 10)

	if e := math.Hypot(got.X, got.Y); e > 0.02 {
		t.Errorf("translation error %v m (pose %+v)", e, got)
	}
	if e := math.Abs(geometry.AngleDiff(got.Theta, 0)); e > 0.015 {
		t.Errorf("rotation error %v rad (pose %+v)", e, got)
	}
}

func TestSolve(t *testing.T) {
	t.Run("full rank matches inverse", func(t *testing.T) {
		h := [3][3]float64{{4, 1, 0}, {1, 3, 0.5}, {0, 0.5, 2}}
		want := [3]float64{1, -2, 0.5}
		var b [3]float64
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				b[i] += h[i][j] * want[j]
			}
		}
		got, ok := solve(h, b)
		if !ok {
			t.Fatal("solve failed")
		}
		for i := range want {
			if math.Abs(got[i]-want[i]) > 1e-9 {
				t.Errorf("x[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("rank one gives minimum norm", func(t *testing.T) {
		g := [3]float64{0.5, -0.5, 2}
		var h [3][3]float64
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				h[i][j] = g[i] * g[j]
			}
		}
		a := 0.3
		b := [3]float64{g[0] * a, g[1] * a, g[2] * a}
		got, ok := solve(h, b)
		if !ok {
			t.Fatal("solve failed")
		}
		n2 := g[0]*g[0] + g[1]*g[1] + g[2]*g[2]
		for i := range g {
			if want := g[i] * a / n2; math.Abs(got[i]-want) > 1e-9 {
				t.Errorf("x[%d] = %v, want %v", i, got[i], want)
			}
		}
	})

	t.Run("zero matrix", func(t *testing.T) {
		if _, ok := solve([3][3]float64{}, [3]float64{1, 2, 3}); ok {
			t.Error("expected failure for zero matrix")
		}
	})
}

func TestClamp(t *testing.T) {
	if clamp(0.5, -MaxRotationStep, MaxRotationStep) != MaxRotationStep {
		t.Error("upper clamp")
	}
	if clamp(-0.5, -MaxRotationStep, MaxRotationStep) != -MaxRotationStep {
		t.Error("lower clamp")
	}
	if clamp(0.1, -MaxRotationStep, MaxRotationStep) != 0.1 {
		t.Error("passthrough")
	}
}

// uniformField reports the same sample everywhere and uses map coordinates
// as world coordinates.
type uniformField struct {
	sample gridmap.Interpolation
}

func (u uniformField) ToMapCoordinate(p geometry.Point) geometry.Point   { return p }
func (u uniformField) ToWorldCoordinate(p geometry.Point) geometry.Point { return p }
func (u uniformField) InterpolatedValue(geometry.Point, bool) gridmap.Interpolation {
	return u.sample
}

func TestMatch_RotationStepIsClamped(t *testing.T) {
	// One point at (1, 0) with gradient (g, g) gives H = J·Jᵀ with J = (g, g, g),
	// so the minimum-norm step is (1-value)/(3g) on every axis.
	const g = 0.1
	tests := []struct {
		name      string
		value     float64
		wantTheta float64
	}{
		{"positive residual", 0, MaxRotationStep},
		{"negative residual", 2, -MaxRotationStep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := uniformField{sample: gridmap.Interpolation{Value: tt.value, DX: g, DY: g}}
			res := New[uniformField]().MatchDetailed(geometry.Pose{}, []geometry.Point{{X: 1, Y: 0}}, m, 0)

			if res.Steps != 1 || res.Stalled {
				t.Fatalf("expected one applied step, got %+v", res)
			}
			unclamped := (1 - tt.value) / (3 * g)
			if math.Abs(res.Pose.X-unclamped) > 1e-9 || math.Abs(res.Pose.Y-unclamped) > 1e-9 {
				t.Errorf("translation = (%v, %v), want %v on both axes", res.Pose.X, res.Pose.Y, unclamped)
			}
			if d := geometry.AngleDiff(res.Pose.Theta, tt.wantTheta); math.Abs(d) > 1e-12 {
				t.Errorf("Theta = %v, want %v (unclamped %v)", res.Pose.Theta, tt.wantTheta, unclamped)
			}
		})
	}
}

func TestMatch_SingleZeroDiagonalStalls(t *testing.T) {
	tests := []struct {
		name   string
		sample gridmap.Interpolation
	}{
		{"no x gradient", gridmap.Interpolation{Value: 0.2, DX: 0, DY: 0.7}},
		{"no y gradient", gridmap.Interpolation{Value: 0.2, DX: 0.7, DY: 0}},
	}
	points := []geometry.Point{{X: 3, Y: 1}, {X: -2, Y: 4}}
	pose := geometry.Pose{X: 1, Y: 2, Theta: 0.5}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New[uniformField]().MatchDetailed(pose, points, uniformField{sample: tt.sample}, 10)
			if !res.Stalled || res.Steps != 0 {
				t.Errorf("expected immediate stall, got %+v", res)
			}
			if res.Pose != pose {
				t.Errorf("Pose = %+v, want %+v", res.Pose, pose)
			}
		})
	}
}
