// Package mapping runs the match-then-update loop that turns a stream of
// laser scans into a pose track and an occupancy grid.
package mapping

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gridslam/internal/config"
	"github.com/banshee-data/gridslam/internal/geometry"
	"github.com/banshee-data/gridslam/internal/monitoring"
	"github.com/banshee-data/gridslam/internal/slam/gridmap"
	"github.com/banshee-data/gridslam/internal/slam/scanlog"
	"github.com/banshee-data/gridslam/internal/slam/scanmatch"
	"github.com/banshee-data/gridslam/internal/timeutil"
)

var logf = monitoring.Component("mapping")

// maxPoseHistory bounds the in-memory pose track kept for the debug surface.
const maxPoseHistory = 10000

// PoseRecord is one entry of the pose track.
type PoseRecord struct {
	Scan       int           `json:"scan"`
	Pose       geometry.Pose `json:"pose"`
	At         time.Time     `json:"at"`
	Matched    bool          `json:"matched"`
	MapUpdated bool          `json:"map_updated"`
}

// Update describes the outcome of processing one scan.
type Update struct {
	Scan       int
	Pose       geometry.Pose
	Points     int
	Matched    bool
	Steps      int
	MapUpdated bool
}

// Stats summarises a session.
type Stats struct {
	Scans      int           `json:"scans"`
	MapUpdates int           `json:"map_updates"`
	Pose       geometry.Pose `json:"pose"`
	Grid       gridmap.Stats `json:"grid"`
}

// Session owns one occupancy grid and the current pose estimate. It is safe
// for concurrent use: ProcessScan takes the write lock, readers go through
// WithMap and the accessor methods.
type Session struct {
	mu sync.RWMutex

	id      string
	cfg     *config.SLAMConfig
	clock   timeutil.Clock
	grid    *gridmap.LogOddsGridMap
	matcher *scanmatch.Matcher[*gridmap.LogOddsGridMap]

	pose           geometry.Pose
	lastUpdatePose geometry.Pose
	scans          int
	mapUpdates     int
	poses          []PoseRecord

	// marks is per-update scratch space indexed like the grid cells.
	marks   []uint8
	touched []int
}

// NewSession builds an empty grid from cfg. A nil clock uses wall time.
func NewSession(cfg *config.SLAMConfig, clock timeutil.Clock) *Session {
	if cfg == nil {
		cfg = config.EmptySLAMConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	size := gridmap.Size{Width: cfg.GetMapWidth(), Height: cfg.GetMapHeight()}
	grid := gridmap.NewLogOddsGridMap(
		gridmap.NewLogOddsCellContainer(size),
		cfg.GetResolution(),
		cfg.Origin(),
		cfg.GetUpdateFactorOccupied(),
		cfg.GetUpdateFactorFree(),
	)
	return &Session{
		cfg:     cfg,
		clock:   clock,
		grid:    grid,
		matcher: scanmatch.New[*gridmap.LogOddsGridMap](),
		id:      uuid.NewString(),
		marks:   make([]uint8, size.Area()),
	}
}

// ProcessLaserScan filters scan by the configured laser range window and
// processes the remaining points.
func (s *Session) ProcessLaserScan(scan *scanlog.LaserScan) Update {
	return s.ProcessScan(scan.ToPoints(s.cfg.GetLaserMinDist(), s.cfg.GetLaserMaxDist()))
}

// ProcessScan matches points (sensor frame, meters) against the map and
// integrates them when the pose has moved far enough since the last map
// update. The first scan is integrated at the start pose without matching.
func (s *Session) ProcessScan(points []geometry.Point) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scans++
	u := Update{Scan: s.scans, Points: len(points)}

	scale := 1 / s.grid.Resolution()
	scaled := make([]geometry.Point, len(points))
	for i, p := range points {
		scaled[i] = geometry.Point{X: p.X * scale, Y: p.Y * scale}
	}

	first := s.mapUpdates == 0
	if !first && len(scaled) > 0 {
		res := s.matcher.MatchDetailed(s.pose, scaled, s.grid, s.cfg.GetMaxIterations())
		s.pose = res.Pose
		u.Matched = true
		u.Steps = res.Steps
	}

	if len(scaled) > 0 && (first || s.movedSinceUpdate()) {
		if s.integrate(s.pose, scaled) {
			s.lastUpdatePose = s.pose
			s.mapUpdates++
			u.MapUpdated = true
			if first {
				logf("initial scan integrated with %d points at %+v", len(scaled), s.pose)
			}
		}
	}

	u.Pose = s.pose
	s.poses = append(s.poses, PoseRecord{
		Scan:       u.Scan,
		Pose:       u.Pose,
		At:         s.clock.Now(),
		Matched:    u.Matched,
		MapUpdated: u.MapUpdated,
	})
	if len(s.poses) > maxPoseHistory {
		s.poses = append(s.poses[:0:0], s.poses[len(s.poses)-maxPoseHistory:]...)
	}
	return u
}

func (s *Session) movedSinceUpdate() bool {
	dist := math.Hypot(s.pose.X-s.lastUpdatePose.X, s.pose.Y-s.lastUpdatePose.Y)
	if dist > s.cfg.GetMapUpdateDistanceThresh() {
		return true
	}
	return math.Abs(geometry.AngleDiff(s.pose.Theta, s.lastUpdatePose.Theta)) > s.cfg.GetMapUpdateAngleThresh()
}

const (
	markNone uint8 = iota
	markFree
	markOccupied
)

// integrate ray-traces points (map units, sensor frame) from pose into the
// grid. Each cell changes at most once per scan and an endpoint wins over a
// ray passing through it. It returns false when the sensor is off the grid.
func (s *Session) integrate(pose geometry.Pose, points []geometry.Point) bool {
	origin := s.grid.ToMapCoordinate(pose.Position())
	bx, by := roundCell(origin.X), roundCell(origin.Y)
	if !s.grid.HasValue(bx, by) {
		logf("sensor at %+v is outside the map, scan not integrated", pose)
		return false
	}

	width := s.grid.Width()
	mark := func(x, y int, m uint8) {
		idx := y*width + x
		if s.marks[idx] == markNone {
			s.touched = append(s.touched, idx)
		}
		s.marks[idx] = m
	}

	transform := geometry.NewPose(origin, pose.Theta).Transform()
	ends := make([][2]int, len(points))
	for i, p := range points {
		e := transform.Apply(p)
		ex, ey := roundCell(e.X), roundCell(e.Y)
		ends[i] = [2]int{ex, ey}
		if s.grid.HasValue(ex, ey) {
			mark(ex, ey, markOccupied)
		}
	}

	for _, e := range ends {
		bresenham(bx, by, e[0], e[1], func(x, y int) bool {
			if !s.grid.HasValue(x, y) {
				// The ray starts inside the grid, so once it leaves it
				// never comes back.
				return false
			}
			if s.marks[y*width+x] == markNone {
				mark(x, y, markFree)
			}
			return true
		})
	}

	for _, idx := range s.touched {
		x, y := idx%width, idx/width
		switch s.marks[idx] {
		case markFree:
			s.grid.MarkFree(x, y)
		case markOccupied:
			s.grid.MarkOccupied(x, y)
		}
		s.marks[idx] = markNone
	}
	s.touched = s.touched[:0]
	return true
}

func roundCell(v float64) int {
	return int(math.Floor(v + 0.5))
}

// bresenham visits the cells of the line from (x0, y0) towards (x1, y1),
// excluding the end cell, until visit returns false.
func bresenham(x0, y0, x1, y1 int, visit func(x, y int) bool) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for x0 != x1 || y0 != y1 {
		if !visit(x0, y0) {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Pose returns the current pose estimate.
func (s *Session) Pose() geometry.Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose
}

// Poses returns a copy of the recorded pose track, oldest first.
func (s *Session) Poses() []PoseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PoseRecord, len(s.poses))
	copy(out, s.poses)
	return out
}

// Stats returns counters and the current pose.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Scans:      s.scans,
		MapUpdates: s.mapUpdates,
		Pose:       s.pose,
		Grid:       s.grid.Stats(),
	}
}

// ID returns the session identifier used when persisting snapshots.
func (s *Session) ID() string { return s.id }

// Config returns the configuration the session was built with.
func (s *Session) Config() *config.SLAMConfig { return s.cfg }

// WithMap runs fn with the grid under the read lock. fn must not retain the
// map or call back into the session's write paths.
func (s *Session) WithMap(fn func(m *gridmap.LogOddsGridMap)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.grid)
}
