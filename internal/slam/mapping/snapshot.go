package mapping

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/gridslam/internal/geometry"
	"github.com/banshee-data/gridslam/internal/slam/gridmap"
)

// ErrSnapshotMismatch is returned by Restore when a snapshot was taken from a
// grid with different geometry.
var ErrSnapshotMismatch = errors.New("snapshot does not match session grid")

// originTolerance is how far, in meters, a snapshot origin may drift from the
// grid's before Restore rejects it.
const originTolerance = 1e-6

// Snapshot is a persisted copy of a session's grid and pose.
type Snapshot struct {
	SnapshotID     *int64  // set by the store after insert
	SessionID      string  // session_id TEXT NOT NULL
	TakenUnixNanos int64   // taken_unix_nanos INTEGER NOT NULL
	Width          int     // width INTEGER NOT NULL
	Height         int     // height INTEGER NOT NULL
	Resolution     float64 // resolution REAL NOT NULL
	OriginX        float64 // origin_x REAL NOT NULL, world position of map (0, 0)
	OriginY        float64 // origin_y REAL NOT NULL
	PoseX          float64 // pose_x REAL NOT NULL
	PoseY          float64 // pose_y REAL NOT NULL
	PoseTheta      float64 // pose_theta REAL NOT NULL
	ScanCount      int     // scan_count INTEGER NOT NULL
	GridBlob       []byte  // grid_blob BLOB NOT NULL (gzip gob of log-odds)
	SnapshotReason string  // snapshot_reason TEXT ('periodic_flush', 'final_flush', 'manual')
}

// Pose returns the pose stored in the snapshot.
func (s *Snapshot) Pose() geometry.Pose {
	return geometry.Pose{X: s.PoseX, Y: s.PoseY, Theta: s.PoseTheta}
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	InsertSnapshot(s *Snapshot) (int64, error)
}

// Snapshot captures the grid and pose under the read lock.
func (s *Session) Snapshot(reason string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, err := gridmap.SerializeLogOdds(s.grid)
	if err != nil {
		return nil, err
	}
	origin := s.grid.ToWorldCoordinate(geometry.Point{})
	return &Snapshot{
		SessionID:      s.id,
		TakenUnixNanos: s.clock.Now().UnixNano(),
		Width:          s.grid.Width(),
		Height:         s.grid.Height(),
		Resolution:     s.grid.Resolution(),
		OriginX:        origin.X,
		OriginY:        origin.Y,
		PoseX:          s.pose.X,
		PoseY:          s.pose.Y,
		PoseTheta:      s.pose.Theta,
		ScanCount:      s.scans,
		GridBlob:       blob,
		SnapshotReason: reason,
	}, nil
}

// Persist writes a snapshot of the session to store.
func (s *Session) Persist(store SnapshotStore, reason string) error {
	if s == nil || store == nil {
		return nil
	}
	snap, err := s.Snapshot(reason)
	if err != nil {
		return err
	}
	id, err := store.InsertSnapshot(snap)
	if err != nil {
		return err
	}
	snap.SnapshotID = &id

	st := s.Stats().Grid
	logf("persisted snapshot %d (%s): scans=%d occupied=%d free=%d",
		id, reason, snap.ScanCount, st.Occupied, st.Free)
	return nil
}

// Restore loads the grid and pose from snap. The session keeps its own id.
// The next scan is matched against the restored grid.
func (s *Session) Restore(snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Width != s.grid.Width() || snap.Height != s.grid.Height() {
		return fmt.Errorf("%w: size %dx%d, grid is %dx%d",
			ErrSnapshotMismatch, snap.Width, snap.Height, s.grid.Width(), s.grid.Height())
	}
	if snap.Resolution != s.grid.Resolution() {
		return fmt.Errorf("%w: resolution %v, grid is %v",
			ErrSnapshotMismatch, snap.Resolution, s.grid.Resolution())
	}
	origin := s.grid.ToWorldCoordinate(geometry.Point{})
	if math.Abs(snap.OriginX-origin.X) > originTolerance || math.Abs(snap.OriginY-origin.Y) > originTolerance {
		return fmt.Errorf("%w: origin (%v, %v), grid is (%v, %v)",
			ErrSnapshotMismatch, snap.OriginX, snap.OriginY, origin.X, origin.Y)
	}
	if err := gridmap.RestoreLogOdds(s.grid, snap.GridBlob); err != nil {
		return err
	}

	s.pose = snap.Pose()
	s.lastUpdatePose = s.pose
	s.scans = snap.ScanCount
	if s.mapUpdates == 0 {
		s.mapUpdates = 1
	}
	logf("restored snapshot from session %s at %+v (%d scans)", snap.SessionID, s.pose, snap.ScanCount)
	return nil
}
