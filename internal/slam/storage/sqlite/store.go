package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/gridslam/internal/config"
	"github.com/banshee-data/gridslam/internal/geometry"
	"github.com/banshee-data/gridslam/internal/monitoring"
	"github.com/banshee-data/gridslam/internal/slam/mapping"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSnapshotNotFound is returned when no snapshot matches a query.
var ErrSnapshotNotFound = errors.New("snapshot not found")

var logf = monitoring.Component("sqlite")

// Store is a SQLite-backed session store. It satisfies
// mapping.SnapshotStore.
type Store struct {
	*sql.DB
}

var _ mapping.SnapshotStore = (*Store)(nil)

// Open opens (creating if needed) the database at path, applies pragmas and
// runs pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations. No pending migrations is not an
// error.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty flag.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { logf("migrate: "+format, v...) }
func (migrateLogger) Verbose() bool                          { return false }

// CreateSession records a new session with the configuration it runs under.
func (s *Store) CreateSession(sessionID string, cfg *config.SLAMConfig, createdAt time.Time) error {
	if cfg == nil {
		cfg = config.EmptySLAMConfig()
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode session config: %w", err)
	}
	_, err = s.Exec(
		`INSERT INTO slam_session (session_id, created_unix_nanos, config_json) VALUES (?, ?, ?)`,
		sessionID, createdAt.UnixNano(), string(cfgJSON),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sessionID, err)
	}
	return nil
}

// SessionConfig returns the configuration stored with sessionID.
func (s *Store) SessionConfig(sessionID string) (*config.SLAMConfig, error) {
	var cfgJSON string
	err := s.QueryRow(`SELECT config_json FROM slam_session WHERE session_id = ?`, sessionID).Scan(&cfgJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	cfg := config.EmptySLAMConfig()
	if err := json.Unmarshal([]byte(cfgJSON), cfg); err != nil {
		return nil, fmt.Errorf("decode session config: %w", err)
	}
	return cfg, nil
}

// InsertSnapshot stores snap and returns the new snapshot_id.
func (s *Store) InsertSnapshot(snap *mapping.Snapshot) (int64, error) {
	if snap == nil {
		return 0, nil
	}
	res, err := s.Exec(
		`INSERT INTO slam_snapshot (session_id, taken_unix_nanos, width, height, resolution,
			origin_x, origin_y, pose_x, pose_y, pose_theta, scan_count, grid_blob, snapshot_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.TakenUnixNanos, snap.Width, snap.Height, snap.Resolution,
		snap.OriginX, snap.OriginY, snap.PoseX, snap.PoseY, snap.PoseTheta,
		snap.ScanCount, snap.GridBlob, snap.SnapshotReason,
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return res.LastInsertId()
}

// LatestSnapshot returns the most recent snapshot of sessionID, or of any
// session when sessionID is empty.
func (s *Store) LatestSnapshot(sessionID string) (*mapping.Snapshot, error) {
	query := `SELECT snapshot_id, session_id, taken_unix_nanos, width, height, resolution,
			origin_x, origin_y, pose_x, pose_y, pose_theta, scan_count, grid_blob, snapshot_reason
		FROM slam_snapshot`
	var args []interface{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY snapshot_id DESC LIMIT 1`

	var snap mapping.Snapshot
	var id int64
	err := s.QueryRow(query, args...).Scan(
		&id, &snap.SessionID, &snap.TakenUnixNanos, &snap.Width, &snap.Height, &snap.Resolution,
		&snap.OriginX, &snap.OriginY, &snap.PoseX, &snap.PoseY, &snap.PoseTheta,
		&snap.ScanCount, &snap.GridBlob, &snap.SnapshotReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.SnapshotID = &id
	return &snap, nil
}

// InsertPose appends one entry to a session's pose track.
func (s *Store) InsertPose(sessionID string, rec mapping.PoseRecord) error {
	_, err := s.Exec(
		`INSERT INTO slam_pose (session_id, scan, x, y, theta, at_unix_nanos, matched, map_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.Scan, rec.Pose.X, rec.Pose.Y, rec.Pose.Theta,
		rec.At.UnixNano(), rec.Matched, rec.MapUpdated,
	)
	if err != nil {
		return fmt.Errorf("insert pose %d: %w", rec.Scan, err)
	}
	return nil
}

// ListPoses returns a session's pose track ordered by scan number.
func (s *Store) ListPoses(sessionID string) ([]mapping.PoseRecord, error) {
	rows, err := s.Query(
		`SELECT scan, x, y, theta, at_unix_nanos, matched, map_updated
		 FROM slam_pose WHERE session_id = ? ORDER BY scan`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query poses: %w", err)
	}
	defer rows.Close()

	var out []mapping.PoseRecord
	for rows.Next() {
		var rec mapping.PoseRecord
		var at int64
		if err := rows.Scan(&rec.Scan, &rec.Pose.X, &rec.Pose.Y, &rec.Pose.Theta, &at, &rec.Matched, &rec.MapUpdated); err != nil {
			return nil, fmt.Errorf("scan pose: %w", err)
		}
		rec.At = time.Unix(0, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PoseAt returns the pose recorded for scan within sessionID.
func (s *Store) PoseAt(sessionID string, scan int) (geometry.Pose, error) {
	var p geometry.Pose
	err := s.QueryRow(
		`SELECT x, y, theta FROM slam_pose WHERE session_id = ? AND scan = ?`,
		sessionID, scan,
	).Scan(&p.X, &p.Y, &p.Theta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return geometry.Pose{}, fmt.Errorf("pose %d of session %s not found", scan, sessionID)
		}
		return geometry.Pose{}, fmt.Errorf("scan pose: %w", err)
	}
	return p, nil
}
