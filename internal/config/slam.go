package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/gridslam/internal/geometry"
)

// DefaultConfigPath is the path to the canonical SLAM defaults file.
const DefaultConfigPath = "config/slam.defaults.json"

// SLAMConfig is the root configuration for a mapping session. Every field is
// optional; the Get* accessors fall back to built-in defaults, so partial
// files are safe.
type SLAMConfig struct {
	// Grid geometry
	Resolution *float64 `json:"resolution,omitempty"` // meters per cell
	MapWidth   *int     `json:"map_width,omitempty"`  // cells
	MapHeight  *int     `json:"map_height,omitempty"` // cells
	// Fraction of the map extent at which the world origin sits.
	MapStartX *float64 `json:"map_start_x,omitempty"`
	MapStartY *float64 `json:"map_start_y,omitempty"`

	// Cell update probabilities
	UpdateFactorOccupied *float64 `json:"update_factor_occupied,omitempty"`
	UpdateFactorFree     *float64 `json:"update_factor_free,omitempty"`

	// Scan matching
	MaxIterations *int `json:"max_iterations,omitempty"`

	// Map update gating
	MapUpdateDistanceThresh *float64 `json:"map_update_distance_thresh,omitempty"` // meters
	MapUpdateAngleThresh    *float64 `json:"map_update_angle_thresh,omitempty"`    // radians

	// Laser filtering
	LaserMinDist *float64 `json:"laser_min_dist,omitempty"`
	LaserMaxDist *float64 `json:"laser_max_dist,omitempty"`

	// Persistence
	SnapshotInterval *string `json:"snapshot_interval,omitempty"` // duration string like "30s"
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptySLAMConfig returns a config with every field unset.
func EmptySLAMConfig() *SLAMConfig {
	return &SLAMConfig{}
}

// DefaultSLAMConfig returns a config with every field populated from the
// built-in defaults.
func DefaultSLAMConfig() *SLAMConfig {
	e := EmptySLAMConfig()
	return &SLAMConfig{
		Resolution:              ptrFloat64(e.GetResolution()),
		MapWidth:                ptrInt(e.GetMapWidth()),
		MapHeight:               ptrInt(e.GetMapHeight()),
		MapStartX:               ptrFloat64(e.GetMapStartX()),
		MapStartY:               ptrFloat64(e.GetMapStartY()),
		UpdateFactorOccupied:    ptrFloat64(e.GetUpdateFactorOccupied()),
		UpdateFactorFree:        ptrFloat64(e.GetUpdateFactorFree()),
		MaxIterations:           ptrInt(e.GetMaxIterations()),
		MapUpdateDistanceThresh: ptrFloat64(e.GetMapUpdateDistanceThresh()),
		MapUpdateAngleThresh:    ptrFloat64(e.GetMapUpdateAngleThresh()),
		LaserMinDist:            ptrFloat64(e.GetLaserMinDist()),
		LaserMaxDist:            ptrFloat64(e.GetLaserMaxDist()),
		SnapshotInterval:        ptrString(e.GetSnapshotInterval().String()),
	}
}

// LoadSLAMConfig loads a SLAMConfig from a JSON file. The file must have a
// .json extension and be under 1MB.
func LoadSLAMConfig(path string) (*SLAMConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySLAMConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *SLAMConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/slam/mapping/
		"../../../../" + DefaultConfigPath,    // from internal/slam/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSLAMConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every set field is in range.
func (c *SLAMConfig) Validate() error {
	if c.Resolution != nil && !(*c.Resolution > 0) {
		return fmt.Errorf("resolution must be positive, got %f", *c.Resolution)
	}
	if c.MapWidth != nil && *c.MapWidth <= 1 {
		return fmt.Errorf("map_width must be greater than 1, got %d", *c.MapWidth)
	}
	if c.MapHeight != nil && *c.MapHeight <= 1 {
		return fmt.Errorf("map_height must be greater than 1, got %d", *c.MapHeight)
	}
	if c.MapStartX != nil && (*c.MapStartX < 0 || *c.MapStartX > 1) {
		return fmt.Errorf("map_start_x must be between 0 and 1, got %f", *c.MapStartX)
	}
	if c.MapStartY != nil && (*c.MapStartY < 0 || *c.MapStartY > 1) {
		return fmt.Errorf("map_start_y must be between 0 and 1, got %f", *c.MapStartY)
	}
	if c.UpdateFactorOccupied != nil && !(*c.UpdateFactorOccupied > 0.5 && *c.UpdateFactorOccupied < 1) {
		return fmt.Errorf("update_factor_occupied must be in (0.5, 1), got %f", *c.UpdateFactorOccupied)
	}
	if c.UpdateFactorFree != nil && !(*c.UpdateFactorFree > 0 && *c.UpdateFactorFree < 0.5) {
		return fmt.Errorf("update_factor_free must be in (0, 0.5), got %f", *c.UpdateFactorFree)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be non-negative, got %d", *c.MaxIterations)
	}
	if c.MapUpdateDistanceThresh != nil && *c.MapUpdateDistanceThresh < 0 {
		return fmt.Errorf("map_update_distance_thresh must be non-negative, got %f", *c.MapUpdateDistanceThresh)
	}
	if c.MapUpdateAngleThresh != nil && *c.MapUpdateAngleThresh < 0 {
		return fmt.Errorf("map_update_angle_thresh must be non-negative, got %f", *c.MapUpdateAngleThresh)
	}
	if c.LaserMinDist != nil && *c.LaserMinDist < 0 {
		return fmt.Errorf("laser_min_dist must be non-negative, got %f", *c.LaserMinDist)
	}
	if c.LaserMaxDist != nil && *c.LaserMaxDist <= c.GetLaserMinDist() {
		return fmt.Errorf("laser_max_dist must exceed laser_min_dist (%f), got %f", c.GetLaserMinDist(), *c.LaserMaxDist)
	}
	if c.SnapshotInterval != nil && *c.SnapshotInterval != "" {
		if _, err := time.ParseDuration(*c.SnapshotInterval); err != nil {
			return fmt.Errorf("invalid snapshot_interval '%s': %w", *c.SnapshotInterval, err)
		}
	}
	return nil
}

// GetResolution returns the resolution value or the default.
func (c *SLAMConfig) GetResolution() float64 {
	if c.Resolution == nil {
		return 0.05
	}
	return *c.Resolution
}

// GetMapWidth returns the map_width value or the default.
func (c *SLAMConfig) GetMapWidth() int {
	if c.MapWidth == nil {
		return 1024
	}
	return *c.MapWidth
}

// GetMapHeight returns the map_height value or the default.
func (c *SLAMConfig) GetMapHeight() int {
	if c.MapHeight == nil {
		return 1024
	}
	return *c.MapHeight
}

// GetMapStartX returns the map_start_x value or the default.
func (c *SLAMConfig) GetMapStartX() float64 {
	if c.MapStartX == nil {
		return 0.5
	}
	return *c.MapStartX
}

// GetMapStartY returns the map_start_y value or the default.
func (c *SLAMConfig) GetMapStartY() float64 {
	if c.MapStartY == nil {
		return 0.5
	}
	return *c.MapStartY
}

// GetUpdateFactorOccupied returns the update_factor_occupied value or the default.
func (c *SLAMConfig) GetUpdateFactorOccupied() float64 {
	if c.UpdateFactorOccupied == nil {
		return 0.9
	}
	return *c.UpdateFactorOccupied
}

// GetUpdateFactorFree returns the update_factor_free value or the default.
func (c *SLAMConfig) GetUpdateFactorFree() float64 {
	if c.UpdateFactorFree == nil {
		return 0.4
	}
	return *c.UpdateFactorFree
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *SLAMConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 10
	}
	return *c.MaxIterations
}

// GetMapUpdateDistanceThresh returns the map_update_distance_thresh value or the default.
func (c *SLAMConfig) GetMapUpdateDistanceThresh() float64 {
	if c.MapUpdateDistanceThresh == nil {
		return 0.4
	}
	return *c.MapUpdateDistanceThresh
}

// GetMapUpdateAngleThresh returns the map_update_angle_thresh value or the default.
func (c *SLAMConfig) GetMapUpdateAngleThresh() float64 {
	if c.MapUpdateAngleThresh == nil {
		return 0.9
	}
	return *c.MapUpdateAngleThresh
}

// GetLaserMinDist returns the laser_min_dist value or the default.
func (c *SLAMConfig) GetLaserMinDist() float64 {
	if c.LaserMinDist == nil {
		return 0.4
	}
	return *c.LaserMinDist
}

// GetLaserMaxDist returns the laser_max_dist value or the default.
func (c *SLAMConfig) GetLaserMaxDist() float64 {
	if c.LaserMaxDist == nil {
		return 30.0
	}
	return *c.LaserMaxDist
}

// GetSnapshotInterval parses and returns the snapshot interval.
func (c *SLAMConfig) GetSnapshotInterval() time.Duration {
	if c.SnapshotInterval == nil || *c.SnapshotInterval == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.SnapshotInterval)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// Origin returns the world-frame origin argument for the grid map such that
// world (0, 0) lands at (map_start_x, map_start_y) of the map extent.
func (c *SLAMConfig) Origin() geometry.Point {
	res := c.GetResolution()
	return geometry.Point{
		X: c.GetMapStartX() * float64(c.GetMapWidth()) * res,
		Y: c.GetMapStartY() * float64(c.GetMapHeight()) * res,
	}
}
