package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/gridslam/internal/testutil"
)

func TestDefaultSLAMConfig(t *testing.T) {
	cfg := DefaultSLAMConfig()

	if cfg.Resolution == nil || *cfg.Resolution != 0.05 {
		t.Errorf("Expected Resolution 0.05, got %v", cfg.Resolution)
	}
	if cfg.MapWidth == nil || *cfg.MapWidth != 1024 {
		t.Errorf("Expected MapWidth 1024, got %v", cfg.MapWidth)
	}
	if cfg.SnapshotInterval == nil || *cfg.SnapshotInterval != "30s" {
		t.Errorf("Expected SnapshotInterval '30s', got %v", cfg.SnapshotInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults failed validation: %v", err)
	}

	if cfg.GetUpdateFactorOccupied() != 0.9 {
		t.Errorf("GetUpdateFactorOccupied() = %f, want 0.9", cfg.GetUpdateFactorOccupied())
	}
	if cfg.GetUpdateFactorFree() != 0.4 {
		t.Errorf("GetUpdateFactorFree() = %f, want 0.4", cfg.GetUpdateFactorFree())
	}
	if cfg.GetMaxIterations() != 10 {
		t.Errorf("GetMaxIterations() = %d, want 10", cfg.GetMaxIterations())
	}
}

func TestDefaultsFileMatchesBuiltins(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	builtin := EmptySLAMConfig()

	if fromFile.GetResolution() != builtin.GetResolution() {
		t.Errorf("resolution: file %v, builtin %v", fromFile.GetResolution(), builtin.GetResolution())
	}
	if fromFile.GetMapWidth() != builtin.GetMapWidth() || fromFile.GetMapHeight() != builtin.GetMapHeight() {
		t.Errorf("map size differs")
	}
	if fromFile.GetMaxIterations() != builtin.GetMaxIterations() {
		t.Errorf("max_iterations: file %d, builtin %d", fromFile.GetMaxIterations(), builtin.GetMaxIterations())
	}
	if fromFile.GetSnapshotInterval() != builtin.GetSnapshotInterval() {
		t.Errorf("snapshot_interval: file %v, builtin %v", fromFile.GetSnapshotInterval(), builtin.GetSnapshotInterval())
	}
}

func TestLoadSLAMConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "slam.json")

	testJSON := `{
  "resolution": 0.1,
  "map_width": 256,
  "update_factor_free": 0.35,
  "max_iterations": 4,
  "snapshot_interval": "2m"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadSLAMConfig(configPath)
	if err != nil {
		t.Fatalf("LoadSLAMConfig failed: %v", err)
	}

	if cfg.GetResolution() != 0.1 {
		t.Errorf("GetResolution() = %f, want 0.1", cfg.GetResolution())
	}
	if cfg.GetMapWidth() != 256 {
		t.Errorf("GetMapWidth() = %d, want 256", cfg.GetMapWidth())
	}
	// Omitted fields keep their defaults.
	if cfg.GetMapHeight() != 1024 {
		t.Errorf("GetMapHeight() = %d, want 1024", cfg.GetMapHeight())
	}
	if cfg.GetUpdateFactorOccupied() != 0.9 {
		t.Errorf("GetUpdateFactorOccupied() = %f, want 0.9", cfg.GetUpdateFactorOccupied())
	}
	if cfg.GetMaxIterations() != 4 {
		t.Errorf("GetMaxIterations() = %d, want 4", cfg.GetMaxIterations())
	}
	if cfg.GetSnapshotInterval() != 2*time.Minute {
		t.Errorf("GetSnapshotInterval() = %v, want 2m", cfg.GetSnapshotInterval())
	}
}

func TestLoadSLAMConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("slam.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "nope.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"invalid resolution", write("res.json", `{"resolution": 0}`), "resolution must be positive"},
		{"invalid occupied", write("occ.json", `{"update_factor_occupied": 0.3}`), "update_factor_occupied"},
		{"invalid free", write("free.json", `{"update_factor_free": 0.7}`), "update_factor_free"},
		{"invalid duration", write("dur.json", `{"snapshot_interval": "soon"}`), "snapshot_interval"},
		{"laser range", write("laser.json", `{"laser_min_dist": 5, "laser_max_dist": 2}`), "laser_max_dist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSLAMConfig(tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSLAMConfig_TooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.json")
	if err := os.WriteFile(p, make([]byte, 1024*1024+1), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSLAMConfig(p); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected too large error, got %v", err)
	}
}

func TestSLAMConfig_Origin(t *testing.T) {
	cfg := EmptySLAMConfig()
	cfg.MapWidth = ptrInt(200)
	cfg.MapHeight = ptrInt(100)
	cfg.MapStartX = ptrFloat64(0.25)

	o := cfg.Origin()
	testutil.AssertInDelta(t, "Origin().X", o.X, 2.5, 1e-12)
	testutil.AssertInDelta(t, "Origin().Y", o.Y, 2.5, 1e-12)
}
