package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/gridslam/internal/testutil"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", filepath.Join(base, "map.pgm"), false},
		{"nested not yet created", filepath.Join(base, "a", "b", "map.yaml"), false},
		{"dot dot escape", filepath.Join(base, "..", "map.pgm"), true},
		{"sneaky escape", filepath.Join(base, "a", "..", "..", "etc", "passwd"), true},
		{"the directory itself", base, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, base)
			if tt.wantErr {
				testutil.AssertError(t, err)
			} else {
				testutil.AssertNoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_Symlink(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(base, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(link, "map.pgm"), base); err == nil {
		t.Error("expected error for path through symlink leaving the directory")
	}
}
