package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	outDir := filepath.Join(tmpDir, "products")
	elsewhere := filepath.Join(tmpDir, "elsewhere")
	for _, d := range []string{outDir, elsewhere} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(elsewhere, filepath.Join(outDir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"plain product", filepath.Join(outDir, "20240301arm0012.sqlite"), false},
		{"nested product", filepath.Join(outDir, "2024", "x.sqlite"), false},
		{"parent escape", filepath.Join(outDir, "..", "x.sqlite"), true},
		{"symlink escape", filepath.Join(outDir, "link", "x.sqlite"), true},
		{"absolute elsewhere", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, outDir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"20240301arm0012":       "20240301arm0012",
		"calibration_2024ARM":   "calibration_2024ARM",
		"../../etc/passwd":      "etc_passwd",
		"station id/with space": "station_id_with_space",
		"a__b":                  "a_b",
		"":                      "unknown",
		"...":                   "unknown",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
