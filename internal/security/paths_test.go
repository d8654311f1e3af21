package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWithinDirectoryAccepts(t *testing.T) {
	dir := t.TempDir()
	cases := []string{
		filepath.Join(dir, "scan_owABC123_20250808_120740_notes.txt"),
		filepath.Join(dir, "nested", "file.csv"), // not created yet
		dir,
	}
	for _, p := range cases {
		if err := WithinDirectory(p, dir); err != nil {
			t.Errorf("WithinDirectory(%q) = %v, want nil", p, err)
		}
	}
}

func TestWithinDirectoryRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	cases := []string{
		filepath.Join(dir, "..", "escape.csv"),
		filepath.Join(dir, "a", "..", "..", "escape.csv"),
		"/etc/passwd",
	}
	for _, p := range cases {
		if err := WithinDirectory(p, dir); err == nil {
			t.Errorf("WithinDirectory(%q) = nil, want error", p)
		}
	}
}

func TestWithinDirectoryRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	dir := t.TempDir()
	link := filepath.Join(dir, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := WithinDirectory(filepath.Join(link, "new.csv"), dir); err == nil {
		t.Error("symlinked path escaped the directory unnoticed")
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	cases := []struct{ in, want string }{
		{"owABC123", "owABC123"},
		{"ow ABC/123", "ow_ABC_123"},
		{"../../etc", "etc"},
		{"", "unknown"},
		{"///", "unknown"},
		{"sub_ject", "sub_ject"},
	}
	for _, tc := range cases {
		if got := SanitizeIdentifier(tc.in); got != tc.want {
			t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
