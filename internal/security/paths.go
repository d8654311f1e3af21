// Package security guards file paths built from caller-supplied scan
// and subject identifiers.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// WithinDirectory reports an error when path, after cleaning and
// symlink resolution, escapes dir. Scan identifiers come from UI
// callers, so anything derived from one is checked before the file is
// touched.
func WithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}

	canonDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}
	canonPath := resolveExisting(absPath)

	rel, err := filepath.Rel(canonDir, canonPath)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s escapes %s", path, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in path. The target may not exist
// yet, so on failure it walks up to the nearest existing parent,
// resolves that, and rejoins the remainder. This blocks traversal
// through a symlinked intermediate directory.
func resolveExisting(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	parent := absPath
	for {
		next := filepath.Dir(parent)
		if next == parent {
			return absPath
		}
		parent = next
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, rerr := filepath.Rel(parent, absPath)
			if rerr != nil {
				return absPath
			}
			return filepath.Join(resolved, rel)
		}
	}
}

// SanitizeIdentifier reduces an arbitrary string to characters safe to
// embed in a scan filename: ASCII letters, digits, dot, underscore and
// dash. Runs of other characters collapse to one underscore. Returns
// "unknown" when nothing survives.
func SanitizeIdentifier(s string) string {
	const maxLen = 64
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
