package connector

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lucerna-optics/flowscan/internal/security"
)

// ScanDetails describes one recorded scan in the data directory.
type ScanDetails struct {
	SubjectID string
	Timestamp string
	MaskHex   string
	LeftPath  string
	RightPath string
	NotesPath string
	Notes     string
}

var maskSuffixRe = regexp.MustCompile(`_mask([0-9A-Fa-f]+)\.csv$`)

// ScanList returns the scan identifiers found in the data directory,
// like "owABC123_20250808_120740", sorted by timestamp descending. A
// scan is identified by its notes file.
func (c *Connector) ScanList() []string {
	dir := c.Directory()
	matches, err := filepath.Glob(filepath.Join(dir, "scan_*_notes.txt"))
	if err != nil {
		return nil
	}

	var ids []string
	for _, m := range matches {
		stem := strings.TrimSuffix(filepath.Base(m), ".txt")
		stem = strings.TrimPrefix(stem, "scan_")
		stem = strings.TrimSuffix(stem, "_notes")
		ids = append(ids, stem)
	}

	// sort on the timestamp portion after the subject ID
	tsKey := func(s string) string {
		if i := strings.Index(s, "_"); i >= 0 {
			return s[i+1:]
		}
		return s
	}
	sort.Slice(ids, func(i, j int) bool {
		return tsKey(ids[i]) > tsKey(ids[j])
	})
	return ids
}

// ScanDetailsFor resolves one scan ID (as returned by ScanList) to its
// file paths, camera mask and notes.
func (c *Connector) ScanDetailsFor(scanID string) (ScanDetails, bool) {
	i := strings.Index(scanID, "_")
	if i < 0 {
		return ScanDetails{}, false
	}
	dir := c.Directory()
	notesPath := filepath.Join(dir, "scan_"+scanID+"_notes.txt")
	// scan IDs arrive from UI callers; refuse anything that resolves
	// outside the data directory
	if err := security.WithinDirectory(notesPath, dir); err != nil {
		Logf("[connector] rejected scan ID %q: %v", scanID, err)
		return ScanDetails{}, false
	}
	details := ScanDetails{
		SubjectID: scanID[:i],
		Timestamp: scanID[i+1:],
		NotesPath: notesPath,
	}

	for _, side := range []string{"left", "right"} {
		matches, _ := filepath.Glob(filepath.Join(dir, "scan_"+scanID+"_"+side+"_mask*.csv"))
		if len(matches) == 0 {
			continue
		}
		if side == "left" {
			details.LeftPath = matches[0]
		} else {
			details.RightPath = matches[0]
		}
		if details.MaskHex == "" {
			if m := maskSuffixRe.FindStringSubmatch(matches[0]); m != nil {
				details.MaskHex = m[1]
			}
		}
	}

	if data, err := os.ReadFile(details.NotesPath); err == nil {
		details.Notes = string(data)
	}
	return details, true
}
