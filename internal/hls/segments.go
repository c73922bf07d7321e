package hls

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// segmentNameRegex is the only accepted segment file name shape:
// zero-padded 5-digit index, .ts extension.
var segmentNameRegex = regexp.MustCompile(`^(?i)segment_([0-9]{5})\.ts$`)

// SegmentName formats the canonical file name for a segment index.
func SegmentName(index int) string {
	return fmt.Sprintf("segment_%05d.ts", index)
}

// SegmentIndex parses the index out of a segment file name.
func SegmentIndex(name string) (int, bool) {
	matches := segmentNameRegex.FindStringSubmatch(name)
	if len(matches) != 2 {
		return 0, false
	}

	index, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, false
	}

	return index, true
}

// ValidSegmentName reports whether name matches the fixed segment pattern.
func ValidSegmentName(name string) bool {
	return segmentNameRegex.MatchString(name)
}

// ResolveSegmentPath resolves a requested segment name to an absolute
// path strictly inside dir. Names outside the fixed pattern, or whose
// resolution escapes dir, yield ok == false and must never be served.
func ResolveSegmentPath(dir, name string) (string, bool) {
	if !segmentNameRegex.MatchString(name) {
		return "", false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}

	resolved, err := filepath.Abs(filepath.Join(absDir, name))
	if err != nil {
		return "", false
	}

	if !strings.HasPrefix(resolved, absDir+string(filepath.Separator)) {
		return "", false
	}

	return resolved, true
}
