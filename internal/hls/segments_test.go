package hls

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentIndex(t *testing.T) {
	cases := []struct {
		name  string
		index int
		ok    bool
	}{
		{"segment_00000.ts", 0, true},
		{"segment_00042.ts", 42, true},
		{"segment_99999.ts", 99999, true},
		{"SEGMENT_00001.TS", 1, true},
		{"segment_0001.ts", 0, false},
		{"segment_000001.ts", 0, false},
		{"segment_00001.mp4", 0, false},
		{"index.m3u8", 0, false},
		{"segment_00001.ts.tmp", 0, false},
		{"../segment_00001.ts", 0, false},
		{"", 0, false},
	}

	for _, tc := range cases {
		index, ok := SegmentIndex(tc.name)
		require.Equal(t, tc.ok, ok, tc.name)
		if tc.ok {
			require.Equal(t, tc.index, index, tc.name)
		}
	}
}

func TestSegmentName_RoundTrip(t *testing.T) {
	for _, i := range []int{0, 7, 123, 99999} {
		index, ok := SegmentIndex(SegmentName(i))
		require.True(t, ok)
		require.Equal(t, i, index)
	}
}

func TestResolveSegmentPath(t *testing.T) {
	dir := t.TempDir()

	path, ok := ResolveSegmentPath(dir, "segment_00003.ts")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "segment_00003.ts"), path)
	require.True(t, strings.HasPrefix(path, dir+string(filepath.Separator)))

	for _, name := range []string{
		"../../etc/passwd",
		"..\\segment_00001.ts",
		"segment_00001.ts/..",
		"/etc/passwd",
		"playlist.m3u8",
		"segment_1.ts",
	} {
		_, ok := ResolveSegmentPath(dir, name)
		require.False(t, ok, name)
	}
}
