package hls

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// RoutePrefix is the public segment route for an asset; every synthesized
// or rewritten segment reference uses this form.
func RoutePrefix(assetID string) string {
	return "/stream/movies/" + assetID + "/"
}

// Synthesize builds a complete VOD manifest from the asset duration
// alone. The referenced segments do not need to exist yet; providers
// that populate the cache lazily rely on that.
func Synthesize(assetID string, totalSeconds, segmentDuration float64) string {
	targetDuration := int(math.Ceil(segmentDuration))
	segmentCount := int(math.Ceil(totalSeconds / segmentDuration))
	if segmentCount < 1 {
		segmentCount = 1
	}

	basePath := RoutePrefix(assetID)

	playlist := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		fmt.Sprintf("#EXT-X-TARGETDURATION:%d", targetDuration),
		"#EXT-X-MEDIA-SEQUENCE:0",
		"#EXT-X-PLAYLIST-TYPE:VOD",
	}

	for i := 0; i < segmentCount; i++ {
		duration := segmentDuration
		if i == segmentCount-1 {
			// clamp the trailing entry so rounding never emits a
			// zero or negative duration
			remaining := totalSeconds - segmentDuration*float64(i)
			duration = math.Max(remaining, 0.1)
		}

		playlist = append(playlist,
			fmt.Sprintf("#EXTINF:%.3f,", duration),
			basePath+SegmentName(i),
		)
	}

	playlist = append(playlist, "#EXT-X-ENDLIST")
	return strings.Join(playlist, "\n")
}

// bare segment or key file reference produced by the encoder
var bareMediaLineRegex = regexp.MustCompile(`^(?i)[a-zA-Z0-9_.-]+\.(ts|key)$`)

// Rewrite prefixes every bare media file reference in an encoder-written
// manifest with the asset's public segment route. Directives, blank lines
// and absolute URLs pass through unchanged.
func Rewrite(assetID, raw string) string {
	basePath := RoutePrefix(assetID)
	lines := strings.Split(raw, "\n")

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if bareMediaLineRegex.MatchString(trimmed) {
			lines[i] = basePath + trimmed
		}
	}

	return strings.Join(lines, "\n")
}
