package transcoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexstream/server/internal/config"
)

func testConfig() *config.Stream {
	return &config.Stream{
		SegmentDuration: 4,
		WindowSegments:  6,
		FFmpeg: config.FFmpeg{
			Binary:          "ffmpeg",
			LogLevel:        "error",
			MaxDelay:        50000,
			ProbeSize:       20000000,
			AnalyzeDuration: 20000000,
			VideoCodec:      "copy",
			VideoBitrate:    "3500k",
			AudioCodec:      "copy",
			AudioBitrate:    "128k",
		},
	}
}

func argIndex(args []string, name string) int {
	for i, a := range args {
		if a == name {
			return i
		}
	}
	return -1
}

func TestLiveArgs(t *testing.T) {
	m := New(testConfig())
	args := m.liveArgs("http://plex/part.mkv", "/cache/42-1")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-re")
	assert.Contains(t, joined, "-i http://plex/part.mkv")
	assert.Contains(t, joined, "-hls_list_size 6")
	assert.Contains(t, joined, "delete_segments+append_list+omit_endlist+program_date_time")
	assert.Contains(t, joined, "-hls_playlist_type event")
	assert.Contains(t, joined, "/cache/42-1/segment_%05d.ts")
	assert.True(t, strings.HasSuffix(joined, "/cache/42-1/index.m3u8"))

	// subtitle and data streams are dropped
	assert.Contains(t, joined, "-map -0:s")
	assert.Contains(t, joined, "-map -0:d")
}

func TestVodArgs(t *testing.T) {
	m := New(testConfig())
	args := m.vodArgs("http://plex/part.mkv", "/cache/42")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-y")
	assert.NotContains(t, joined, "-re")
	assert.Contains(t, joined, "-hls_list_size 0")
	assert.Contains(t, joined, "-hls_playlist_type vod")
	assert.Contains(t, joined, "independent_segments")
	assert.True(t, strings.HasSuffix(joined, "/cache/42/index.m3u8"))
}

func TestSegmentArgs_SeekPrecedesInput(t *testing.T) {
	m := New(testConfig())
	args := m.segmentArgs("http://plex/part.mkv", 120, 4)

	ss := argIndex(args, "-ss")
	in := argIndex(args, "-i")
	require.GreaterOrEqual(t, ss, 0)
	require.Greater(t, in, ss, "seek must be an input option")
	assert.Equal(t, "120.000", args[ss+1])

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-t 4")
	assert.Contains(t, joined, "-f mpegts")
	assert.True(t, strings.HasSuffix(joined, "pipe:1"))
}

func TestSegmentArgs_NoSeekAtZero(t *testing.T) {
	m := New(testConfig())
	args := m.segmentArgs("http://plex/part.mkv", 0, 4)
	assert.Equal(t, -1, argIndex(args, "-ss"))
}

func TestCodecArgs_CopyOmitsTuning(t *testing.T) {
	c := testConfig().FFmpeg
	c.Preset = "veryfast"
	c.CRF = "23"
	joined := strings.Join(codecArgs(c), " ")

	assert.Contains(t, joined, "-c:v copy")
	assert.Contains(t, joined, "-c:a copy")
	assert.NotContains(t, joined, "-preset")
	assert.NotContains(t, joined, "-crf")
	assert.NotContains(t, joined, "-b:v")
	assert.NotContains(t, joined, "-b:a")
}

func TestCodecArgs_EncodeAppliesTuning(t *testing.T) {
	c := testConfig().FFmpeg
	c.VideoCodec = "libx264"
	c.VideoProfile = "high"
	c.Preset = "veryfast"
	c.CRF = "23"
	c.AudioCodec = "aac"
	joined := strings.Join(codecArgs(c), " ")

	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-profile:v high")
	assert.Contains(t, joined, "-b:v 3500k")
	assert.Contains(t, joined, "-preset veryfast")
	assert.Contains(t, joined, "-crf 23")
	assert.Contains(t, joined, "-c:a aac")
	assert.Contains(t, joined, "-b:a 128k")
}
