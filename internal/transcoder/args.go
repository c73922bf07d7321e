package transcoder

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/plexstream/server/internal/config"
)

type inputOpts struct {
	realtime    bool
	overwrite   bool
	seekSeconds float64
}

// inputArgs builds the shared input side of every invocation: optional
// realtime pacing or seek offset, the source, demux tuning, and stream
// maps dropping subtitle and data streams.
func inputArgs(c config.FFmpeg, sourceURL string, o inputOpts) []string {
	args := []string{"-hide_banner"}

	if o.overwrite {
		args = append(args, "-y")
	}

	args = append(args, "-loglevel", c.LogLevel)

	if o.realtime {
		args = append(args, "-re")
	}

	if o.seekSeconds > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", o.seekSeconds))
	}

	args = append(args,
		"-i", sourceURL,
		"-max_delay", strconv.Itoa(c.MaxDelay),
		"-probesize", strconv.Itoa(c.ProbeSize),
		"-analyzeduration", strconv.Itoa(c.AnalyzeDuration),
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-map", "-0:s",
		"-map", "-0:d",
	)

	return args
}

// codecArgs applies the configured codecs. Tuning parameters only apply
// to non-passthrough codecs; "copy" takes the stream as-is.
func codecArgs(c config.FFmpeg) []string {
	var args []string

	if c.VideoCodec != "" {
		args = append(args, "-c:v", c.VideoCodec)
		if c.VideoCodec != "copy" {
			if c.VideoProfile != "" {
				args = append(args, "-profile:v", c.VideoProfile)
			}
			if c.VideoBitrate != "" {
				args = append(args, "-b:v", c.VideoBitrate)
			}
			if c.Preset != "" {
				args = append(args, "-preset", c.Preset)
			}
			if c.CRF != "" {
				args = append(args, "-crf", c.CRF)
			}
		}
	}

	if c.AudioCodec != "" {
		args = append(args, "-c:a", c.AudioCodec)
		if c.AudioCodec != "copy" && c.AudioBitrate != "" {
			args = append(args, "-b:a", c.AudioBitrate)
		}
	}

	return args
}

// liveArgs muxes an endless event playlist with a sliding window: old
// segments are deleted as new ones append, and the list never ends.
func (m *ManagerCtx) liveArgs(sourceURL, dir string) []string {
	args := inputArgs(m.config.FFmpeg, sourceURL, inputOpts{realtime: true})
	args = append(args, codecArgs(m.config.FFmpeg)...)

	args = append(args,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%g", m.config.SegmentDuration),
		"-hls_list_size", strconv.Itoa(m.config.WindowSegments),
		"-hls_flags", "delete_segments+append_list+omit_endlist+program_date_time",
		"-hls_segment_type", "mpegts",
		"-hls_playlist_type", "event",
		"-hls_segment_filename", filepath.Join(dir, "segment_%05d.ts"),
		filepath.Join(dir, "index.m3u8"),
	)

	return args
}

// vodArgs muxes the complete source as a finished VOD playlist with
// independent segments and no sliding deletion.
func (m *ManagerCtx) vodArgs(sourceURL, dir string) []string {
	args := inputArgs(m.config.FFmpeg, sourceURL, inputOpts{overwrite: true})
	args = append(args, codecArgs(m.config.FFmpeg)...)

	args = append(args,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%g", m.config.SegmentDuration),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "mpegts",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(dir, "segment_%05d.ts"),
		filepath.Join(dir, "index.m3u8"),
	)

	return args
}

// segmentArgs seeks the source and emits exactly one segment's worth of
// raw MPEG-TS on stdout. Non-passthrough codecs get a fixed GOP so the
// resulting segment is independently decodable.
func (m *ManagerCtx) segmentArgs(sourceURL string, startSeconds, durationSeconds float64) []string {
	c := m.config.FFmpeg
	args := inputArgs(c, sourceURL, inputOpts{seekSeconds: startSeconds})

	if c.VideoCodec != "" {
		args = append(args, "-c:v", c.VideoCodec)
		if c.VideoCodec != "copy" {
			args = append(args,
				"-profile:v", "high",
				"-level:v", "4.1",
				"-r", "30",
				"-g", "120",
				"-keyint_min", "120",
			)
			if c.VideoBitrate != "" {
				args = append(args, "-b:v", c.VideoBitrate)
			}
			if c.Preset != "" {
				args = append(args, "-preset", c.Preset)
			}
			if c.CRF != "" {
				args = append(args, "-crf", c.CRF)
			}
		}
	}

	if c.AudioCodec != "" {
		args = append(args, "-c:a", c.AudioCodec)
		if c.AudioCodec != "copy" {
			args = append(args, "-ac", "2", "-ar", "48000")
			if c.AudioBitrate != "" {
				args = append(args, "-b:a", c.AudioBitrate)
			}
		}
	}

	args = append(args,
		"-t", fmt.Sprintf("%g", durationSeconds),
		"-f", "mpegts",
		"-muxdelay", "0",
		"-muxpreload", "0",
		"pipe:1",
	)

	return args
}
