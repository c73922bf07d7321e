package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FFmpeg carries the encoder binary and tuning parameters shared by
// every provider's argument policy.
type FFmpeg struct {
	Binary          string `mapstructure:"binary"`
	LogLevel        string `mapstructure:"log-level"`
	Preset          string `mapstructure:"preset"`
	CRF             string `mapstructure:"crf"`
	MaxDelay        int    `mapstructure:"max-delay"`
	ProbeSize       int    `mapstructure:"probesize"`
	AnalyzeDuration int    `mapstructure:"analyzeduration"`

	VideoCodec   string `mapstructure:"video-codec"`
	VideoProfile string `mapstructure:"video-profile"`
	VideoBitrate string `mapstructure:"video-bitrate"`
	AudioCodec   string `mapstructure:"audio-codec"`
	AudioBitrate string `mapstructure:"audio-bitrate"`
}

// Plex locates the remote media library. BaseURL and Token are required;
// starting without them is a configuration error.
type Plex struct {
	BaseURL string        `mapstructure:"base-url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Hybrid tunes the hybrid provider's readiness polling.
type Hybrid struct {
	MinReadySegments int           `mapstructure:"min-ready-segments"`
	WaitTimeout      time.Duration `mapstructure:"wait-timeout"`
	PollInterval     time.Duration `mapstructure:"poll-interval"`
	ReadTimeout      time.Duration `mapstructure:"read-timeout"`
	ReadPoll         time.Duration `mapstructure:"read-poll"`
}

type Stream struct {
	Provider        string        `mapstructure:"provider"`
	CacheDir        string        `mapstructure:"cache-dir"`
	SegmentDuration float64       `mapstructure:"segment-duration"`
	WindowSegments  int           `mapstructure:"window-segments"`
	SessionTTL      time.Duration `mapstructure:"session-ttl"`
	StartTimeout    time.Duration `mapstructure:"start-timeout"`
	PollInterval    time.Duration `mapstructure:"poll-interval"`
	StopGrace       time.Duration `mapstructure:"stop-grace"`

	// duration assumed when library metadata carries none
	FallbackDuration float64 `mapstructure:"fallback-duration"`

	FFmpeg FFmpeg
	Plex   Plex
	Hybrid Hybrid
}

func (Stream) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("stream.provider", "live", "delivery strategy: live, vod, jit or hybrid")
	if err := viper.BindPFlag("stream.provider", cmd.PersistentFlags().Lookup("stream.provider")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("stream.cache-dir", ".streams", "root directory for per-asset stream caches")
	if err := viper.BindPFlag("stream.cache-dir", cmd.PersistentFlags().Lookup("stream.cache-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("stream.segment-duration", 4, "HLS segment duration in seconds")
	if err := viper.BindPFlag("stream.segment-duration", cmd.PersistentFlags().Lookup("stream.segment-duration")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("stream.window-segments", 0, "live sliding window size in segments, 0 keeps all")
	if err := viper.BindPFlag("stream.window-segments", cmd.PersistentFlags().Lookup("stream.window-segments")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("plex.base-url", "", "plex server base URL (required)")
	if err := viper.BindPFlag("plex.base-url", cmd.PersistentFlags().Lookup("plex.base-url")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("plex.token", "", "plex access token (required)")
	if err := viper.BindPFlag("plex.token", cmd.PersistentFlags().Lookup("plex.token")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ffmpeg.binary", "ffmpeg", "path to the ffmpeg binary")
	if err := viper.BindPFlag("ffmpeg.binary", cmd.PersistentFlags().Lookup("ffmpeg.binary")); err != nil {
		return err
	}

	return nil
}

func (s *Stream) Set() {
	viper.SetDefault("stream.session-ttl", 60*time.Second)
	viper.SetDefault("stream.start-timeout", 15*time.Second)
	viper.SetDefault("stream.poll-interval", 200*time.Millisecond)
	viper.SetDefault("stream.stop-grace", 2*time.Second)
	viper.SetDefault("stream.fallback-duration", 600.0)

	viper.SetDefault("hybrid.min-ready-segments", 10)
	viper.SetDefault("hybrid.wait-timeout", 15*time.Second)
	viper.SetDefault("hybrid.poll-interval", 500*time.Millisecond)
	viper.SetDefault("hybrid.read-timeout", 10*time.Second)
	viper.SetDefault("hybrid.read-poll", 200*time.Millisecond)

	viper.SetDefault("ffmpeg.log-level", "error")
	viper.SetDefault("ffmpeg.max-delay", 50000)
	viper.SetDefault("ffmpeg.probesize", 20000000)
	viper.SetDefault("ffmpeg.analyzeduration", 20000000)
	viper.SetDefault("ffmpeg.video-codec", "copy")
	viper.SetDefault("ffmpeg.video-bitrate", "3500k")
	viper.SetDefault("ffmpeg.audio-codec", "copy")
	viper.SetDefault("ffmpeg.audio-bitrate", "128k")

	viper.SetDefault("plex.timeout", 15*time.Second)

	s.Provider = viper.GetString("stream.provider")
	s.CacheDir = viper.GetString("stream.cache-dir")
	s.SegmentDuration = viper.GetFloat64("stream.segment-duration")
	s.WindowSegments = viper.GetInt("stream.window-segments")
	s.SessionTTL = viper.GetDuration("stream.session-ttl")
	s.StartTimeout = viper.GetDuration("stream.start-timeout")
	s.PollInterval = viper.GetDuration("stream.poll-interval")
	s.StopGrace = viper.GetDuration("stream.stop-grace")
	s.FallbackDuration = viper.GetFloat64("stream.fallback-duration")

	if err := viper.UnmarshalKey("ffmpeg", &s.FFmpeg); err != nil {
		panic(err)
	}
	if err := viper.UnmarshalKey("plex", &s.Plex); err != nil {
		panic(err)
	}
	if err := viper.UnmarshalKey("hybrid", &s.Hybrid); err != nil {
		panic(err)
	}

	// defaults and validation

	switch s.Provider {
	case "live", "vod", "jit", "hybrid":
	default:
		panic("stream.provider must be one of: live, vod, jit, hybrid")
	}

	if s.SegmentDuration <= 0 {
		s.SegmentDuration = 4
	}

	if s.FFmpeg.Binary == "" {
		s.FFmpeg.Binary = "ffmpeg"
	}

	if s.Plex.BaseURL == "" {
		panic("missing required configuration: plex.base-url")
	}
	if s.Plex.Token == "" {
		panic("missing required configuration: plex.token")
	}
	s.Plex.BaseURL = strings.TrimRight(s.Plex.BaseURL, "/")

	if err := os.MkdirAll(s.CacheDir, 0755); err != nil {
		panic(err)
	}
}
