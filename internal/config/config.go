package config

import (
	"os"
	"strconv"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port      int
	OutputDir string // where default destinations are written

	// Job defaults
	Factor     float64 // desired duration as a multiple of the source duration
	FrameRate  int     // output frames per second
	AudioBlock int     // output frames per resampled audio block
	Strategy   string  // resample or passthrough

	// Decoded/encoded audio layout
	SampleRate int
	Channels   int

	// Encoder
	QueueDepth int // buffered appends per stream
	VideoCodec string
	AudioCodec string

	// Live audio monitor (/stream, /offer)
	Monitor bool

	LogLevel string

	// Tool locations
	FFmpegPath  string
	FFprobePath string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:      envInt("TIMESCALE_PORT", 8080),
		OutputDir: envStr("TIMESCALE_OUTPUT_DIR", "."),

		Factor:     envFloat("TIMESCALE_FACTOR", 1.5),
		FrameRate:  envInt("TIMESCALE_FPS", 30),
		AudioBlock: envInt("TIMESCALE_AUDIO_BLOCK", 1024),
		Strategy:   envStr("TIMESCALE_STRATEGY", "resample"),

		SampleRate: envInt("TIMESCALE_SAMPLE_RATE", 48000),
		Channels:   envInt("TIMESCALE_CHANNELS", 2),

		QueueDepth: envInt("TIMESCALE_QUEUE_DEPTH", 8),
		VideoCodec: envStr("TIMESCALE_VIDEO_CODEC", "libx264"),
		AudioCodec: envStr("TIMESCALE_AUDIO_CODEC", "pcm_s16le"),

		Monitor:  envBool("TIMESCALE_MONITOR", true),
		LogLevel: envStr("TIMESCALE_LOG_LEVEL", "info"),

		FFmpegPath:  envStr("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: envStr("FFPROBE_PATH", "ffprobe"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
