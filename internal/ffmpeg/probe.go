package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult is the container-level view of a source.
type ProbeResult struct {
	Duration time.Duration
	Video    *VideoStream // first non-attached-picture video stream
	Audio    *AudioStream // first audio stream
}

// VideoStream holds the probed properties of the primary video stream.
type VideoStream struct {
	Index     int
	Codec     string
	Width     int
	Height    int
	FrameRate float64 // avg_frame_rate, falling back to r_frame_rate
	NbFrames  int     // container frame count, 0 when unknown
	Duration  time.Duration
}

// AudioStream holds the probed properties of the primary audio stream.
type AudioStream struct {
	Index      int
	Codec      string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Probe runs one ffprobe JSON call against path.
func Probe(ctx context.Context, bin, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	return ParseProbe(out)
}

// ParseProbe converts raw ffprobe JSON output into a ProbeResult.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	pr := &ProbeResult{Duration: parseSeconds(raw.Format.Duration)}
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if pr.Video == nil && s.Disposition["attached_pic"] != 1 {
				rate := parseRate(s.AvgFrameRate)
				if rate == 0 {
					rate = parseRate(s.RFrameRate)
				}
				pr.Video = &VideoStream{
					Index:     s.Index,
					Codec:     s.CodecName,
					Width:     s.Width,
					Height:    s.Height,
					FrameRate: rate,
					NbFrames:  parseInt(s.NbFrames),
					Duration:  parseSeconds(s.Duration),
				}
			}
		case "audio":
			if pr.Audio == nil {
				pr.Audio = &AudioStream{
					Index:      s.Index,
					Codec:      s.CodecName,
					SampleRate: parseInt(s.SampleRate),
					Channels:   s.Channels,
					Duration:   parseSeconds(s.Duration),
				}
			}
		}
	}
	if pr.Duration == 0 && pr.Video != nil {
		pr.Duration = pr.Video.Duration
	}
	return pr, nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	Index        int            `json:"index"`
	CodecName    string         `json:"codec_name"`
	CodecType    string         `json:"codec_type"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	AvgFrameRate string         `json:"avg_frame_rate"`
	RFrameRate   string         `json:"r_frame_rate"`
	NbFrames     string         `json:"nb_frames"`
	Duration     string         `json:"duration"`
	Channels     int            `json:"channels"`
	SampleRate   string         `json:"sample_rate"`
	Disposition  map[string]int `json:"disposition"`
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

// parseRate parses "30000/1001" or "25". Malformed or zero-denominator
// rates return 0.
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return seconds(f)
}

func seconds(f float64) time.Duration {
	return time.Duration(math.Round(f * float64(time.Second)))
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
