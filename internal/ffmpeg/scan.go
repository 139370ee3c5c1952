package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/audio"
	"github.com/satindergrewal/timescale/internal/media"
)

// ScanVideoTimestamps lists the presentation timestamps of the first video
// stream's packets, sorted and rebased so the first frame is at zero.
func ScanVideoTimestamps(ctx context.Context, log zerolog.Logger, bin, path string) ([]time.Duration, error) {
	p := newProcess(ctx, log, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time",
		"-of", "csv=p=0",
		path,
	)
	out, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := p.start(); err != nil {
		return nil, err
	}
	ts, parseErr := ParsePacketTimes(out)
	if parseErr != nil {
		p.kill()
		return nil, parseErr
	}
	if err := p.wait(); err != nil {
		return nil, err
	}
	return ts, nil
}

// ParsePacketTimes parses one pts_time per line. Lines without a timestamp
// ("N/A", empty) are skipped; the result is in presentation order and
// rebased to zero.
func ParsePacketTimes(r io.Reader) ([]time.Duration, error) {
	var ts []time.Duration
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		field, _, _ := strings.Cut(strings.TrimSpace(sc.Text()), ",")
		if field == "" || field == "N/A" {
			continue
		}
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("parse pts_time %q: %w", field, err)
		}
		ts = append(ts, seconds(f))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, errors.New("no video packets with timestamps")
	}

	slices.Sort(ts)
	base := ts[0]
	for i := range ts {
		ts[i] -= base
	}
	return ts, nil
}

// CountAudioSamples decodes the first audio stream to s16le in format f and
// returns the number of per-channel samples. Decoding the whole track is
// the only reliable count; container metadata is often wrong.
func CountAudioSamples(ctx context.Context, log zerolog.Logger, bin, path string, f audio.Format) (int, error) {
	args := append([]string{"-v", "error", "-i", path, "-map", "0:a:0", "-vn"},
		rawReader{}.AudioReaderArgs(f)...)
	p := newProcess(ctx, log, bin, append(args, "pipe:1")...)
	out, err := p.cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := p.start(); err != nil {
		return 0, err
	}
	n, countErr := countFrames(out, f.BytesPerFrame())
	if countErr != nil {
		p.kill()
		return 0, countErr
	}
	if err := p.wait(); err != nil {
		return 0, err
	}
	return n, nil
}

// countFrames counts whole PCM frames in r.
func countFrames(r io.Reader, bytesPerFrame int) (int, error) {
	if bytesPerFrame <= 0 {
		return 0, fmt.Errorf("invalid frame size %d", bytesPerFrame)
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return 0, fmt.Errorf("read decoded audio: %w", err)
	}
	return int(n / int64(bytesPerFrame)), nil
}

// Scan measures a source before streaming: probe, frame timestamps and the
// decoded audio length. report receives coarse step progress.
func Scan(ctx context.Context, log zerolog.Logger, bins Binaries, path string, f audio.Format, report func(done, total int)) (media.SourceInfo, error) {
	const steps = 3
	if report == nil {
		report = func(int, int) {}
	}

	pr, err := Probe(ctx, bins.ffprobe(), path)
	if err != nil {
		return media.SourceInfo{}, err
	}
	report(1, steps)

	ts, err := ScanVideoTimestamps(ctx, log, bins.ffprobe(), path)
	if err != nil {
		if ctx.Err() != nil {
			return media.SourceInfo{}, ctx.Err()
		}
		log.Warn().Err(err).Msg("frame timestamps unavailable, estimating from frame rate")
		ts = nil
	}
	info, err := sourceInfo(path, pr, ts)
	if err != nil {
		return media.SourceInfo{}, err
	}
	report(2, steps)

	if pr.Audio != nil {
		n, err := CountAudioSamples(ctx, log, bins.ffmpeg(), path, f)
		if err != nil {
			return media.SourceInfo{}, fmt.Errorf("count audio samples: %w", err)
		}
		info.HasAudio = true
		info.SampleRate = f.SampleRate
		info.Channels = f.Channels
		info.TotalSamples = n
	}
	report(3, steps)
	return info, nil
}

// sourceInfo combines the probe with the scanned timestamps. Without
// timestamps the frame count falls back to the container count, then to
// duration times nominal frame rate.
func sourceInfo(path string, pr *ProbeResult, ts []time.Duration) (media.SourceInfo, error) {
	if pr.Video == nil {
		return media.SourceInfo{}, fmt.Errorf("%s: no video stream", path)
	}
	v := pr.Video
	info := media.SourceInfo{
		Path:       path,
		Duration:   pr.Duration,
		Width:      v.Width,
		Height:     v.Height,
		FrameRate:  v.FrameRate,
		Timestamps: ts,
		FrameCount: len(ts),
	}
	if info.FrameCount == 0 {
		info.FrameCount = v.NbFrames
	}
	if info.FrameCount == 0 && v.FrameRate > 0 {
		info.FrameCount = int(math.Round(pr.Duration.Seconds() * v.FrameRate))
	}
	if info.Duration == 0 && len(ts) > 0 && v.FrameRate > 0 {
		info.Duration = ts[len(ts)-1] + seconds(1/v.FrameRate)
	}
	return info, nil
}
