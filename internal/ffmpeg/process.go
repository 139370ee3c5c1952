// Package ffmpeg implements the decoder, pre-scan and encoder collaborators
// of the engine on top of the ffmpeg and ffprobe executables. Frames travel
// as packed RGBA and audio as interleaved s16le over pipes.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNotReady is returned by an append on a stream whose queue is full.
	ErrNotReady = errors.New("ffmpeg: stream not ready for more data")
	// ErrNonMonotonic is returned for a video frame stamped before its
	// predecessor.
	ErrNonMonotonic = errors.New("ffmpeg: non-monotonic video timestamp")
	// ErrFrameSize is returned for a frame whose geometry or pixel buffer
	// does not match the encoder's.
	ErrFrameSize = errors.New("ffmpeg: frame size mismatch")
	// ErrFinished is returned by an append after the stream was marked
	// finished.
	ErrFinished = errors.New("ffmpeg: stream already finished")
)

// Binaries names the executables to run.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// DefaultBinaries resolves both tools from PATH.
var DefaultBinaries = Binaries{FFmpeg: "ffmpeg", FFprobe: "ffprobe"}

func (b Binaries) ffmpeg() string {
	if b.FFmpeg == "" {
		return "ffmpeg"
	}
	return b.FFmpeg
}

func (b Binaries) ffprobe() string {
	if b.FFprobe == "" {
		return "ffprobe"
	}
	return b.FFprobe
}

// stderrTail keeps the last bytes written to it, for failure messages.
type stderrTail struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newStderrTail(capacity int) *stderrTail {
	return &stderrTail{buf: make([]byte, 0, capacity), cap: capacity}
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) >= t.cap {
		t.buf = append(t.buf[:0], p[len(p)-t.cap:]...)
		return len(p), nil
	}
	if over := len(t.buf) + len(p) - t.cap; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

// Lines returns up to n trailing non-empty lines.
func (t *stderrTail) Lines(n int) string {
	t.mu.Lock()
	s := string(t.buf)
	t.mu.Unlock()

	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}

// process is a running ffmpeg or ffprobe command with captured stderr.
type process struct {
	cmd    *exec.Cmd
	stderr *stderrTail
	log    zerolog.Logger

	waitOnce sync.Once
	waitErr  error
}

func newProcess(ctx context.Context, log zerolog.Logger, bin string, args ...string) *process {
	cmd := exec.CommandContext(ctx, bin, args...)
	p := &process{cmd: cmd, stderr: newStderrTail(16 * 1024), log: log}
	cmd.Stderr = p.stderr
	return p
}

func (p *process) start() error {
	p.log.Debug().Str("cmd", p.String()).Msg("starting")
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cmd.Path, err)
	}
	return nil
}

// wait reaps the process once; later calls return the same error.
func (p *process) wait() error {
	p.waitOnce.Do(func() {
		if err := p.cmd.Wait(); err != nil {
			if tail := p.stderr.Lines(5); tail != "" {
				p.waitErr = fmt.Errorf("%s: %w: %s", p.cmd.Path, err, tail)
			} else {
				p.waitErr = fmt.Errorf("%s: %w", p.cmd.Path, err)
			}
		}
	})
	return p.waitErr
}

// kill stops the process and reaps it. The wait error is discarded.
func (p *process) kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.wait()
}

func (p *process) String() string {
	return strings.Join(p.cmd.Args, " ")
}

// readFull is io.ReadFull with io.ErrUnexpectedEOF folded into the byte
// count: it returns io.EOF only when nothing was read.
func readFull(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}
