package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/audio"
	"github.com/satindergrewal/timescale/internal/media"
)

// EncoderConfig describes the output of one encoder process.
type EncoderConfig struct {
	Bin       string
	Path      string
	Width     int
	Height    int
	FrameRate float64

	HasAudio bool
	Audio    audio.Format

	Writer     WriterSettingsProvider
	QueueDepth int // buffered appends per stream before ReadyForMore is false
	Log        zerolog.Logger
}

// EncoderArgs builds the encoder command line: raw RGBA video on stdin at
// the output frame rate and, when present, s16le audio on file descriptor
// 3.
func EncoderArgs(cfg EncoderConfig) []string {
	args := []string{
		"-y", "-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.FormatFloat(cfg.FrameRate, 'f', -1, 64),
		"-i", "pipe:0",
	}
	if cfg.HasAudio {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(cfg.Audio.SampleRate),
			"-ac", strconv.Itoa(cfg.Audio.Channels),
			"-i", "pipe:3",
		)
	}
	args = append(args, "-map", "0:v:0")
	if cfg.HasAudio {
		args = append(args, "-map", "1:a:0")
	}
	args = append(args, cfg.Writer.VideoWriterArgs()...)
	if cfg.HasAudio {
		args = append(args, cfg.Writer.AudioWriterArgs()...)
	}
	return append(args, cfg.Path)
}

// streamWriter feeds one pipe from a bounded queue on its own goroutine.
type streamWriter struct {
	kind  media.StreamKind
	w     io.WriteCloser
	queue chan []byte
	space chan struct{} // signalled after every dequeue
	done  chan struct{} // closed once the pipe is closed

	mu       sync.Mutex
	err      error
	finished bool
}

func newStreamWriter(kind media.StreamKind, w io.WriteCloser, depth int) *streamWriter {
	if depth <= 0 {
		depth = 1
	}
	sw := &streamWriter{
		kind:  kind,
		w:     w,
		queue: make(chan []byte, depth),
		space: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go sw.run()
	return sw
}

func (sw *streamWriter) run() {
	defer close(sw.done)
	for buf := range sw.queue {
		select {
		case sw.space <- struct{}{}:
		default:
		}
		if sw.failed() != nil {
			continue
		}
		if _, err := sw.w.Write(buf); err != nil {
			sw.fail(fmt.Errorf("write %s: %w", sw.kind, err))
		}
	}
	if err := sw.w.Close(); err != nil && sw.failed() == nil {
		sw.fail(fmt.Errorf("close %s: %w", sw.kind, err))
	}
	select {
	case sw.space <- struct{}{}:
	default:
	}
}

func (sw *streamWriter) fail(err error) {
	sw.mu.Lock()
	if sw.err == nil {
		sw.err = err
	}
	sw.mu.Unlock()
}

func (sw *streamWriter) failed() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.err
}

func (sw *streamWriter) ready() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.err == nil && !sw.finished && len(sw.queue) < cap(sw.queue)
}

func (sw *streamWriter) wait(ctx context.Context) error {
	for {
		sw.mu.Lock()
		err, finished := sw.err, sw.finished
		sw.mu.Unlock()
		switch {
		case err != nil:
			return err
		case finished:
			return ErrFinished
		case len(sw.queue) < cap(sw.queue):
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sw.space:
		case <-sw.done:
		}
	}
}

// enqueue never blocks: a full queue is ErrNotReady.
func (sw *streamWriter) enqueue(buf []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.err != nil {
		return sw.err
	}
	if sw.finished {
		return ErrFinished
	}
	select {
	case sw.queue <- buf:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrNotReady, sw.kind)
	}
}

// finish closes the queue once; the pipe is closed after it drains.
func (sw *streamWriter) finish() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.finished {
		sw.finished = true
		close(sw.queue)
	}
}

// Encoder muxes retimed video and audio into one file through a single
// ffmpeg process. It implements engine.Sink.
type Encoder struct {
	cfg  EncoderConfig
	log  zerolog.Logger
	proc *process // nil in tests that drive the writers directly

	video *streamWriter
	audio *streamWriter // nil without audio

	mu      sync.Mutex
	lastPTS time.Duration
	frames  int

	endOnce sync.Once
	endErr  error
}

// NewEncoder starts the encoder process for cfg.
func NewEncoder(ctx context.Context, cfg EncoderConfig) (*Encoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameSize, cfg.Width, cfg.Height)
	}
	if cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", cfg.FrameRate)
	}
	if cfg.Writer == nil {
		cfg.Writer = Resampling{}
	}
	if cfg.Bin == "" {
		cfg.Bin = "ffmpeg"
	}
	log := cfg.Log.With().Str("component", "encoder").Str("path", cfg.Path).Logger()

	p := newProcess(ctx, log, cfg.Bin, EncoderArgs(cfg)...)
	videoIn, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	var audioR, audioW *os.File
	if cfg.HasAudio {
		audioR, audioW, err = os.Pipe()
		if err != nil {
			videoIn.Close()
			return nil, fmt.Errorf("audio pipe: %w", err)
		}
		p.cmd.ExtraFiles = []*os.File{audioR} // fd 3 in the child
	}

	if err := p.start(); err != nil {
		videoIn.Close()
		if audioR != nil {
			audioR.Close()
			audioW.Close()
		}
		return nil, err
	}
	if audioR != nil {
		audioR.Close()
	}

	var aw io.WriteCloser
	if audioW != nil {
		aw = audioW
	}
	e := newEncoder(cfg, log, videoIn, aw)
	e.proc = p
	return e, nil
}

func newEncoder(cfg EncoderConfig, log zerolog.Logger, videoIn, audioIn io.WriteCloser) *Encoder {
	e := &Encoder{
		cfg:     cfg,
		log:     log,
		video:   newStreamWriter(media.StreamVideo, videoIn, cfg.QueueDepth),
		lastPTS: -1,
	}
	if audioIn != nil {
		e.audio = newStreamWriter(media.StreamAudio, audioIn, cfg.QueueDepth)
	}
	return e
}

func (e *Encoder) writer(kind media.StreamKind) *streamWriter {
	if kind == media.StreamAudio {
		return e.audio
	}
	return e.video
}

// ReadyForMore reports whether kind can take another append without
// blocking.
func (e *Encoder) ReadyForMore(kind media.StreamKind) bool {
	sw := e.writer(kind)
	return sw != nil && sw.ready()
}

// WaitReady blocks until kind can take another append.
func (e *Encoder) WaitReady(ctx context.Context, kind media.StreamKind) error {
	sw := e.writer(kind)
	if sw == nil {
		return fmt.Errorf("no %s stream", kind)
	}
	return sw.wait(ctx)
}

// AppendVideo queues one frame. Frames must match the encoder geometry and
// carry non-decreasing timestamps.
func (e *Encoder) AppendVideo(f *media.VideoFrame) error {
	if f.Width != e.cfg.Width || f.Height != e.cfg.Height || len(f.Pixels) != media.RGBASize(f.Width, f.Height) {
		return fmt.Errorf("%w: got %dx%d (%d bytes), want %dx%d",
			ErrFrameSize, f.Width, f.Height, len(f.Pixels), e.cfg.Width, e.cfg.Height)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if f.PTS < e.lastPTS {
		return fmt.Errorf("%w: %v after %v", ErrNonMonotonic, f.PTS, e.lastPTS)
	}
	if err := e.video.enqueue(f.Pixels); err != nil {
		return err
	}
	e.lastPTS = f.PTS
	e.frames++
	return nil
}

// AppendAudio queues one interleaved block.
func (e *Encoder) AppendAudio(samples []int16) error {
	if e.audio == nil {
		return errors.New("encoder has no audio stream")
	}
	return e.audio.enqueue(audio.SamplesToBytes(samples))
}

// MarkFinished closes kind's input once its queue drains.
func (e *Encoder) MarkFinished(kind media.StreamKind) {
	if sw := e.writer(kind); sw != nil {
		sw.finish()
	}
}

// Finish flushes both streams and waits for the muxer to write the file.
func (e *Encoder) Finish(ctx context.Context) error {
	e.endOnce.Do(func() {
		e.endErr = e.finish(ctx)
	})
	return e.endErr
}

func (e *Encoder) finish(ctx context.Context) error {
	e.MarkFinished(media.StreamVideo)
	e.MarkFinished(media.StreamAudio)

	for _, sw := range []*streamWriter{e.video, e.audio} {
		if sw == nil {
			continue
		}
		select {
		case <-sw.done:
		case <-ctx.Done():
			e.kill()
			return ctx.Err()
		}
	}

	var errs []error
	for _, sw := range []*streamWriter{e.video, e.audio} {
		if sw != nil {
			if err := sw.failed(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if e.proc != nil {
		if err := e.proc.wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	e.log.Info().Int("frames", e.frames).Msg("output written")
	return nil
}

// Abort stops the encoder and removes the partial output.
func (e *Encoder) Abort() error {
	e.endOnce.Do(func() {
		e.kill()
		e.MarkFinished(media.StreamVideo)
		e.MarkFinished(media.StreamAudio)
		if err := os.Remove(e.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.endErr = fmt.Errorf("remove partial output: %w", err)
		}
		e.log.Info().Msg("output discarded")
	})
	return e.endErr
}

func (e *Encoder) kill() {
	if e.proc != nil {
		e.proc.kill()
	}
}

// Frames returns the number of frames accepted.
func (e *Encoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}
