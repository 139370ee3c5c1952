package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/audio"
	"github.com/satindergrewal/timescale/internal/media"
)

// VideoDecoderArgs builds the decoder command line for the first video
// stream of path.
func VideoDecoderArgs(path string, r ReaderSettingsProvider) []string {
	args := []string{"-v", "error", "-i", path, "-map", "0:v:0", "-an", "-sn"}
	args = append(args, r.VideoReaderArgs()...)
	return append(args, "-fps_mode", "passthrough", "pipe:1")
}

// AudioDecoderArgs builds the decoder command line for the first audio
// stream of path, converted to f.
func AudioDecoderArgs(path string, f audio.Format, r ReaderSettingsProvider) []string {
	args := []string{"-v", "error", "-i", path, "-map", "0:a:0", "-vn", "-sn"}
	args = append(args, r.AudioReaderArgs(f)...)
	return append(args, "pipe:1")
}

// decoder is the process half shared by both decoders.
type decoder struct {
	proc      *process
	stdout    io.ReadCloser
	closeOnce sync.Once
}

func startDecoder(ctx context.Context, log zerolog.Logger, bin string, args []string) (*decoder, error) {
	p := newProcess(ctx, log, bin, args...)
	out, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := p.start(); err != nil {
		return nil, err
	}
	return &decoder{proc: p, stdout: out}, nil
}

// end is called when the stream hit EOF: a clean exit yields io.EOF, a
// failed one its error.
func (d *decoder) end() error {
	if err := d.proc.wait(); err != nil {
		return err
	}
	return io.EOF
}

func (d *decoder) Close() error {
	d.closeOnce.Do(func() {
		d.stdout.Close()
		d.proc.kill()
	})
	return nil
}

// frameReader cuts a raw RGBA byte stream into frames and stamps them with
// scanned timestamps, extrapolating at the nominal rate past the end of
// the list.
type frameReader struct {
	r          io.Reader
	width      int
	height     int
	timestamps []time.Duration
	step       time.Duration
	n          int
}

func newFrameReader(r io.Reader, info media.SourceInfo) *frameReader {
	rate := info.FrameRate
	if rate <= 0 {
		rate = 30
	}
	return &frameReader{
		r:          r,
		width:      info.Width,
		height:     info.Height,
		timestamps: info.Timestamps,
		step:       seconds(1 / rate),
	}
}

func (fr *frameReader) next() (*media.VideoFrame, error) {
	size := media.RGBASize(fr.width, fr.height)
	buf := make([]byte, size)
	n, err := io.ReadFull(fr.r, buf)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: frame %d truncated at %d of %d bytes", ErrFrameSize, fr.n, n, size)
	}
	if err != nil {
		return nil, err
	}
	f := &media.VideoFrame{Pixels: buf, Width: fr.width, Height: fr.height, PTS: fr.pts(fr.n)}
	fr.n++
	return f, nil
}

func (fr *frameReader) pts(i int) time.Duration {
	if i < len(fr.timestamps) {
		return fr.timestamps[i]
	}
	if last := len(fr.timestamps) - 1; last >= 0 {
		return fr.timestamps[last] + time.Duration(i-last)*fr.step
	}
	return time.Duration(i) * fr.step
}

// VideoDecoder streams decoded frames of a source.
type VideoDecoder struct {
	*decoder
	frames *frameReader
}

// NewVideoDecoder starts decoding the first video stream described by info.
func NewVideoDecoder(ctx context.Context, log zerolog.Logger, bin string, info media.SourceInfo, r ReaderSettingsProvider) (*VideoDecoder, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameSize, info.Width, info.Height)
	}
	d, err := startDecoder(ctx, log, bin, VideoDecoderArgs(info.Path, r))
	if err != nil {
		return nil, err
	}
	return &VideoDecoder{decoder: d, frames: newFrameReader(d.stdout, info)}, nil
}

// NextFrame returns the next frame, or io.EOF after the last one.
func (v *VideoDecoder) NextFrame() (*media.VideoFrame, error) {
	f, err := v.frames.next()
	if errors.Is(err, io.EOF) {
		return nil, v.end()
	}
	return f, err
}

// blockReader cuts a raw s16le byte stream into interleaved blocks of
// whole frames. The final block may be short.
type blockReader struct {
	r   io.Reader
	buf []byte
}

func newBlockReader(r io.Reader, f audio.Format, blockFrames int) *blockReader {
	return &blockReader{r: r, buf: make([]byte, blockFrames*f.BytesPerFrame())}
}

func (br *blockReader) next() ([]int16, error) {
	n, err := readFull(br.r, br.buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	return audio.BytesToSamples(br.buf[:n]), nil
}

// AudioDecoder streams interleaved PCM blocks of a source.
type AudioDecoder struct {
	*decoder
	blocks *blockReader
}

// NewAudioDecoder starts decoding the first audio stream of info.Path in
// format f, blockFrames frames per block.
func NewAudioDecoder(ctx context.Context, log zerolog.Logger, bin string, info media.SourceInfo, f audio.Format, blockFrames int, r ReaderSettingsProvider) (*AudioDecoder, error) {
	if blockFrames <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio block %d frames, %d channels", blockFrames, f.Channels)
	}
	d, err := startDecoder(ctx, log, bin, AudioDecoderArgs(info.Path, f, r))
	if err != nil {
		return nil, err
	}
	return &AudioDecoder{decoder: d, blocks: newBlockReader(d.stdout, f, blockFrames)}, nil
}

// NextBlock returns the next block, or io.EOF after the last one.
func (a *AudioDecoder) NextBlock() ([]int16, error) {
	b, err := a.blocks.next()
	if errors.Is(err, io.EOF) {
		return nil, a.end()
	}
	return b, err
}
