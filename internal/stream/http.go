package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/audio"
)

// HTTPHandler serves a chunked MP3 monitor stream. Each connection spawns
// an ffmpeg process that encodes PCM to MP3 in real time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	ffmpeg      string
	log         zerolog.Logger
}

// NewHTTPHandler creates an HTTP stream handler. An empty bin runs ffmpeg
// from PATH.
func NewHTTPHandler(b *Broadcaster, bin string, log zerolog.Logger) *HTTPHandler {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &HTTPHandler{
		broadcaster: b,
		ffmpeg:      bin,
		log:         log.With().Str("component", "http-monitor").Logger(),
	}
}

// mp3Args encodes s16le on stdin to MP3 on stdout with minimal buffering.
func mp3Args() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpeg, mp3Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdin pipe")
		http.Error(w, "monitor unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdout pipe")
		http.Error(w, "monitor unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Error().Err(err).Msg("ffmpeg start")
		http.Error(w, "monitor unavailable", http.StatusInternalServerError)
		return
	}
	defer func() {
		cancel()
		cmd.Wait()
	}()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "timescale monitor")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info().Str("remote", r.RemoteAddr).Int("listeners", h.broadcaster.ListenerCount()).Msg("listener connected")
	defer h.log.Info().Str("remote", r.RemoteAddr).Msg("listener disconnected")

	go pump(ctx, listener, stdin)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Warn().Err(err).Msg("ffmpeg read")
			}
			return
		}
	}
}

// pump writes listener frames to w as s16le until the listener stops, ctx
// is cancelled or a write fails. It closes w on return.
func pump(ctx context.Context, l *Listener, w io.WriteCloser) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
