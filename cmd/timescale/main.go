// Command timescale retimes a recording to a new duration.
//
// With a source argument it runs one job and exits:
//
//	timescale [-factor F | -duration D] [-fps N] SOURCE [DEST]
//
// Without one it serves the HTTP API and the live audio monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/audio"
	"github.com/satindergrewal/timescale/internal/config"
	"github.com/satindergrewal/timescale/internal/engine"
	"github.com/satindergrewal/timescale/internal/ffmpeg"
	"github.com/satindergrewal/timescale/internal/stream"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	factor := flag.Float64("factor", cfg.Factor, "output duration as a multiple of the source duration")
	duration := flag.Duration("duration", 0, "output duration; overrides -factor")
	fps := flag.Int("fps", cfg.FrameRate, "output frame rate (24, 30 and 60 are typical)")
	strategy := flag.String("strategy", cfg.Strategy, "resample or passthrough")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tk := ffmpeg.NewToolkit(
		ffmpeg.Binaries{FFmpeg: cfg.FFmpegPath, FFprobe: cfg.FFprobePath},
		audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		cfg.QueueDepth,
		log,
	)
	a := newApp(cfg, log, tk)

	if flag.NArg() > 0 {
		req := jobRequest{
			Source:   flag.Arg(0),
			Factor:   *factor,
			Duration: *duration,
			FPS:      *fps,
			Strategy: *strategy,
		}
		if flag.NArg() > 1 {
			req.Destination = flag.Arg(1)
		}
		os.Exit(runOnce(ctx, a, req))
	}

	if err := serve(ctx, a); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// app is the shared state of both modes.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	engine  *engine.Engine
	monitor *stream.Monitor // nil when disabled
}

func newApp(cfg config.Config, log zerolog.Logger, tk engine.Toolkit) *app {
	def, ok := ffmpeg.StrategyByName(cfg.Strategy, cfg.VideoCodec, cfg.AudioCodec)
	if !ok {
		log.Warn().Str("strategy", cfg.Strategy).Msg("unknown strategy, using resample")
		def, _ = ffmpeg.StrategyByName("resample", cfg.VideoCodec, cfg.AudioCodec)
	}
	a := &app{
		cfg: cfg,
		log: log,
		engine: engine.New(engine.Config{
			Toolkit:    tk,
			Log:        log,
			Strategy:   def,
			AudioBlock: cfg.AudioBlock,
		}),
	}
	if cfg.Monitor {
		if cfg.SampleRate == audio.SampleRate && cfg.Channels == audio.Channels {
			a.monitor = stream.NewMonitor(log)
		} else {
			log.Warn().
				Int("sample_rate", cfg.SampleRate).
				Int("channels", cfg.Channels).
				Msg("monitor needs 48kHz stereo, disabled")
		}
	}
	return a
}

func serve(ctx context.Context, a *app) error {
	s := newServer(ctx, a)
	if a.monitor != nil {
		go a.monitor.Run(ctx)
		go s.broadcaster.Run(ctx, a.monitor.Frames())
	}

	addr := fmt.Sprintf(":%d", a.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.routes()}

	go func() {
		<-ctx.Done()
		a.log.Info().Msg("shutting down")
		s.cancelCurrent()
		server.Close()
	}()

	a.log.Info().Str("addr", addr).Bool("monitor", a.monitor != nil).Msg("timescale listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
