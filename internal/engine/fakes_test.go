package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/satindergrewal/timescale/internal/media"
)

type testStrategy struct{ retime bool }

func (s testStrategy) Name() string {
	if s.retime {
		return "resample"
	}
	return "passthrough"
}

func (s testStrategy) Retimes() bool { return s.retime }

var (
	resample    = testStrategy{retime: true}
	passthrough = testStrategy{retime: false}
)

// --- Sources ---

type fakeVideo struct {
	pts []time.Duration
	i   int

	// When gate is set, NextFrame signals reached and blocks on gate before
	// returning frame gateAt.
	gateAt  int
	gate    chan struct{}
	reached chan struct{}

	mu     sync.Mutex
	closed int
}

func (v *fakeVideo) NextFrame() (*media.VideoFrame, error) {
	if v.gate != nil && v.i == v.gateAt {
		close(v.reached)
		<-v.gate
	}
	if v.i >= len(v.pts) {
		return nil, io.EOF
	}
	f := &media.VideoFrame{Pixels: make([]byte, 4), Width: 1, Height: 1, PTS: v.pts[v.i]}
	f.Pixels[0] = byte(v.i)
	v.i++
	return f, nil
}

func (v *fakeVideo) Close() error {
	v.mu.Lock()
	v.closed++
	v.mu.Unlock()
	return nil
}

func (v *fakeVideo) closeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

type fakeAudio struct {
	blocks [][]int16
	i      int
	err    error // returned instead of io.EOF when set

	mu     sync.Mutex
	closed int
}

func (a *fakeAudio) NextBlock() ([]int16, error) {
	if a.i >= len(a.blocks) {
		if a.err != nil {
			return nil, a.err
		}
		return nil, io.EOF
	}
	b := a.blocks[a.i]
	a.i++
	return b, nil
}

func (a *fakeAudio) Close() error {
	a.mu.Lock()
	a.closed++
	a.mu.Unlock()
	return nil
}

func (a *fakeAudio) closeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// constantBlocks splits total frames of a constant signal into blocks.
func constantBlocks(total, channels, block int, v int16) [][]int16 {
	var out [][]int16
	for done := 0; done < total; done += block {
		n := min(block, total-done)
		b := make([]int16, n*channels)
		for i := range b {
			b[i] = v
		}
		out = append(out, b)
	}
	return out
}

// --- Sink ---

type fakeSink struct {
	mu sync.Mutex

	videoPTS   []time.Duration
	videoSrc   []int
	audio      []int16
	finished   map[media.StreamKind]bool
	finishes   int
	aborts     int
	waits      int
	readyCalls int

	rejectVideoAt int // 1-based append index to reject; 0 never
	finishErr     error
	// throttle makes every other ReadyForMore call report false.
	throttle bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{finished: make(map[media.StreamKind]bool)}
}

func (s *fakeSink) ReadyForMore(kind media.StreamKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyCalls++
	return !s.throttle || s.readyCalls%2 == 0
}

func (s *fakeSink) WaitReady(ctx context.Context, kind media.StreamKind) error {
	s.mu.Lock()
	s.waits++
	s.mu.Unlock()
	return ctx.Err()
}

func (s *fakeSink) AppendVideo(f *media.VideoFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectVideoAt > 0 && len(s.videoPTS)+1 == s.rejectVideoAt {
		return errors.New("frame rejected")
	}
	s.videoPTS = append(s.videoPTS, f.PTS)
	s.videoSrc = append(s.videoSrc, int(f.Pixels[0]))
	return nil
}

func (s *fakeSink) AppendAudio(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, samples...)
	return nil
}

func (s *fakeSink) MarkFinished(kind media.StreamKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[kind] = true
}

func (s *fakeSink) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishes++
	return s.finishErr
}

func (s *fakeSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts++
	return nil
}

// --- Toolkit ---

func (tk *fakeToolkit) hold(ctx context.Context, stage string) error {
	if tk.blockIn != stage {
		return nil
	}
	close(tk.blocked)
	<-ctx.Done()
	return ctx.Err()
}

type fakeToolkit struct {
	info    media.SourceInfo
	scanErr error

	video    *fakeVideo
	videoErr error
	audio    *fakeAudio
	audioErr error

	sink    *fakeSink
	sinkErr error

	// blockIn names a setup call ("scan", "open video", "open audio" or
	// "create sink") that signals blocked and then fails only once its
	// context is cancelled.
	blockIn string
	blocked chan struct{}

	mu          sync.Mutex
	audioOpened bool
	sinkParams  SinkParams
	destExisted bool
}

func (tk *fakeToolkit) Scan(ctx context.Context, path string, report func(done, total int)) (media.SourceInfo, error) {
	if err := tk.hold(ctx, "scan"); err != nil {
		return media.SourceInfo{}, err
	}
	if tk.scanErr != nil {
		return media.SourceInfo{}, tk.scanErr
	}
	if report != nil {
		report(1, 2)
		report(2, 2)
	}
	info := tk.info
	info.Path = path
	return info, nil
}

func (tk *fakeToolkit) OpenVideo(ctx context.Context, info media.SourceInfo, strategy Strategy) (VideoSource, error) {
	if err := tk.hold(ctx, "open video"); err != nil {
		return nil, err
	}
	if tk.videoErr != nil {
		return nil, tk.videoErr
	}
	return tk.video, nil
}

func (tk *fakeToolkit) OpenAudio(ctx context.Context, info media.SourceInfo, blockFrames int, strategy Strategy) (AudioSource, error) {
	tk.mu.Lock()
	tk.audioOpened = true
	tk.mu.Unlock()
	if err := tk.hold(ctx, "open audio"); err != nil {
		return nil, err
	}
	if tk.audioErr != nil {
		return nil, tk.audioErr
	}
	return tk.audio, nil
}

func (tk *fakeToolkit) CreateSink(ctx context.Context, params SinkParams) (Sink, error) {
	if err := tk.hold(ctx, "create sink"); err != nil {
		return nil, err
	}
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.sinkParams = params
	if _, err := os.Stat(params.Path); err == nil {
		tk.destExisted = true
	}
	if tk.sinkErr != nil {
		return nil, tk.sinkErr
	}
	return tk.sink, nil
}
