package engine

import (
	"sync"
	"sync/atomic"

	"github.com/satindergrewal/timescale/internal/media"
)

// RunState is the state shared by the video and audio loops of one job:
// the cancellation flag, the per-stream finished flags, the first failure
// and the once-only finalization.
type RunState struct {
	cancelled atomic.Bool
	video     atomic.Bool
	audio     atomic.Bool

	mu  sync.Mutex
	err error

	finalize sync.Once
}

// Cancel requests cooperative cancellation. Safe to call any number of
// times from any goroutine.
func (s *RunState) Cancel() { s.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (s *RunState) Cancelled() bool { return s.cancelled.Load() }

// Fail records err if it is the first failure. It returns err so callers
// can write `return s.Fail(err)`.
func (s *RunState) Fail(err error) error {
	if err == nil {
		return nil
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	return err
}

// Err returns the first recorded failure.
func (s *RunState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// MarkFinished flags a stream as finished and reports whether both streams
// are now finished.
func (s *RunState) MarkFinished(kind media.StreamKind) bool {
	switch kind {
	case media.StreamVideo:
		s.video.Store(true)
	case media.StreamAudio:
		s.audio.Store(true)
	}
	return s.BothFinished()
}

// Finished reports whether kind has finished.
func (s *RunState) Finished(kind media.StreamKind) bool {
	switch kind {
	case media.StreamVideo:
		return s.video.Load()
	case media.StreamAudio:
		return s.audio.Load()
	}
	return false
}

// BothFinished reports whether video and audio have both finished.
func (s *RunState) BothFinished() bool {
	return s.video.Load() && s.audio.Load()
}

// Finalize runs fn the first time it is called after both streams have
// finished. It reports whether fn ran.
func (s *RunState) Finalize(fn func()) bool {
	if !s.BothFinished() {
		return false
	}
	ran := false
	s.finalize.Do(func() {
		ran = true
		fn()
	})
	return ran
}
