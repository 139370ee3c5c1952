package main

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/config"
	"github.com/satindergrewal/timescale/internal/engine"
	"github.com/satindergrewal/timescale/internal/media"
)

// stubToolkit fails every scan, or blocks it until the job is cancelled.
type stubToolkit struct {
	block bool
}

func (s stubToolkit) Scan(ctx context.Context, path string, report func(done, total int)) (media.SourceInfo, error) {
	if s.block {
		<-ctx.Done()
		return media.SourceInfo{}, ctx.Err()
	}
	return media.SourceInfo{}, errors.New("no such file")
}

func (stubToolkit) OpenVideo(context.Context, media.SourceInfo, engine.Strategy) (engine.VideoSource, error) {
	return nil, errors.New("unused")
}

func (stubToolkit) OpenAudio(context.Context, media.SourceInfo, int, engine.Strategy) (engine.AudioSource, error) {
	return nil, errors.New("unused")
}

func (stubToolkit) CreateSink(context.Context, engine.SinkParams) (engine.Sink, error) {
	return nil, errors.New("unused")
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		OutputDir:  t.TempDir(),
		Factor:     1.5,
		FrameRate:  30,
		AudioBlock: 1024,
		Strategy:   "resample",
		SampleRate: 48000,
		Channels:   2,
		VideoCodec: "libx264",
		AudioCodec: "pcm_s16le",
	}
}

func testServer(t *testing.T, tk engine.Toolkit) (*server, *httptest.Server) {
	t.Helper()
	a := newApp(testConfig(t), zerolog.Nop(), tk)
	s := newServer(context.Background(), a)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func status(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return out
}

func waitJob(t *testing.T, s *server) {
	t.Helper()
	j := s.current()
	if j == nil {
		t.Fatal("no job")
	}
	select {
	case <-j.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

// --- HTTP API ---

func TestStatusIdle(t *testing.T) {
	_, ts := testServer(t, stubToolkit{})
	st := status(t, ts.URL)
	if st["state"] != "idle" {
		t.Errorf("state = %v, want idle", st["state"])
	}
}

func TestScaleReportsFailure(t *testing.T) {
	s, ts := testServer(t, stubToolkit{})

	resp := post(t, ts.URL+"/api/scale", `{"source":"/in/missing.mov","factor":2}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var started map[string]string
	json.NewDecoder(resp.Body).Decode(&started)
	if !strings.HasSuffix(started["destination"], "missing-scaled.mov") || started["id"] == "" {
		t.Errorf("response = %v", started)
	}

	waitJob(t, s)
	st := status(t, ts.URL)
	if st["state"] != "failed" {
		t.Errorf("state = %v, want failed", st["state"])
	}
	if msg, _ := st["message"].(string); !strings.Contains(msg, "no such file") {
		t.Errorf("message = %q", msg)
	}
}

func TestScaleRejectsBadRequests(t *testing.T) {
	_, ts := testServer(t, stubToolkit{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", "{"},
		{"no source", `{"factor":2}`},
		{"unknown strategy", `{"source":"a.mov","strategy":"reverse"}`},
		{"negative fps", `{"source":"a.mov","fps":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := post(t, ts.URL+"/api/scale", tt.body); resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	resp, err := http.Get(ts.URL + "/api/scale")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp.StatusCode)
	}
}

func TestScaleOneJobAtATimeAndCancel(t *testing.T) {
	s, ts := testServer(t, stubToolkit{block: true})

	if resp := post(t, ts.URL+"/api/cancel", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel without job = %d, want 409", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/scale", `{"source":"a.mov"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first scale = %d, want 202", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/scale", `{"source":"b.mov"}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("second scale = %d, want 409", resp.StatusCode)
	}
	if st := status(t, ts.URL); st["state"] != "running" {
		t.Errorf("state = %v, want running", st["state"])
	}

	if resp := post(t, ts.URL+"/api/cancel", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel = %d, want 200", resp.StatusCode)
	}
	waitJob(t, s)
	st := status(t, ts.URL)
	if st["state"] != "cancelled" || st["message"] != "Cancelled" {
		t.Errorf("status = %v, want cancelled", st)
	}

	if resp := post(t, ts.URL+"/api/cancel", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel after end = %d, want 409", resp.StatusCode)
	}
	// A finished job frees the slot.
	if resp := post(t, ts.URL+"/api/scale", `{"source":"b.mov"}`); resp.StatusCode != http.StatusAccepted {
		t.Errorf("scale after end = %d, want 202", resp.StatusCode)
	}
	s.cancelCurrent()
	waitJob(t, s)
}

func TestPreviewWithoutFrame(t *testing.T) {
	s, ts := testServer(t, stubToolkit{})

	resp, err := http.Get(ts.URL + "/api/preview")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("preview without job = %d, want 404", resp.StatusCode)
	}

	post(t, ts.URL+"/api/scale", `{"source":"a.mov"}`)
	waitJob(t, s)
	resp, err = http.Get(ts.URL + "/api/preview")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("preview without frame = %d, want 404", resp.StatusCode)
	}
}

func TestMonitorRoutesFollowConfig(t *testing.T) {
	_, ts := testServer(t, stubToolkit{})
	resp, err := http.Get(ts.URL + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("/stream with monitor off = %d, want 404", resp.StatusCode)
	}

	cfg := testConfig(t)
	cfg.Monitor = true
	cfg.SampleRate = 44100
	if a := newApp(cfg, zerolog.Nop(), stubToolkit{}); a.monitor != nil {
		t.Error("monitor enabled for a 44.1kHz layout")
	}
	cfg.SampleRate = 48000
	if a := newApp(cfg, zerolog.Nop(), stubToolkit{}); a.monitor == nil {
		t.Error("monitor disabled for 48kHz stereo")
	}
}

// --- Helpers ---

func TestPreviewImage(t *testing.T) {
	f := &media.VideoFrame{
		Pixels: []byte{255, 0, 0, 255, 0, 0, 255, 128},
		Width:  2,
		Height: 1,
	}
	img, err := previewImage(f)
	if err != nil {
		t.Fatalf("previewImage: %v", err)
	}
	if got := img.At(1, 0); got != (color.NRGBA{0, 0, 255, 128}) {
		t.Errorf("pixel (1,0) = %v", got)
	}
	if _, err := previewImage(&media.VideoFrame{Pixels: make([]byte, 3), Width: 1, Height: 1}); err == nil {
		t.Error("short frame: want error")
	}
}

func TestDefaultDestination(t *testing.T) {
	if got := defaultDestination("/videos/Trip.MP4", "/out"); got != filepath.Join("/out", "Trip-scaled.mov") {
		t.Errorf("defaultDestination = %q", got)
	}
}

func TestOptionsPrecedence(t *testing.T) {
	a := newApp(testConfig(t), zerolog.Nop(), stubToolkit{})

	opts, err := a.options(jobRequest{Source: "a.mov"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Factor != 1.5 || opts.DesiredDuration != 0 || opts.FrameRate != 30 {
		t.Errorf("defaults = factor %v, duration %v, fps %d", opts.Factor, opts.DesiredDuration, opts.FrameRate)
	}

	opts, _ = a.options(jobRequest{Source: "a.mov", Factor: 3, Duration: 10 * time.Second, FPS: 60})
	if opts.Factor != 0 || opts.DesiredDuration != 10*time.Second || opts.FrameRate != 60 {
		t.Errorf("duration override = factor %v, duration %v, fps %d", opts.Factor, opts.DesiredDuration, opts.FrameRate)
	}

	opts, _ = a.options(jobRequest{Source: "a.mov", Seconds: 2.5})
	if opts.DesiredDuration != 2500*time.Millisecond {
		t.Errorf("duration_seconds = %v, want 2.5s", opts.DesiredDuration)
	}

	opts, _ = a.options(jobRequest{Source: "a.mov", Strategy: "passthrough"})
	if opts.Strategy == nil || opts.Strategy.Name() != "passthrough" {
		t.Errorf("strategy = %v, want passthrough", opts.Strategy)
	}
	if opts.AudioTap != nil {
		t.Error("AudioTap set with the monitor disabled")
	}
}

func TestNewLoggerLevel(t *testing.T) {
	if got := newLogger("debug").GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("level = %v, want debug", got)
	}
	if got := newLogger("loud").GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("invalid level = %v, want info", got)
	}
}
