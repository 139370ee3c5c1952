package main

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"sync"

	"github.com/satindergrewal/timescale/internal/engine"
	"github.com/satindergrewal/timescale/internal/media"
	"github.com/satindergrewal/timescale/internal/stream"
)

// server runs at most one job at a time and exposes it over HTTP.
type server struct {
	ctx context.Context
	app *app

	broadcaster *stream.Broadcaster
	webrtc      *stream.WebRTCHandler
	mp3         *stream.HTTPHandler

	mu  sync.Mutex
	job *engine.Job
}

func newServer(ctx context.Context, a *app) *server {
	b := stream.NewBroadcaster()
	return &server{
		ctx:         ctx,
		app:         a,
		broadcaster: b,
		webrtc:      stream.NewWebRTCHandler(b, a.log),
		mp3:         stream.NewHTTPHandler(b, a.cfg.FFmpegPath, a.log),
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/scale", s.handleScale)
	mux.HandleFunc("/api/cancel", s.handleCancel)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/preview", s.handlePreview)
	if s.app.monitor != nil {
		mux.Handle("/stream", s.mp3)
		mux.Handle("/offer", s.webrtc)
	}
	return mux
}

func (s *server) current() *engine.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

func (s *server) cancelCurrent() {
	if j := s.current(); j != nil {
		j.Cancel()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *server) handleScale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	opts, err := s.app.options(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != nil {
		if _, ended := s.job.Result(); !ended {
			http.Error(w, "a job is already running", http.StatusConflict)
			return
		}
	}
	job, err := s.app.engine.Start(s.ctx, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrDegenerateInput) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.job = job
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":          job.ID.String(),
		"source":      job.Source,
		"destination": job.Destination,
	})
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	j := s.current()
	if j == nil {
		http.Error(w, "no job", http.StatusConflict)
		return
	}
	if _, ended := j.Result(); ended {
		http.Error(w, "job already finished", http.StatusConflict)
		return
	}
	j.Cancel()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": j.ID.String()})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"state":            "idle",
		"http_listeners":   s.broadcaster.ListenerCount(),
		"webrtc_listeners": s.webrtc.PeerCount(),
	}
	if s.app.monitor != nil {
		status["monitor_dropped"] = s.app.monitor.Dropped()
	}
	if j := s.current(); j != nil {
		status["id"] = j.ID.String()
		status["source"] = j.Source
		status["destination"] = j.Destination
		status["progress"] = j.Progress()
		status["elapsed"] = j.Elapsed().Seconds()
		status["state"] = "running"
		if res, ended := j.Result(); ended {
			status["state"] = res.Status.String()
			status["message"] = res.Message()
			status["output"] = res.OutputPath
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handlePreview(w http.ResponseWriter, r *http.Request) {
	j := s.current()
	if j == nil {
		http.Error(w, "no job", http.StatusNotFound)
		return
	}
	f := j.Preview()
	if f == nil {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	img, err := previewImage(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	png.Encode(w, img)
}

// previewImage wraps the frame's RGBA pixels without copying.
func previewImage(f *media.VideoFrame) (image.Image, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pixels) < media.RGBASize(f.Width, f.Height) {
		return nil, errors.New("malformed preview frame")
	}
	return &image.NRGBA{
		Pix:    f.Pixels,
		Stride: 4 * f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}, nil
}
