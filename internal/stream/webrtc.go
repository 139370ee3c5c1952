package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/audio"
)

// WebRTCHandler answers SDP offers with a send-only Opus track carrying
// the monitor. Each peer gets its own broadcaster listener and encoder.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	api         *webrtc.API
	log         zerolog.Logger

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Listener
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(b *Broadcaster, log zerolog.Logger) *WebRTCHandler {
	log = log.With().Str("component", "webrtc-monitor").Logger()
	return &WebRTCHandler{
		broadcaster: b,
		api:         webrtc.NewAPI(webrtc.WithMediaEngine(opusOnly(log))),
		log:         log,
		peers:       make(map[*webrtc.PeerConnection]*Listener),
	}
}

// opusOnly offers a single stereo Opus codec, the only one the monitor sends.
func opusOnly(log zerolog.Logger) *webrtc.MediaEngine {
	m := &webrtc.MediaEngine{}
	err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   audio.SampleRate,
			Channels:    audio.Channels,
			SDPFmtpLine: "minptime=10;useinbandfec=1;stereo=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio)
	if err != nil {
		log.Warn().Err(err).Msg("register opus, using default codecs")
		m = &webrtc.MediaEngine{}
		m.RegisterDefaultCodecs()
	}
	return m
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// negotiationError carries the HTTP status for a failed offer.
type negotiationError struct {
	status int
	step   string
	err    error
}

func (e *negotiationError) Error() string { return e.step + ": " + e.err.Error() }
func (e *negotiationError) Unwrap() error { return e.err }

func failed(status int, step string, err error) error {
	return &negotiationError{status: status, step: step, err: err}
}

// statusOf maps a negotiation failure to an HTTP status.
func statusOf(err error) int {
	var ne *negotiationError
	if errors.As(err, &ne) {
		return ne.status
	}
	return http.StatusInternalServerError
}

// peer is a negotiated connection that has not started streaming yet.
type peer struct {
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample
	sender *webrtc.RTPSender
}

// negotiate builds a connection for offer and waits for ICE gathering so
// the answer carries every candidate. The connection is closed on error.
func (h *WebRTCHandler) negotiate(ctx context.Context, offer webrtc.SessionDescription) (*peer, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, failed(http.StatusBadRequest, "read offer", errors.New("not an SDP offer"))
	}
	pc, err := h.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, failed(http.StatusInternalServerError, "create peer connection", err)
	}
	p, err := h.answer(ctx, pc, offer)
	if err != nil {
		pc.Close()
		return nil, err
	}
	return p, nil
}

func (h *WebRTCHandler) answer(ctx context.Context, pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (*peer, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"timescale-monitor",
	)
	if err != nil {
		return nil, failed(http.StatusInternalServerError, "create track", err)
	}
	tr, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, failed(http.StatusInternalServerError, "add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, failed(http.StatusBadRequest, "set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, failed(http.StatusBadRequest, "create answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, failed(http.StatusInternalServerError, "set local description", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, failed(http.StatusServiceUnavailable, "gather candidates", ctx.Err())
	}
	return &peer{pc: pc, track: track, sender: tr.Sender()}, nil
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}
	p, err := h.negotiate(r.Context(), offer)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("negotiation failed")
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	h.start(p, r.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.pc.LocalDescription())
}

// start registers the peer and streams to it until it disconnects.
func (h *WebRTCHandler) start(p *peer, remote string) {
	l := h.broadcaster.Subscribe()
	h.mu.Lock()
	h.peers[p.pc] = l
	n := len(h.peers)
	h.mu.Unlock()
	h.log.Info().Str("remote", remote).Int("peers", n).Msg("peer connected")

	// Receiver reports must be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := p.sender.Read(buf); err != nil {
				return
			}
		}
	}()

	go func() {
		enc, err := newOpusEncoder()
		if err != nil {
			h.log.Error().Err(err).Msg("monitor unavailable")
			h.drop(p.pc, "encoder")
			return
		}
		feed := newOpusFeed(enc, p.track)
		if err := feed.run(l); err != nil {
			h.log.Debug().Err(err).Msg("track closed")
		}
		if feed.failures > 0 {
			h.log.Warn().Int("failed", feed.failures).Int("encoded", feed.encoded).Msg("opus frames skipped")
		}
		h.drop(p.pc, "stream ended")
	}()

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.drop(p.pc, s.String())
		}
	})
}

// drop forgets pc, releases its listener and closes it. Later calls for
// the same connection do nothing.
func (h *WebRTCHandler) drop(pc *webrtc.PeerConnection, reason string) {
	h.mu.Lock()
	l, ok := h.peers[pc]
	delete(h.peers, pc)
	n := len(h.peers)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.broadcaster.Unsubscribe(l)
	pc.Close()
	h.log.Info().Str("reason", reason).Int("peers", n).Msg("peer disconnected")
}
