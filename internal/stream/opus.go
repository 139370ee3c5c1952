package stream

import (
	"fmt"

	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/timescale/internal/audio"
)

// opusBitrate suits a stereo preview; it is not the delivered output.
const opusBitrate = 128000

// frameEncoder compresses one 20ms PCM frame into dst.
type frameEncoder interface {
	Encode(pcm []int16, dst []byte) (int, error)
}

// sampleWriter accepts one encoded media sample.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

func newOpusEncoder() (*opus.Encoder, error) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		return nil, fmt.Errorf("opus bitrate: %w", err)
	}
	return enc, nil
}

// opusFeed encodes the frames of one listener onto one track.
type opusFeed struct {
	enc frameEncoder
	out sampleWriter
	buf []byte

	encoded  int
	failures int
}

func newOpusFeed(enc frameEncoder, out sampleWriter) *opusFeed {
	// 4000 bytes is the largest packet libopus recommends for one frame.
	return &opusFeed{enc: enc, out: out, buf: make([]byte, 4000)}
}

// run feeds l until it is unsubscribed or the track stops accepting
// samples. Frames the encoder rejects are skipped; each is a 20ms gap.
func (f *opusFeed) run(l *Listener) error {
	for {
		select {
		case <-l.Done():
			return nil
		case frame, ok := <-l.C:
			if !ok {
				return nil
			}
			n, err := f.enc.Encode(frame, f.buf)
			if err != nil {
				f.failures++
				continue
			}
			f.encoded++
			if err := f.out.WriteSample(media.Sample{Data: f.buf[:n], Duration: audio.FrameDuration}); err != nil {
				return err
			}
		}
	}
}
