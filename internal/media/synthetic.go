package media

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = time.Second / 30
)

// Opus TOC for a 20 ms CELT frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Placeholder payload paced on the video track so the remote side receives RTP.
var videoPlaceholder = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}

// Synthetic is a capture source that needs no hardware. It sends Opus
// silence and a placeholder VP8 stream at real-time pace, which is enough
// for headless hosts and tests.
type Synthetic struct {
	StreamID string
}

func (s Synthetic) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, ErrAccessDenied
	}

	streamID := s.StreamID
	if streamID == "" {
		streamID = "mediconnect"
	}

	type paced struct {
		track *webrtc.TrackLocalStaticSample
		frame []byte
		every time.Duration
	}
	var sources []paced

	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID)
		if err != nil {
			return nil, err
		}
		sources = append(sources, paced{t, opusSilence, audioFrame})
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID)
		if err != nil {
			return nil, err
		}
		sources = append(sources, paced{t, videoPlaceholder, videoFrame})
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	tracks := make([]webrtc.TrackLocal, 0, len(sources))
	for _, p := range sources {
		tracks = append(tracks, p.track)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(p.every)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					// Unbound tracks drop samples; errors only mean nobody is listening yet.
					_ = p.track.WriteSample(pionmedia.Sample{Data: p.frame, Duration: p.every})
				}
			}
		}()
	}

	return NewLocalStream(tracks, func() {
		close(done)
		wg.Wait()
	}), nil
}

// Denied is a source that always refuses, as when the user blocks access.
type Denied struct{}

func (Denied) Acquire(context.Context, Constraints) (*LocalStream, error) {
	return nil, ErrAccessDenied
}
