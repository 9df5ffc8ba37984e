//go:build linux && camera

package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// Devices captures from the local camera and microphone.
type Devices struct {
	selector *mediadevices.CodecSelector
}

// NewDeviceSource prepares VP8 and Opus encoders for capture.
func NewDeviceSource() (Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Devices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *Devices) ConfigureCodecs(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

// Acquire opens the devices. If the requested combination cannot be opened
// it falls back to video only, then audio only.
func (d *Devices) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	attempts := []Constraints{c}
	if c.Audio && c.Video {
		attempts = append(attempts, Constraints{Video: true}, Constraints{Audio: true})
	}

	var lastErr error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.Video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420}
				mc.Width = prop.IntRanged{Max: 640}
				mc.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.Audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			slog.Warn("capture attempt failed", "audio", a.Audio, "video", a.Video, "err", err)
			lastErr = err
			continue
		}

		captured := stream.GetTracks()
		tracks := make([]webrtc.TrackLocal, 0, len(captured))
		for _, t := range captured {
			tracks = append(tracks, t)
		}
		slog.Info("local media captured", "tracks", len(tracks))

		return NewLocalStream(tracks, func() {
			for _, t := range captured {
				t.Close()
			}
		}), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrAccessDenied, lastErr)
}
