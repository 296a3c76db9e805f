package rtc

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // register camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // register microphone adapter
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // register screen adapter
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// Track is a locally captured media track as the manager needs it: a
// sendable pion track that can signal its own end (screen capture
// stopped from outside) and release its device on Close.
type Track interface {
	webrtc.TrackLocal
	OnEnded(func(error))
	Close() error
}

// Devices abstracts platform media capture so session flows can run
// against fakes in tests. Configure registers the capture codecs on
// the media engine backing a peer connection.
type Devices interface {
	Configure(engine *webrtc.MediaEngine) error
	OpenUserMedia() ([]Track, error)
	OpenDisplayMedia() ([]Track, error)
}

// CaptureDevices is the production Devices implementation on top of
// pion/mediadevices, encoding video as VP8 and audio as Opus.
type CaptureDevices struct {
	selector *mediadevices.CodecSelector
}

// NewCaptureDevices builds the codec stack for local capture.
func NewCaptureDevices() (*CaptureDevices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("create VP8 params: %w", err)
	}
	vpxParams.BitRate = 500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("create Opus params: %w", err)
	}
	opusParams.Latency = opus.Latency20ms

	return &CaptureDevices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *CaptureDevices) Configure(engine *webrtc.MediaEngine) error {
	d.selector.Populate(engine)
	return nil
}

// OpenUserMedia captures camera (720p) and microphone tracks.
func (d *CaptureDevices) OpenUserMedia() ([]Track, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(1280)
			c.Height = prop.Int(720)
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	return wrapTracks(stream), nil
}

// OpenDisplayMedia captures a screen track.
func (d *CaptureDevices) OpenDisplayMedia() ([]Track, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenShareUnsupported, err)
	}
	return wrapTracks(stream), nil
}

func wrapTracks(stream mediadevices.MediaStream) []Track {
	source := stream.GetTracks()
	tracks := make([]Track, 0, len(source))
	for _, t := range source {
		tracks = append(tracks, t)
	}
	return tracks
}
