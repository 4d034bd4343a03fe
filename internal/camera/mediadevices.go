package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/rbright/lookout/internal/media"
)

var errStreamClosed = errors.New("camera stream closed")

// MediaDevices is the pion/mediadevices backend. A camera driver package must
// be imported by the binary for devices to appear.
type MediaDevices struct{}

// Enumerate lists video inputs known to the registered drivers.
func (MediaDevices) Enumerate(ctx context.Context) ([]media.CaptureDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos := mediadevices.EnumerateDevices()
	devices := make([]media.CaptureDevice, 0, len(infos))
	for _, info := range infos {
		if info.Kind != mediadevices.VideoInput {
			continue
		}
		devices = append(devices, media.CaptureDevice{
			ID:    info.DeviceID,
			Label: info.Label,
			Kind:  media.KindVideo,
		})
	}
	return devices, nil
}

// Open starts the device with an ideal resolution.
func (MediaDevices) Open(ctx context.Context, deviceID string, width int, height int) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(deviceID)
			c.Width = prop.Int(width)
			c.Height = prop.Int(height)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("get user media: no video track")
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeTracks(stream)
		return nil, fmt.Errorf("get user media: unexpected track type %T", tracks[0])
	}

	return &mediaStream{
		stream: stream,
		reader: track.NewReader(false),
		done:   make(chan struct{}),
	}, nil
}

type frameReader interface {
	Read() (image.Image, func(), error)
}

type mediaStream struct {
	stream mediadevices.MediaStream
	reader frameReader

	done      chan struct{}
	closeOnce sync.Once
}

type readResult struct {
	img image.Image
	err error
}

// Read copies the frame out of the driver buffer before releasing it. Close
// unblocks a Read waiting on a stalled driver.
func (s *mediaStream) Read() (image.Image, error) {
	result := make(chan readResult, 1)
	go func() {
		img, release, err := s.reader.Read()
		if err != nil {
			result <- readResult{err: err}
			return
		}
		if release != nil {
			defer release()
		}
		result <- readResult{img: cloneImage(img)}
	}()

	select {
	case r := <-result:
		return r.img, r.err
	case <-s.done:
		return nil, errStreamClosed
	}
}

func (s *mediaStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		closeTracks(s.stream)
	})
	return nil
}

func closeTracks(stream mediadevices.MediaStream) {
	if stream == nil {
		return
	}
	for _, track := range stream.GetTracks() {
		_ = track.Close()
	}
}

func cloneImage(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst
}
