// Package frame snapshots the live camera surface and encodes JPEG frames.
package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/rbright/lookout/internal/media"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

// ErrNoSurface reports a capture attempt without a live camera.
var ErrNoSurface = errors.New("no video surface")

// Surface yields the current camera image at native resolution.
type Surface interface {
	Snapshot() (image.Image, error)
}

// Sampler encodes surface snapshots. It holds no session state.
type Sampler struct {
	quality int
	now     func() time.Time
}

// NewSampler builds a sampler. quality is clamped to 1..100; 0 selects DefaultQuality.
func NewSampler(quality int) *Sampler {
	switch {
	case quality == 0:
		quality = DefaultQuality
	case quality < 1:
		quality = 1
	case quality > 100:
		quality = 100
	}
	return &Sampler{quality: quality, now: time.Now}
}

// Quality returns the effective JPEG quality.
func (s *Sampler) Quality() int {
	return s.quality
}

// CaptureOnce snapshots surface and returns one encoded frame stamped with
// the snapshot time.
func (s *Sampler) CaptureOnce(ctx context.Context, surface Surface) (media.EncodedFrame, error) {
	if surface == nil {
		return media.EncodedFrame{}, ErrNoSurface
	}
	if err := ctx.Err(); err != nil {
		return media.EncodedFrame{}, err
	}

	img, err := surface.Snapshot()
	if err != nil {
		return media.EncodedFrame{}, fmt.Errorf("snapshot surface: %w", err)
	}
	capturedAt := s.now()

	bounds := img.Bounds()
	if bounds.Empty() {
		return media.EncodedFrame{}, fmt.Errorf("snapshot surface: empty image %v", bounds)
	}

	if err := ctx.Err(); err != nil {
		return media.EncodedFrame{}, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return media.EncodedFrame{}, fmt.Errorf("jpeg encode: %w", err)
	}

	return media.EncodedFrame{
		Data:       buf.Bytes(),
		MimeType:   media.MimeJPEG,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: capturedAt,
	}, nil
}
