// Package camera enumerates video inputs and owns the single live camera stream.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/rbright/lookout/internal/media"
)

var (
	// ErrNoDevice reports that no video input exists.
	ErrNoDevice = errors.New("no video input devices found")
	// ErrAccess reports a denied or unsatisfiable camera open.
	ErrAccess = errors.New("camera access failed")
	// ErrSingleCamera reports a switch request with only one camera attached.
	ErrSingleCamera = errors.New("only one camera available")
	// ErrNoStream reports a snapshot against a released stream.
	ErrNoStream = errors.New("camera stream is not active")
)

// Stream is one opened camera.
type Stream interface {
	// Read returns the next frame. The image must stay valid after the next Read.
	Read() (image.Image, error)
	Close() error
}

// Backend enumerates and opens platform cameras.
type Backend interface {
	Enumerate(ctx context.Context) ([]media.CaptureDevice, error)
	Open(ctx context.Context, deviceID string, width int, height int) (Stream, error)
}

// Surface exposes frames of the live stream to the frame sampler.
type Surface interface {
	Snapshot() (image.Image, error)
}

// Handle describes the live video stream.
type Handle struct {
	Device media.CaptureDevice
	Facing Facing
	Width  int
	Height int
}

// Info formats the handle as "WIDTHxHEIGHT (Facing)".
func (h Handle) Info() string {
	return fmt.Sprintf("%dx%d (%s)", h.Width, h.Height, h.Facing.Title())
}

// Enumerator lists video inputs.
type Enumerator struct {
	backend Backend
}

// NewEnumerator wraps a backend.
func NewEnumerator(backend Backend) *Enumerator {
	return &Enumerator{backend: backend}
}

// ListVideoInputs returns the current video inputs, in platform order.
func (e *Enumerator) ListVideoInputs(ctx context.Context) ([]media.CaptureDevice, error) {
	devices, err := e.backend.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate cameras: %w", err)
	}
	videos := make([]media.CaptureDevice, 0, len(devices))
	for _, device := range devices {
		if device.Kind == media.KindVideo {
			videos = append(videos, device)
		}
	}
	if len(videos) == 0 {
		return nil, ErrNoDevice
	}
	return videos, nil
}

// Options sets the ideal capture resolution.
type Options struct {
	Width  int
	Height int
}

// Controller owns at most one live camera stream.
type Controller struct {
	enumerator *Enumerator
	backend    Backend
	opts       Options
	logger     *slog.Logger

	// reads serializes frame reads; mu is never held across a Read so a
	// stalled device cannot block Stop or Handle.
	reads sync.Mutex

	mu      sync.Mutex
	facing  Facing
	stream  Stream
	handle  Handle
	cameras int
}

// NewController builds a controller with no open stream.
func NewController(backend Backend, opts Options, logger *slog.Logger) *Controller {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	return &Controller{
		enumerator: NewEnumerator(backend),
		backend:    backend,
		opts:       opts,
		logger:     logger,
		facing:     FacingFront,
	}
}

// Start releases any live stream and opens the camera for facing.
func (c *Controller) Start(ctx context.Context, facing Facing) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx, facing)
}

// SwitchFacing opens the opposite camera. On failure the previous facing is
// reopened; if that fails too the controller is left without a stream.
func (c *Controller) SwitchFacing(ctx context.Context) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.facing
	next := previous.Toggle()

	handle, err := c.startLocked(ctx, next)
	if err == nil {
		return handle, nil
	}

	if _, revertErr := c.startLocked(ctx, previous); revertErr != nil {
		c.logError("camera revert failed", revertErr, "facing", string(previous))
		return Handle{}, fmt.Errorf("switch to %s camera: %w (revert to %s failed: %v)", next, err, previous, revertErr)
	}
	c.logWarn("camera switch failed; reverted", "facing", string(previous), "error", err.Error())
	return Handle{}, fmt.Errorf("switch to %s camera: %w", next, err)
}

// Stop releases the live stream. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
}

// Surface returns the live surface, or nil when no stream is open.
func (c *Controller) Surface() Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	return &liveSurface{controller: c, stream: c.stream}
}

// Active reports whether a stream is open.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Handle returns the live stream description.
func (c *Controller) Handle() (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle, c.stream != nil
}

// CanSwitch reports whether more than one camera was seen at the last open.
func (c *Controller) CanSwitch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameras > 1
}

func (c *Controller) startLocked(ctx context.Context, facing Facing) (Handle, error) {
	c.releaseLocked()

	devices, err := c.enumerator.ListVideoInputs(ctx)
	if err != nil {
		return Handle{}, err
	}
	c.cameras = len(devices)

	device, _ := resolveDevice(devices, facing)
	stream, err := c.backend.Open(ctx, device.ID, c.opts.Width, c.opts.Height)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: open %q: %w", ErrAccess, device.ID, err)
	}

	// The first frame carries the negotiated resolution.
	img, err := stream.Read()
	if err != nil {
		_ = stream.Close()
		return Handle{}, fmt.Errorf("%w: read first frame from %q: %w", ErrAccess, device.ID, err)
	}
	bounds := img.Bounds()

	c.stream = stream
	c.facing = facing
	c.handle = Handle{
		Device: device,
		Facing: facing,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
	c.logInfo("camera started",
		"device", device.ID,
		"label", device.Label,
		"facing", string(facing),
		"resolution", c.handle.Info(),
	)
	return c.handle, nil
}

func (c *Controller) releaseLocked() {
	if c.stream == nil {
		return
	}
	if err := c.stream.Close(); err != nil {
		c.logWarn("camera release failed", "error", err.Error())
	}
	c.stream = nil
	c.handle = Handle{}
}

type liveSurface struct {
	controller *Controller
	stream     Stream
}

// Snapshot reads one frame while the stream is still the live one. Stop closes
// the stream, which unblocks a pending Read.
func (s *liveSurface) Snapshot() (image.Image, error) {
	s.controller.reads.Lock()
	defer s.controller.reads.Unlock()

	if !s.live() {
		return nil, ErrNoStream
	}
	img, err := s.stream.Read()
	if !s.live() {
		return nil, ErrNoStream
	}
	return img, err
}

func (s *liveSurface) live() bool {
	s.controller.mu.Lock()
	defer s.controller.mu.Unlock()
	return s.controller.stream == s.stream
}

func (c *Controller) logInfo(msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(msg, attrs...)
}

func (c *Controller) logWarn(msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, attrs...)
}

func (c *Controller) logError(msg string, err error, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Error(msg, append(attrs, "error", err.Error())...)
}
