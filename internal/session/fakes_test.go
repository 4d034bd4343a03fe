package session

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/lookout/internal/audio"
	"github.com/rbright/lookout/internal/camera"
	"github.com/rbright/lookout/internal/frame"
	"github.com/rbright/lookout/internal/fsm"
	"github.com/rbright/lookout/internal/media"
	"github.com/rbright/lookout/internal/transport"
)

type staticSurface struct{}

func (staticSurface) Snapshot() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

type fakeCamera struct {
	mu        sync.Mutex
	facing    camera.Facing
	canSwitch bool
	switchErr error
	noSurface bool
	switches  atomic.Int32
}

func (c *fakeCamera) Surface() camera.Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noSurface {
		return nil
	}
	return staticSurface{}
}

func (c *fakeCamera) SwitchFacing(context.Context) (camera.Handle, error) {
	c.switches.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.switchErr != nil {
		return camera.Handle{}, c.switchErr
	}
	c.facing = c.facing.Toggle()
	return camera.Handle{Facing: c.facing, Width: 1280, Height: 720}, nil
}

func (c *fakeCamera) CanSwitch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSwitch
}

func (c *fakeCamera) Handle() (camera.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return camera.Handle{Facing: c.facing, Width: 1280, Height: 720}, true
}

type fakeAudio struct {
	mu       sync.Mutex
	consumer func(media.AudioChunk)
	gate     func() bool
	startErr error
	stopErr  error
	starts   atomic.Int32
	stops    atomic.Int32
	running  atomic.Bool
}

func (a *fakeAudio) Start(context.Context) (audio.Handle, error) {
	a.starts.Add(1)
	if a.startErr != nil {
		return audio.Handle{}, a.startErr
	}
	a.running.Store(true)
	return audio.Handle{Device: audio.Device{ID: "mic-1", Description: "Desk Mic"}, SampleRate: 16000, ChunkSize: 1024}, nil
}

func (a *fakeAudio) OnChunk(fn func(media.AudioChunk)) {
	a.mu.Lock()
	a.consumer = fn
	a.mu.Unlock()
}

func (a *fakeAudio) SetGate(fn func() bool) {
	a.mu.Lock()
	a.gate = fn
	a.mu.Unlock()
}

func (a *fakeAudio) Stop() error {
	a.stops.Add(1)
	a.running.Store(false)
	return a.stopErr
}

// emit mirrors the pipeline dispatcher: gate first, then the consumer.
func (a *fakeAudio) emit(chunk media.AudioChunk) {
	a.mu.Lock()
	consumer, gate := a.consumer, a.gate
	a.mu.Unlock()
	if consumer == nil || (gate != nil && !gate()) {
		return
	}
	consumer(chunk)
}

type fakeSampler struct {
	gate    chan struct{}
	entered chan struct{}
	calls   atomic.Int32
	err     error
}

func (s *fakeSampler) CaptureOnce(_ context.Context, surface frame.Surface) (media.EncodedFrame, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return media.EncodedFrame{}, s.err
	}
	img, err := surface.Snapshot()
	if err != nil {
		return media.EncodedFrame{}, err
	}
	return media.EncodedFrame{Data: []byte{0xFF, 0xD8}, MimeType: media.MimeJPEG, Width: img.Bounds().Dx(), Height: img.Bounds().Dy(), CapturedAt: time.Now()}, nil
}

type fakeTransport struct {
	mu     sync.Mutex
	events []string
	audio  []int16

	startErr error
	frameErr error
	audioErr error
	endErr   error

	startGate    chan struct{}
	startEntered chan struct{}
	audioGate    chan struct{}
	audioEntered chan struct{}

	starts atomic.Int32
	ends   atomic.Int32
	frames atomic.Int32
}

func (t *fakeTransport) record(event string) {
	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()
}

func (t *fakeTransport) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

func (t *fakeTransport) StartSession(context.Context) (transport.SessionHandle, error) {
	t.starts.Add(1)
	if t.startEntered != nil {
		t.startEntered <- struct{}{}
	}
	if t.startGate != nil {
		<-t.startGate
	}
	if t.startErr != nil {
		return transport.SessionHandle{}, t.startErr
	}
	t.record("start")
	return transport.SessionHandle{ID: fmt.Sprintf("remote-%d", t.starts.Load())}, nil
}

func (t *fakeTransport) SendFrame(context.Context, media.EncodedFrame) error {
	if t.frameErr != nil {
		return t.frameErr
	}
	t.frames.Add(1)
	t.record("frame")
	return nil
}

func (t *fakeTransport) SendAudioChunk(_ context.Context, chunk media.AudioChunk) error {
	if t.audioEntered != nil {
		t.audioEntered <- struct{}{}
	}
	if t.audioGate != nil {
		<-t.audioGate
	}
	if t.audioErr != nil {
		return t.audioErr
	}
	t.mu.Lock()
	t.events = append(t.events, "audio")
	if len(chunk.Samples) > 0 {
		t.audio = append(t.audio, chunk.Samples[0])
	}
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) EndSession(context.Context, transport.SessionHandle) error {
	t.ends.Add(1)
	t.record("end")
	return t.endErr
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type tickerFactory struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (f *tickerFactory) New(time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time)}
	f.mu.Lock()
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	return t
}

func (f *tickerFactory) last(t *testing.T) *fakeTicker {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.tickers)
	return f.tickers[len(f.tickers)-1]
}

type fakeIndicator struct {
	mu       sync.Mutex
	starting atomic.Int32
	active   atomic.Int32
	stopped  atomic.Int32
	hides    atomic.Int32
	errors   []string
	notices  []string
}

func (f *fakeIndicator) ShowStarting(context.Context)       { f.starting.Add(1) }
func (f *fakeIndicator) ShowActive(context.Context, string) { f.active.Add(1) }
func (f *fakeIndicator) ShowStopped(context.Context)        { f.stopped.Add(1) }
func (f *fakeIndicator) Hide(context.Context)               { f.hides.Add(1) }

func (f *fakeIndicator) ShowNotice(_ context.Context, msg string) {
	f.mu.Lock()
	f.notices = append(f.notices, msg)
	f.mu.Unlock()
}

func (f *fakeIndicator) ShowError(_ context.Context, msg string) {
	f.mu.Lock()
	f.errors = append(f.errors, msg)
	f.mu.Unlock()
}

func (f *fakeIndicator) errorMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errors...)
}

type harness struct {
	ctrl      *Controller
	camera    *fakeCamera
	audio     *fakeAudio
	sampler   *fakeSampler
	transport *fakeTransport
	indicator *fakeIndicator
	tickers   *tickerFactory
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		camera:    &fakeCamera{facing: camera.FacingFront, canSwitch: true},
		audio:     &fakeAudio{},
		sampler:   &fakeSampler{},
		transport: &fakeTransport{},
		indicator: &fakeIndicator{},
		tickers:   &tickerFactory{},
	}
	h.ctrl = NewController(Deps{
		Camera:    h.camera,
		Audio:     h.audio,
		Sampler:   h.sampler,
		Transport: h.transport,
		Indicator: h.indicator,
	}, append([]Option{WithTicker(h.tickers.New)}, opts...)...)
	return h
}

// tick delivers one tick; the unbuffered channel guarantees the loop took it.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	select {
	case h.tickers.last(t).ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("frame loop did not accept tick")
	}
}

func chunk(v int16) media.AudioChunk {
	return media.AudioChunk{Samples: []int16{v, v}, SampleRate: 16000, CapturedAt: time.Now()}
}

func waitForState(t *testing.T, ctrl *Controller, want fsm.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (current=%s)", want, ctrl.State())
}

