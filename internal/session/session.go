// Package session coordinates the capture session lifecycle, streaming loops, and camera switching.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rbright/lookout/internal/audio"
	"github.com/rbright/lookout/internal/camera"
	"github.com/rbright/lookout/internal/frame"
	"github.com/rbright/lookout/internal/fsm"
	"github.com/rbright/lookout/internal/media"
	"github.com/rbright/lookout/internal/transport"
)

var (
	// ErrNotIdle reports a start request while a session exists.
	ErrNotIdle = errors.New("session is not idle")
	// ErrStartAborted reports a start cancelled by a stop request.
	ErrStartAborted = errors.New("session start aborted")
	// ErrSwitchUnavailable reports a camera switch outside idle/active or during another switch.
	ErrSwitchUnavailable = errors.New("camera switch unavailable")
)

// Status lines reported to the indicator and IPC status.
const (
	StatusIdle          = "Ready"
	StatusStarting      = "Starting session..."
	StatusActive        = "Session active - AI is listening"
	StatusStopped       = "Session stopped"
	StatusSwitchFailed  = "Failed to switch camera"
	statusStartFailedAt = "Failed to start session: "
)

// Camera is the session-facing subset of camera.Controller.
type Camera interface {
	Surface() camera.Surface
	SwitchFacing(ctx context.Context) (camera.Handle, error)
	CanSwitch() bool
	Handle() (camera.Handle, bool)
}

// Audio is the session-facing subset of audio.Pipeline.
type Audio interface {
	Start(ctx context.Context) (audio.Handle, error)
	OnChunk(fn func(media.AudioChunk))
	SetGate(fn func() bool)
	Stop() error
}

// Sampler encodes one frame from a surface.
type Sampler interface {
	CaptureOnce(ctx context.Context, surface frame.Surface) (media.EncodedFrame, error)
}

// Transport is the session-facing subset of transport.Client.
type Transport interface {
	StartSession(ctx context.Context) (transport.SessionHandle, error)
	SendFrame(ctx context.Context, frame media.EncodedFrame) error
	SendAudioChunk(ctx context.Context, chunk media.AudioChunk) error
	EndSession(ctx context.Context, handle transport.SessionHandle) error
}

// Indicator renders session status to the user.
type Indicator interface {
	ShowStarting(context.Context)
	ShowActive(context.Context, string)
	ShowNotice(context.Context, string)
	ShowError(context.Context, string)
	ShowStopped(context.Context)
	Hide(context.Context)
}

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) ShowStarting(context.Context)       {}
func (noopIndicator) ShowActive(context.Context, string) {}
func (noopIndicator) ShowNotice(context.Context, string) {}
func (noopIndicator) ShowError(context.Context, string)  {}
func (noopIndicator) ShowStopped(context.Context)        {}
func (noopIndicator) Hide(context.Context)               {}

// Stats counts outbound traffic for the current or last session.
type Stats struct {
	FramesSent    int64
	FramesDropped int64
	FramesFailed  int64
	ChunksSent    int64
	ChunksDropped int64
	ChunksFailed  int64
}

type counters struct {
	framesSent    atomic.Int64
	framesDropped atomic.Int64
	framesFailed  atomic.Int64
	chunksSent    atomic.Int64
	chunksDropped atomic.Int64
	chunksFailed  atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		FramesSent:    c.framesSent.Load(),
		FramesDropped: c.framesDropped.Load(),
		FramesFailed:  c.framesFailed.Load(),
		ChunksSent:    c.chunksSent.Load(),
		ChunksDropped: c.chunksDropped.Load(),
		ChunksFailed:  c.chunksFailed.Load(),
	}
}

func (c *counters) reset() {
	c.framesSent.Store(0)
	c.framesDropped.Store(0)
	c.framesFailed.Store(0)
	c.chunksSent.Store(0)
	c.chunksDropped.Store(0)
	c.chunksFailed.Store(0)
}

// Result summarizes one stopped session or one Run invocation.
type Result struct {
	State          fsm.State
	SessionID      string
	StartedAt      time.Time
	StoppedAt      time.Time
	Stats          Stats
	AbortRequested bool
	TeardownErr    error
	Err            error
}

// Deps wires the controller's collaborators. Camera and Indicator may be nil.
type Deps struct {
	Camera    Camera
	Audio     Audio
	Sampler   Sampler
	Transport Transport
	Indicator Indicator
	Logger    *slog.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithFrameInterval sets the frame ticker period.
func WithFrameInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithTicker replaces the frame ticker factory.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(c *Controller) {
		if newTicker != nil {
			c.newTicker = newTicker
		}
	}
}

// WithFrameHook runs hook after every frame the endpoint accepted.
func WithFrameHook(hook func(media.EncodedFrame)) Option {
	return func(c *Controller) {
		c.onFrameSent = hook
	}
}

// Controller owns SessionState. It is the only writer of state.
type Controller struct {
	logger    *slog.Logger
	camera    Camera
	audio     Audio
	sampler   Sampler
	transport Transport
	indicator Indicator

	interval    time.Duration
	newTicker   func(time.Duration) Ticker
	onFrameSent func(media.EncodedFrame)

	audioFailureLog rate.Sometimes
	audioFailures   atomic.Int64
	stats           counters

	mu         sync.Mutex
	state      fsm.State
	generation uint64
	abort      bool
	remote     transport.SessionHandle
	micHandle  audio.Handle
	startedAt  time.Time
	status     string
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	inflight   sync.WaitGroup

	switching atomic.Bool
	actions   chan action
}

// NewController constructs an idle controller.
func NewController(deps Deps, opts ...Option) *Controller {
	indicator := deps.Indicator
	if indicator == nil {
		indicator = noopIndicator{}
	}
	c := &Controller{
		logger:          deps.Logger,
		camera:          deps.Camera,
		audio:           deps.Audio,
		sampler:         deps.Sampler,
		transport:       deps.Transport,
		indicator:       indicator,
		interval:        time.Second,
		newTicker:       newTimeTicker,
		audioFailureLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
		state:           fsm.StateIdle,
		status:          StatusIdle,
		actions:         make(chan action, 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the last user-facing status line.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stats returns traffic counters for the current or last session.
func (c *Controller) Stats() Stats {
	return c.stats.snapshot()
}

// Start opens the microphone and the remote session, then starts streaming.
// Failures roll back whatever was opened and leave the controller idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != fsm.StateIdle {
		state := c.state
		c.mu.Unlock()
		c.logWarn("start ignored", "state", string(state))
		return fmt.Errorf("%w: state %s", ErrNotIdle, state)
	}
	if err := c.transitionLocked(fsm.EventStart); err != nil {
		c.mu.Unlock()
		return err
	}
	c.generation++
	gen := c.generation
	c.abort = false
	c.status = StatusStarting
	c.mu.Unlock()

	c.stats.reset()
	c.indicator.ShowStarting(ctx)
	c.logInfo("session starting", "generation", gen)

	c.audio.SetGate(func() bool {
		if c.gateOpen(gen) {
			return true
		}
		c.stats.chunksDropped.Add(1)
		return false
	})
	c.audio.OnChunk(func(chunk media.AudioChunk) { c.forwardAudio(gen, chunk) })

	mic, err := c.audio.Start(ctx)
	if err != nil {
		return c.failStart(ctx, err)
	}
	if c.abortRequested() {
		return c.abortStart(ctx, nil)
	}

	remote, err := c.transport.StartSession(ctx)
	if err != nil {
		if stopErr := c.audio.Stop(); stopErr != nil {
			c.logWarn("audio rollback failed", "error", stopErr.Error())
		}
		return c.failStart(ctx, err)
	}

	c.mu.Lock()
	if c.abort {
		c.mu.Unlock()
		return c.abortStart(ctx, &remote)
	}
	if err := c.transitionLocked(fsm.EventStarted); err != nil {
		c.mu.Unlock()
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.remote = remote
	c.micHandle = mic
	c.startedAt = time.Now()
	c.loopCancel = cancel
	c.loopDone = done
	c.status = StatusActive
	c.mu.Unlock()

	go c.frameLoop(loopCtx, gen, c.newTicker(c.interval), done)

	detail := c.describeDevices()
	c.indicator.ShowActive(ctx, detail)
	c.logInfo("session active",
		"session_id", remote.ID,
		"generation", gen,
		"devices", detail,
		"frame_interval", c.interval.String(),
	)
	return nil
}

// Stop tears the session down in reverse dependency order. It never fails;
// teardown errors are reported in Result.TeardownErr.
func (c *Controller) Stop(ctx context.Context) Result {
	c.mu.Lock()
	switch c.state {
	case fsm.StateIdle, fsm.StateStopping:
		state := c.state
		c.mu.Unlock()
		return Result{State: state, Stats: c.stats.snapshot()}
	case fsm.StateStarting:
		c.abort = true
		c.mu.Unlock()
		c.logInfo("stop requested during start; aborting")
		return Result{State: fsm.StateStarting, AbortRequested: true}
	}

	if err := c.transitionLocked(fsm.EventStop); err != nil {
		state := c.state
		c.mu.Unlock()
		return Result{State: state, TeardownErr: err}
	}
	cancel := c.loopCancel
	done := c.loopDone
	remote := c.remote
	startedAt := c.startedAt
	c.loopCancel = nil
	c.loopDone = nil
	c.mu.Unlock()

	// Frames first: no new tick may start once the loop is gone.
	if cancel != nil {
		cancel()
		<-done
	}

	var errs []error
	if err := c.audio.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop audio: %w", err))
	}

	c.inflight.Wait()

	if err := c.transport.EndSession(ctx, remote); err != nil {
		errs = append(errs, fmt.Errorf("end remote session: %w", err))
	}

	c.mu.Lock()
	_ = c.transitionLocked(fsm.EventStopped)
	c.remote = transport.SessionHandle{}
	c.micHandle = audio.Handle{}
	c.status = StatusStopped
	state := c.state
	c.mu.Unlock()

	c.indicator.ShowStopped(ctx)

	result := Result{
		State:       state,
		SessionID:   remote.ID,
		StartedAt:   startedAt,
		StoppedAt:   time.Now(),
		Stats:       c.stats.snapshot(),
		TeardownErr: errors.Join(errs...),
	}
	c.logSessionResult(result)
	return result
}

// SwitchCamera toggles the camera facing. Session state is unaffected.
func (c *Controller) SwitchCamera(ctx context.Context) (camera.Handle, error) {
	state := c.State()
	if !fsm.CanSwitchCamera(state) {
		return camera.Handle{}, fmt.Errorf("%w: state %s", ErrSwitchUnavailable, state)
	}
	if c.camera == nil {
		return camera.Handle{}, fmt.Errorf("%w: no camera", ErrSwitchUnavailable)
	}
	if !c.switching.CompareAndSwap(false, true) {
		return camera.Handle{}, fmt.Errorf("%w: switch already in progress", ErrSwitchUnavailable)
	}
	defer c.switching.Store(false)

	if !c.camera.CanSwitch() {
		return camera.Handle{}, camera.ErrSingleCamera
	}

	handle, err := c.camera.SwitchFacing(ctx)
	if err != nil {
		c.setStatus(StatusSwitchFailed)
		c.indicator.ShowError(ctx, StatusSwitchFailed)
		c.logError("camera switch failed", err)
		return camera.Handle{}, err
	}

	msg := fmt.Sprintf("Switched to %s camera", handle.Facing)
	c.setStatus(msg)
	c.indicator.ShowNotice(ctx, msg)
	c.logInfo("camera switched", "facing", string(handle.Facing), "resolution", handle.Info())
	return handle, nil
}

func (c *Controller) failStart(ctx context.Context, err error) error {
	c.mu.Lock()
	_ = c.transitionLocked(fsm.EventFail)
	c.abort = false
	msg := statusStartFailedAt + err.Error()
	c.status = msg
	c.mu.Unlock()

	c.indicator.ShowError(ctx, msg)
	c.logError("session start failed", err)
	return err
}

// abortStart rolls back a start that a stop request overtook.
func (c *Controller) abortStart(ctx context.Context, remote *transport.SessionHandle) error {
	var errs []error
	if remote != nil {
		if err := c.transport.EndSession(ctx, *remote); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.audio.Stop(); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	_ = c.transitionLocked(fsm.EventFail)
	c.abort = false
	c.status = StatusStopped
	c.mu.Unlock()

	c.indicator.ShowStopped(ctx)
	if err := errors.Join(errs...); err != nil {
		c.logWarn("start rollback incomplete", "error", err.Error())
	}
	c.logInfo("session start aborted")
	return ErrStartAborted
}

func (c *Controller) abortRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abort
}

func (c *Controller) setStatus(msg string) {
	c.mu.Lock()
	c.status = msg
	c.mu.Unlock()
}

// transitionLocked applies one FSM event. Callers hold c.mu.
func (c *Controller) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.logError("session transition rejected", err)
		return err
	}
	c.state = next
	return nil
}

func (c *Controller) describeDevices() string {
	c.mu.Lock()
	mic := c.micHandle
	c.mu.Unlock()

	parts := ""
	if c.camera != nil {
		if handle, ok := c.camera.Handle(); ok {
			parts = "camera " + handle.Info()
		}
	}
	if mic.Device.ID != "" || mic.Device.Description != "" {
		if parts != "" {
			parts += ", "
		}
		parts += "mic " + mic.Device.String()
	}
	return parts
}

func (c *Controller) logSessionResult(result Result) {
	if c.logger == nil {
		return
	}
	attrs := []any{
		"session_id", result.SessionID,
		"state", string(result.State),
		"frames_sent", result.Stats.FramesSent,
		"frames_dropped", result.Stats.FramesDropped,
		"frames_failed", result.Stats.FramesFailed,
		"chunks_sent", result.Stats.ChunksSent,
		"chunks_dropped", result.Stats.ChunksDropped,
		"chunks_failed", result.Stats.ChunksFailed,
	}
	if !result.StartedAt.IsZero() {
		attrs = append(attrs, "duration_ms", result.StoppedAt.Sub(result.StartedAt).Milliseconds())
	}
	if result.TeardownErr != nil {
		c.logger.Warn("session stopped with teardown errors", append(attrs, "error", result.TeardownErr.Error())...)
		return
	}
	c.logger.Info("session stopped", attrs...)
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
