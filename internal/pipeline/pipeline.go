// Package pipeline assembles the concrete capture, encode, and transport components for one owner process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/lookout/internal/audio"
	"github.com/rbright/lookout/internal/camera"
	"github.com/rbright/lookout/internal/config"
	"github.com/rbright/lookout/internal/frame"
	"github.com/rbright/lookout/internal/indicator"
	"github.com/rbright/lookout/internal/logging"
	"github.com/rbright/lookout/internal/session"
	"github.com/rbright/lookout/internal/transport"
)

// Option overrides a default collaborator.
type Option func(*builder)

type builder struct {
	cameraBackend camera.Backend
	audioOpener   audio.Opener
	indicator     session.Indicator
	sessionOpts   []session.Option
	now           func() time.Time
}

// WithCameraBackend replaces the mediadevices camera backend.
func WithCameraBackend(backend camera.Backend) Option {
	return func(b *builder) { b.cameraBackend = backend }
}

// WithAudioOpener replaces the Pulse microphone opener.
func WithAudioOpener(open audio.Opener) Option {
	return func(b *builder) { b.audioOpener = open }
}

// WithIndicator replaces the desktop notification indicator.
func WithIndicator(ind session.Indicator) Option {
	return func(b *builder) { b.indicator = ind }
}

// WithSessionOptions appends session controller options.
func WithSessionOptions(opts ...session.Option) Option {
	return func(b *builder) { b.sessionOpts = append(b.sessionOpts, opts...) }
}

// Stack is one fully wired owner: camera, microphone, sampler, transport, and session controller.
type Stack struct {
	Camera    *camera.Controller
	Audio     *audio.Pipeline
	Sampler   *frame.Sampler
	Transport *transport.Client
	Indicator session.Indicator
	Session   *session.Controller

	facing camera.Facing
	logger *slog.Logger
}

// Build wires every component from runtime config. Nothing is opened yet.
func Build(cfg config.Config, logger *slog.Logger, opts ...Option) (*Stack, error) {
	b := builder{
		cameraBackend: camera.MediaDevices{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.indicator == nil {
		b.indicator = indicator.NewDesktopNotify(cfg.Indicator, logging.Component(logger, "indicator"))
	}

	facing, err := camera.ParseFacing(cfg.Camera.Facing)
	if err != nil {
		return nil, err
	}

	client, err := transport.New(transport.Config{
		Backend:  cfg.Transport.Backend,
		Endpoint: cfg.Transport.Endpoint,
		Timeout:  cfg.Transport.Timeout(),
	}, logging.Component(logger, "transport"))
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	sink := debugSink{logger: logging.Component(logger, "debug"), sampleRate: cfg.Audio.SampleRate, now: b.now}

	audioOpts := make([]audio.Option, 0, 2)
	if b.audioOpener != nil {
		audioOpts = append(audioOpts, audio.WithOpener(b.audioOpener))
	}
	if cfg.Debug.EnableAudioDump {
		audioOpts = append(audioOpts, audio.WithStopHook(func(src audio.Source) {
			sink.writeAudio(src.RawPCM())
		}))
	}
	mic := audio.NewPipeline(audioSettings(cfg.Audio, cfg.Debug), logging.Component(logger, "audio"), audioOpts...)

	cam := camera.NewController(b.cameraBackend, camera.Options{
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	}, logging.Component(logger, "camera"))
	sampler := frame.NewSampler(cfg.Frame.Quality())

	sessionOpts := []session.Option{session.WithFrameInterval(cfg.Frame.Interval())}
	if cfg.Debug.EnableFrameDump {
		sessionOpts = append(sessionOpts, session.WithFrameHook(sink.writeFrame))
	}
	sessionOpts = append(sessionOpts, b.sessionOpts...)

	ctl := session.NewController(session.Deps{
		Camera:    cam,
		Audio:     mic,
		Sampler:   sampler,
		Transport: client,
		Indicator: b.indicator,
		Logger:    logging.Component(logger, "session"),
	}, sessionOpts...)

	return &Stack{
		Camera:    cam,
		Audio:     mic,
		Sampler:   sampler,
		Transport: client,
		Indicator: b.indicator,
		Session:   ctl,
		facing:    facing,
		logger:    logger,
	}, nil
}

// OpenCamera starts the configured facing. The session itself opens the microphone.
func (s *Stack) OpenCamera(ctx context.Context) (camera.Handle, error) {
	handle, err := s.Camera.Start(ctx, s.facing)
	if err != nil {
		return camera.Handle{}, err
	}
	if s.logger != nil {
		s.logger.Info("camera ready", "device", handle.Device.Label, "info", handle.Info())
	}
	return handle, nil
}

// Close releases the camera and transport. Call after the session is stopped.
func (s *Stack) Close() error {
	s.Camera.Stop()
	if err := s.Transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func audioSettings(cfg config.AudioConfig, debug config.DebugConfig) audio.Settings {
	return audio.Settings{
		Input:            cfg.Input,
		Fallback:         cfg.Fallback,
		SampleRate:       cfg.SampleRate,
		ChunkSize:        cfg.ChunkSize,
		EchoCancellation: cfg.EchoCancellation,
		NoiseSuppression: cfg.NoiseSuppression,
		RetainPCM:        debug.EnableAudioDump,
	}
}

// IsDeviceError reports whether err came from camera or microphone acquisition.
func IsDeviceError(err error) bool {
	return errors.Is(err, camera.ErrNoDevice) ||
		errors.Is(err, camera.ErrAccess) ||
		errors.Is(err, audio.ErrMicrophoneAccess)
}
