package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbright/lookout/internal/media"
)

// Source is one live microphone stream producing ordered chunks.
type Source interface {
	Chunks() <-chan media.AudioChunk
	Device() Device
	RawPCM() []byte
	Stop() error
}

type sampleCounter interface {
	SampleCount() int64
}

// Opener selects a microphone and starts a Source.
type Opener func(ctx context.Context, settings Settings) (Source, Selection, error)

// Handle describes the microphone bound to a running pipeline.
type Handle struct {
	Device     Device
	SampleRate int
	ChunkSize  int
	Warning    string
}

// Stats counts dispatch outcomes since construction.
type Stats struct {
	Delivered int64
	Dropped   int64
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithOpener replaces the Pulse-backed source opener.
func WithOpener(open Opener) Option {
	return func(p *Pipeline) {
		if open != nil {
			p.open = open
		}
	}
}

// WithStopHook runs hook with the released source after each Stop.
func WithStopHook(hook func(Source)) Option {
	return func(p *Pipeline) {
		p.onStop = hook
	}
}

// Pipeline owns the microphone for one session and forwards chunks to a single
// consumer in capture order.
type Pipeline struct {
	settings Settings
	open     Opener
	onStop   func(Source)
	logger   *slog.Logger

	mu       sync.Mutex
	source   Source
	handle   Handle
	done     chan struct{}
	consumer func(media.AudioChunk)
	gate     func() bool

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewPipeline builds an idle pipeline.
func NewPipeline(settings Settings, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		settings: settings,
		open:     openPulse,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func openPulse(ctx context.Context, settings Settings) (Source, Selection, error) {
	selection, err := SelectDevice(ctx, settings.Input, settings.Fallback)
	if err != nil {
		return nil, Selection{}, fmt.Errorf("%w: %w", ErrMicrophoneAccess, err)
	}
	capture, err := StartCapture(ctx, selection.Device, settings)
	if err != nil {
		return nil, Selection{}, err
	}
	return capture, selection, nil
}

// Start acquires the microphone and begins dispatching chunks.
func (p *Pipeline) Start(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source != nil {
		return Handle{}, errors.New("audio pipeline already started")
	}

	source, selection, err := p.open(ctx, p.settings)
	if err != nil {
		if !errors.Is(err, ErrMicrophoneAccess) {
			err = fmt.Errorf("%w: %w", ErrMicrophoneAccess, err)
		}
		return Handle{}, err
	}

	p.source = source
	p.done = make(chan struct{})
	p.handle = Handle{
		Device:     source.Device(),
		SampleRate: p.settings.SampleRate,
		ChunkSize:  p.settings.ChunkSize,
		Warning:    selection.Warning,
	}
	if selection.Warning != "" {
		p.logWarn("audio device fallback selected", "warning", selection.Warning)
	}
	p.logInfo("audio capture started",
		"device", p.handle.Device.String(),
		"sample_rate", p.handle.SampleRate,
		"chunk_size", p.handle.ChunkSize,
	)

	go p.dispatch(source.Chunks(), p.done)
	return p.handle, nil
}

// OnChunk registers the single chunk consumer.
func (p *Pipeline) OnChunk(fn func(media.AudioChunk)) {
	p.mu.Lock()
	p.consumer = fn
	p.mu.Unlock()
}

// SetGate installs a predicate consulted per chunk; closed-gate chunks are dropped.
func (p *Pipeline) SetGate(fn func() bool) {
	p.mu.Lock()
	p.gate = fn
	p.mu.Unlock()
}

// Handle returns the current microphone handle and whether one exists.
func (p *Pipeline) Handle() (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle, p.source != nil
}

// Stats returns dispatch counters.
func (p *Pipeline) Stats() Stats {
	return Stats{Delivered: p.delivered.Load(), Dropped: p.dropped.Load()}
}

// Stop releases the microphone and waits for the dispatcher to drain. Safe to
// call repeatedly or before Start.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	source := p.source
	done := p.done
	p.source = nil
	p.done = nil
	p.handle = Handle{}
	p.mu.Unlock()

	if source == nil {
		return nil
	}

	err := source.Stop()
	if done != nil {
		<-done
	}
	if p.onStop != nil {
		p.onStop(source)
	}
	stats := p.Stats()
	attrs := []any{"delivered", stats.Delivered, "dropped", stats.Dropped}
	if counter, ok := source.(sampleCounter); ok {
		attrs = append(attrs, "samples", counter.SampleCount())
	}
	p.logInfo("audio capture stopped", attrs...)
	if err != nil {
		return fmt.Errorf("stop audio capture: %w", err)
	}
	return nil
}

func (p *Pipeline) dispatch(chunks <-chan media.AudioChunk, done chan struct{}) {
	defer close(done)
	for chunk := range chunks {
		p.mu.Lock()
		consumer, gate := p.consumer, p.gate
		p.mu.Unlock()

		if consumer == nil || (gate != nil && !gate()) {
			p.dropped.Add(1)
			continue
		}
		consumer(chunk)
		p.delivered.Add(1)
	}
}

func (p *Pipeline) logInfo(msg string, attrs ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Info(msg, attrs...)
}

func (p *Pipeline) logWarn(msg string, attrs ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Warn(msg, attrs...)
}
