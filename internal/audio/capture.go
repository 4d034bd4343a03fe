package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/rbright/lookout/internal/media"
)

const chunkQueueSize = 64

// ErrMicrophoneAccess reports a denied, missing, or unusable microphone.
var ErrMicrophoneAccess = errors.New("microphone access failed")

// Settings controls source selection and stream shape for one capture.
type Settings struct {
	Input            string
	Fallback         string
	SampleRate       int
	ChunkSize        int
	EchoCancellation bool
	NoiseSuppression bool
	RetainPCM        bool
}

// Capture owns one Pulse record stream and emits fixed-size PCM16 chunks.
type Capture struct {
	device   Device
	settings Settings
	client   *pulse.Client
	stream   *pulse.RecordStream

	chunks chan media.AudioChunk
	stopCh chan struct{}
	now    func() time.Time

	mu      sync.Mutex
	pending []int16
	rawPCM  []byte
	stopped bool

	inflight sync.WaitGroup
	samples  atomic.Int64
}

// StartCapture starts recording from the selected device.
func StartCapture(ctx context.Context, device Device, settings Settings) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if settings.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be > 0", ErrMicrophoneAccess)
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, fmt.Errorf("%w: connect pulse server: %w", ErrMicrophoneAccess, err)
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: resolve source %q: %w", ErrMicrophoneAccess, device.ID, err)
	}

	capture := newCapture(device, settings)
	capture.client = client

	opts := []pulse.RecordOption{
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(settings.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(settings.ChunkSize * 4)),
		pulse.RecordMediaName("lookout session"),
	}
	if settings.EchoCancellation {
		opts = append(opts, pulse.RecordRawOption(requestEchoCancel(settings.NoiseSuppression)))
	}

	stream, err := client.NewRecord(pulse.Float32Writer(capture.onSamples), opts...)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: create record stream: %w", ErrMicrophoneAccess, err)
	}
	capture.stream = stream
	stream.Start()

	return capture, nil
}

func newCapture(device Device, settings Settings) *Capture {
	return &Capture{
		device:   device,
		settings: settings,
		chunks:   make(chan media.AudioChunk, chunkQueueSize),
		stopCh:   make(chan struct{}),
		now:      time.Now,
		pending:  make([]int16, 0, settings.ChunkSize*2),
	}
}

// requestEchoCancel asks PulseAudio/PipeWire to route the stream through the
// echo-cancel filter module.
func requestEchoCancel(noiseSuppression bool) func(*pulseproto.CreateRecordStream) {
	args := []string{"aec_method=webrtc"}
	if noiseSuppression {
		args = append(args, `aec_args="noise_suppression=1"`)
	} else {
		args = append(args, `aec_args="noise_suppression=0"`)
	}
	return func(req *pulseproto.CreateRecordStream) {
		if req.Properties == nil {
			req.Properties = make(pulseproto.PropList)
		}
		req.Properties["filter.want"] = pulseproto.PropListString("echo-cancel")
		req.Properties["filter.apply.echo-cancel.parameters"] = pulseproto.PropListString(strings.Join(args, " "))
	}
}

// Chunks exposes the ordered chunk stream. It is closed by Stop.
func (c *Capture) Chunks() <-chan media.AudioChunk {
	return c.chunks
}

// Device returns the source this capture records from.
func (c *Capture) Device() Device {
	return c.device
}

// RawPCM returns a copy of all captured PCM16LE bytes when retention is enabled.
func (c *Capture) RawPCM() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.rawPCM))
	copy(out, c.rawPCM)
	return out
}

// SampleCount returns the number of samples converted so far.
func (c *Capture) SampleCount() int64 {
	return c.samples.Load()
}

// Stop halts recording and closes the chunk channel. Samples short of one
// full chunk are discarded.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	c.pending = c.pending[:0]
	c.mu.Unlock()

	close(c.chunks)
	return nil
}

// onSamples is the Pulse writer callback. It converts and slices the block
// into chunks while holding the capture lock so ordering follows the stream.
func (c *Capture) onSamples(block []float32) (int, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	c.inflight.Add(1)

	converted := ConvertSamples(block)
	c.samples.Add(int64(len(converted)))
	if c.settings.RetainPCM {
		c.rawPCM = appendPCM16LE(c.rawPCM, converted)
	}
	c.pending = append(c.pending, converted...)

	var ready [][]int16
	for len(c.pending) >= c.settings.ChunkSize {
		chunk := make([]int16, c.settings.ChunkSize)
		copy(chunk, c.pending[:c.settings.ChunkSize])
		ready = append(ready, chunk)
		c.pending = c.pending[c.settings.ChunkSize:]
	}
	// Pending is re-sliced from the front; compact so the backing array does not grow unbounded.
	if len(c.pending) > 0 && cap(c.pending)-len(c.pending) < c.settings.ChunkSize {
		c.pending = append(make([]int16, 0, c.settings.ChunkSize*2), c.pending...)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	at := c.now()
	for _, samples := range ready {
		select {
		case c.chunks <- media.AudioChunk{Samples: samples, SampleRate: c.settings.SampleRate, CapturedAt: at}:
		case <-c.stopCh:
			return len(block), nil
		}
	}
	return len(block), nil
}

func appendPCM16LE(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
