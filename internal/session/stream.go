package session

import (
	"context"
	"time"

	"github.com/rbright/lookout/internal/frame"
	"github.com/rbright/lookout/internal/fsm"
	"github.com/rbright/lookout/internal/media"
)

// Ticker drives frame sampling.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// gateOpen reports whether output of generation gen may still be sent.
func (c *Controller) gateOpen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == fsm.StateActive && c.generation == gen
}

// beginSend admits one send for generation gen and registers it as in flight.
// Stop waits for every admitted send before reporting idle.
func (c *Controller) beginSend(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != fsm.StateActive || c.generation != gen {
		return false
	}
	c.inflight.Add(1)
	return true
}

func (c *Controller) endSend() {
	c.inflight.Done()
}

// frameLoop launches one capture per tick until ctx is cancelled. Captures
// run independently and may finish out of order.
func (c *Controller) frameLoop(ctx context.Context, gen uint64, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			go c.captureAndSend(ctx, gen)
		}
	}
}

func (c *Controller) captureAndSend(ctx context.Context, gen uint64) {
	if !c.gateOpen(gen) {
		c.stats.framesDropped.Add(1)
		return
	}

	var surface frame.Surface
	if c.camera != nil {
		if s := c.camera.Surface(); s != nil {
			surface = s
		}
	}
	if surface == nil {
		c.stats.framesDropped.Add(1)
		c.logDebug("frame skipped; no video surface")
		return
	}

	encoded, err := c.sampler.CaptureOnce(ctx, surface)
	if err != nil {
		c.stats.framesDropped.Add(1)
		c.logDebug("frame capture failed", "error", err.Error())
		return
	}

	if !c.beginSend(gen) {
		c.stats.framesDropped.Add(1)
		return
	}
	defer c.endSend()

	if err := c.transport.SendFrame(context.Background(), encoded); err != nil {
		c.stats.framesFailed.Add(1)
		c.logWarn("frame send failed", "error", err.Error())
		return
	}
	c.stats.framesSent.Add(1)
	if c.onFrameSent != nil {
		c.onFrameSent(encoded)
	}
}

// forwardAudio runs on the audio dispatch goroutine, so chunks are sent in
// capture order.
func (c *Controller) forwardAudio(gen uint64, chunk media.AudioChunk) {
	if !c.beginSend(gen) {
		c.stats.chunksDropped.Add(1)
		return
	}
	defer c.endSend()

	if err := c.transport.SendAudioChunk(context.Background(), chunk); err != nil {
		c.stats.chunksFailed.Add(1)
		c.logAudioFailure(err)
		return
	}
	c.stats.chunksSent.Add(1)
}

// logAudioFailure logs the first failure, then at most one warning per
// interval carrying the count since the last one.
func (c *Controller) logAudioFailure(err error) {
	c.audioFailures.Add(1)
	c.audioFailureLog.Do(func() {
		c.logWarn("audio send failed", "error", err.Error(), "failures", c.audioFailures.Swap(0))
	})
}

func (c *Controller) logDebug(msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, attrs...)
}
