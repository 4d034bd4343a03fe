// Package config resolves, parses, validates, and defaults lookout configuration.
package config

import (
	"math"
	"time"
)

// Config is the fully materialized runtime configuration used by lookout.
type Config struct {
	Transport TransportConfig
	Camera    CameraConfig
	Frame     FrameConfig
	Audio     AudioConfig
	Indicator IndicatorConfig
	Debug     DebugConfig
}

// TransportConfig selects the remote endpoint and wire backend.
type TransportConfig struct {
	Backend   string
	Endpoint  string
	TimeoutMS int
}

// Timeout returns the per-request timeout as a duration.
func (t TransportConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

// CameraConfig controls the initial facing and preferred capture resolution.
type CameraConfig struct {
	Facing string
	Width  int
	Height int
}

// FrameConfig controls periodic frame sampling.
type FrameConfig struct {
	IntervalMS  int
	JPEGQuality float64
}

// Interval returns the frame send period as a duration.
func (f FrameConfig) Interval() time.Duration {
	return time.Duration(f.IntervalMS) * time.Millisecond
}

// Quality maps the 0..1 quality fraction onto the 1..100 JPEG encoder scale.
func (f FrameConfig) Quality() int {
	q := int(math.Round(f.JPEGQuality * 100))
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

// AudioConfig controls microphone selection and chunking.
type AudioConfig struct {
	Input            string
	Fallback         string
	SampleRate       int
	ChunkSize        int
	EchoCancellation bool
	NoiseSuppression bool
}

// IndicatorConfig controls desktop status notifications.
type IndicatorConfig struct {
	Enable         bool
	SoundEnable    bool
	DesktopAppName string
	ErrorTimeoutMS int
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
	EnableFrameDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
