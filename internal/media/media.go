// Package media defines the capture value types exchanged between capture, encode, and transport stages.
package media

import (
	"encoding/binary"
	"time"
)

// Kind distinguishes video and audio capture devices.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

const (
	MimeJPEG = "image/jpeg"
	MimePCM  = "audio/pcm"
)

// CaptureDevice is one immutable device enumeration snapshot.
type CaptureDevice struct {
	ID    string
	Label string
	Kind  Kind
}

// EncodedFrame is one compressed video frame ready for transmission.
type EncodedFrame struct {
	Data       []byte
	MimeType   string
	Width      int
	Height     int
	CapturedAt time.Time
}

// AudioChunk is one fixed-size block of signed 16-bit mono PCM samples.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	CapturedAt time.Time
}

// MimeType returns the wire mime tag for PCM chunks.
func (AudioChunk) MimeType() string {
	return MimePCM
}

// Bytes encodes the samples as little-endian PCM16.
func (c AudioChunk) Bytes() []byte {
	out := make([]byte, len(c.Samples)*2)
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Duration reports the playback length of the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// EpochMillis converts a capture timestamp to the wire timestamp format.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
