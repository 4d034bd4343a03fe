package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAudioChunkBytesLittleEndian(t *testing.T) {
	chunk := AudioChunk{Samples: []int16{0x7FFF, -0x8000, 0, 1}}
	require.Equal(t, []byte{0xFF, 0x7F, 0x00, 0x80, 0x00, 0x00, 0x01, 0x00}, chunk.Bytes())
	require.Equal(t, MimePCM, chunk.MimeType())
}

func TestAudioChunkDuration(t *testing.T) {
	chunk := AudioChunk{Samples: make([]int16, 1600), SampleRate: 16000}
	require.Equal(t, 100*time.Millisecond, chunk.Duration())
	require.Zero(t, AudioChunk{Samples: make([]int16, 10)}.Duration())
}

func TestEpochMillis(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	require.Equal(t, int64(1700000000123), EpochMillis(ts))
}
