package pipeline

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/lookout/internal/media"
)

// debugSink writes optional session artifacts under state/lookout/debug.
type debugSink struct {
	logger     *slog.Logger
	sampleRate int
	now        func() time.Time
}

// writeAudio writes raw PCM to WAV when debug.audio_dump is enabled.
func (d debugSink) writeAudio(rawPCM []byte) {
	if len(rawPCM) == 0 {
		return
	}

	file, err := createDebugFile("audio", "wav", d.now())
	if err != nil {
		d.logWarn("unable to create debug audio dump", err)
		return
	}
	defer file.Close()

	if err := writePCM16WAV(file, rawPCM, d.sampleRate, 1); err != nil {
		d.logWarn("unable to write debug audio dump", err)
	}
}

// writeFrame stores one accepted JPEG frame.
func (d debugSink) writeFrame(frame media.EncodedFrame) {
	if len(frame.Data) == 0 {
		return
	}
	at := frame.CapturedAt
	if at.IsZero() {
		at = d.now()
	}

	file, err := createDebugFile("frame", "jpg", at)
	if err != nil {
		d.logWarn("unable to create debug frame dump", err)
		return
	}
	defer file.Close()

	if _, err := file.Write(frame.Data); err != nil {
		d.logWarn("unable to write debug frame dump", err)
	}
}

func (d debugSink) logWarn(message string, err error) {
	if d.logger == nil {
		return
	}
	d.logger.Warn(message, "error", err.Error())
}

// createDebugFile creates timestamped debug artifacts under state/lookout/debug.
func createDebugFile(prefix string, extension string, at time.Time) (*os.File, error) {
	stateDir, err := resolveStateDir()
	if err != nil {
		return nil, err
	}
	debugDir := filepath.Join(stateDir, "lookout", "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	timestamp := at.Format("20060102-150405.000")
	path := filepath.Join(debugDir, fmt.Sprintf("%s-%s.%s", prefix, timestamp, extension))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}

// resolveStateDir returns XDG_STATE_HOME fallback path for debug artifacts.
func resolveStateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state: %w", err)
	}
	return filepath.Join(home, ".local", "state"), nil
}

// writePCM16WAV writes raw little-endian PCM bytes with a minimal WAV header.
func writePCM16WAV(w io.Writer, pcm []byte, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}
