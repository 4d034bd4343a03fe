package doctor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/lookout/internal/audio"
	"github.com/rbright/lookout/internal/camera"
	"github.com/rbright/lookout/internal/config"
	"github.com/rbright/lookout/internal/media"
)

type listOnlyCameras struct {
	devices []media.CaptureDevice
	err     error
}

func (c listOnlyCameras) Enumerate(context.Context) ([]media.CaptureDevice, error) {
	return c.devices, c.err
}

func (listOnlyCameras) Open(context.Context, string, int, int) (camera.Stream, error) {
	return nil, errors.New("not supported")
}

func selectMic(context.Context, string, string) (audio.Selection, error) {
	return audio.Selection{Device: audio.Device{ID: "alsa_input.usb-mic"}}, nil
}

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "/run/user/1000")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.TrimSpace(v) != "" },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckBinaryFound(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")
}

func TestCheckBinaryMissing(t *testing.T) {
	check := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckCameras(t *testing.T) {
	r := runner{cameras: listOnlyCameras{devices: []media.CaptureDevice{
		{ID: "a", Label: "Integrated Camera", Kind: media.KindVideo},
		{ID: "m", Label: "Mic", Kind: media.KindAudio},
	}}}
	check := r.checkCameras(context.Background())
	require.True(t, check.Pass)
	require.Equal(t, `1 video input(s): "Integrated Camera" (switching unavailable)`, check.Message)

	r = runner{cameras: listOnlyCameras{}}
	check = r.checkCameras(context.Background())
	require.False(t, check.Pass)
	require.Contains(t, check.Message, camera.ErrNoDevice.Error())
}

func TestCheckAudioSelectionReportsFallbackWarning(t *testing.T) {
	r := runner{selectAudio: func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{Device: audio.Device{ID: "default"}, Warning: "input \"usb\" unavailable"}, nil
	}}
	check := r.checkAudioSelection(context.Background(), config.Default())
	require.True(t, check.Pass)
	require.Equal(t, `selected "default" (input "usb" unavailable)`, check.Message)

	r = runner{selectAudio: func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{}, errors.New("connect pulse server: refused")
	}}
	check = r.checkAudioSelection(context.Background(), config.Default())
	require.False(t, check.Pass)
}

func TestRunAllChecksPassAgainstLiveProxy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodOptions, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	busctlDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(busctlDir, "busctl"), []byte("#!/usr/bin/env bash\nexit 0\n"), 0o755))
	t.Setenv("PATH", busctlDir+":"+os.Getenv("PATH"))
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Transport.Endpoint = server.URL

	report := Run(context.Background(), config.Loaded{Config: cfg, Path: "/tmp/lookout.jsonc"},
		WithCameraBackend(listOnlyCameras{devices: []media.CaptureDevice{
			{ID: "a", Label: "Integrated Camera", Kind: media.KindVideo},
			{ID: "b", Label: "Rear Camera", Kind: media.KindVideo},
		}}),
		WithAudioSelector(selectMic),
	)

	require.True(t, report.OK(), report.String())
	require.Len(t, report.Checks, 6)
	require.Equal(t, "transport.http", report.Checks[5].Name)
	require.Contains(t, report.Checks[5].Message, server.URL)
}

func TestRunFailsWhenProxyUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Transport.Endpoint = server.URL
	cfg.Indicator.Enable = false

	report := Run(context.Background(), config.Loaded{Config: cfg},
		WithCameraBackend(listOnlyCameras{err: errors.New("v4l2 unavailable")}),
		WithAudioSelector(selectMic),
	)

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[FAIL] camera.devices: enumerate cameras: v4l2 unavailable")
	require.Contains(t, text, "[FAIL] transport.http: probe failed")
	require.NotContains(t, text, "busctl")
}

func TestCheckTransportReadyRejectsEmptyEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Endpoint = "  "
	r := runner{}
	check := r.checkTransportReady(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Equal(t, "transport.endpoint is empty", check.Message)
}
