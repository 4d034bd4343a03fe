package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/lookout/internal/audio"
	"github.com/rbright/lookout/internal/camera"
	"github.com/rbright/lookout/internal/doctor"
	"github.com/rbright/lookout/internal/fsm"
	"github.com/rbright/lookout/internal/ipc"
	"github.com/rbright/lookout/internal/media"
	"github.com/rbright/lookout/internal/pipeline"
	"github.com/rbright/lookout/internal/session"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "lookout")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoRunningOwner(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	for _, cmd := range []string{"stop", "switch", "quit"} {
		var stdout bytes.Buffer
		var stderr bytes.Buffer
		runner := Runner{Stdout: &stdout, Stderr: &stderr}

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 1, exitCode, cmd)
		require.Contains(t, stderr.String(), "no running lookout owner", cmd)
	}
}

func TestRunnerForwardsCommandsToRunningOwner(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")
	commands := make(chan string, 8)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "lookout.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "active", Message: "Session active - AI is listening"}
		case ipc.CommandStart, ipc.CommandStop, ipc.CommandToggle, ipc.CommandSwitch, ipc.CommandQuit:
			return ipc.Response{OK: true, Message: req.Command + " requested"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	runner := Runner{}
	sent := []string{"status", "start", "stop", "toggle", "switch", "quit"}
	for _, cmd := range sent {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner.Stdout = stdout
		runner.Stderr = stderr

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 0, exitCode, cmd)
		require.Empty(t, stderr.String(), cmd)
		if cmd == "status" {
			require.Equal(t, "active: Session active - AI is listening\n", stdout.String())
		} else {
			require.Equal(t, cmd+" requested\n", stdout.String())
		}
	}

	got := make([]string, 0, len(sent))
	for range sent {
		got = append(got, <-commands)
	}
	require.Equal(t, sent, got)
}

func TestRunnerForwardedErrorExitsNonZero(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "lookout.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: false, State: "idle", Error: "only one camera available"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "switch"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "only one camera available")
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "lookout.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	serverCtx, cancelServer := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ipc.Serve(serverCtx, listener, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
			switch req.Command {
			case ipc.CommandStatus:
				return ipc.Response{OK: true, State: "active"}
			default:
				return ipc.Response{OK: false, Error: "unsupported"}
			}
		}))
	}()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "active", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.CommandSwitch)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")

	cancelServer()
	require.NoError(t, <-serverDone)
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "lookout.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "lookout.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, `{"transport": {"endpoint": "http://127.0.0.1:1/api"}, "indicator": {"enable": false}}`)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{
		Stdout:  &stdout,
		Stderr:  &stderr,
		cameras: &stubCameras{devices: twoCameras()},
		doctorOpts: []doctor.Option{doctor.WithAudioSelector(func(context.Context, string, string) (audio.Selection, error) {
			return audio.Selection{Device: audio.Device{ID: "mic-1"}}, nil
		})},
	}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "[OK] config: loaded")
	require.Contains(t, stdout.String(), "[OK] camera.devices: 2 video input(s)")
	require.Contains(t, stdout.String(), `[OK] audio.device: selected "mic-1"`)
	require.Contains(t, stdout.String(), "[FAIL] transport.http")
}

func TestRunnerDevicesListsCamerasAndMicrophones(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{
		Stdout:  &stdout,
		Stderr:  &stderr,
		cameras: &stubCameras{devices: twoCameras()},
		microphones: func(context.Context) ([]audio.Device, error) {
			return []audio.Device{{ID: "mic-1", Description: "Desk Mic", State: "running", Available: true, Default: true}}, nil
		},
	}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, `cameras:
  0 id=cam-front | label="Integrated Camera"
  1 id=cam-back | label="Rear Camera"
microphones:
* id=mic-1 | description="Desk Mic" | state=running | available=yes | muted=no
`, stdout.String())
}

func TestRunnerDevicesReportsMissingDevices(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{
		Stdout:  &stdout,
		Stderr:  &stderr,
		cameras: &stubCameras{},
		microphones: func(context.Context) ([]audio.Device, error) {
			return nil, errors.New("connect pulse server: refused")
		},
	}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "no cameras found")
	require.Contains(t, stderr.String(), "error: connect pulse server")
}

func TestRunnerRunOwnsSessionUntilQuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","message":"received","timestamp":1}`))
	}))
	t.Cleanup(server.Close)

	paths := setupRunnerEnv(t, `{"transport": {"endpoint": "`+server.URL+`"}}`)
	socketPath := filepath.Join(paths.runtimeDir, "lookout.sock")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{
		Stdout:       &stdout,
		Stderr:       &stderr,
		cameras:      &stubCameras{devices: twoCameras()},
		pipelineOpts: fakeAudioOptions(nil),
	}

	exitCh := make(chan int, 1)
	go func() {
		exitCh <- runner.Execute(context.Background(), []string{"--config", paths.configPath, "run"})
	}()

	waitForOwnerState(t, socketPath, fsm.StateActive)

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandSwitch)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "switch requested", resp.Message)

	_, _, err = tryForward(context.Background(), socketPath, ipc.CommandQuit)
	require.NoError(t, err)

	select {
	case code := <-exitCh:
		require.Equal(t, 0, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not exit after quit")
	}

	require.Contains(t, stdout.String(), "camera 64x48 (Front)")
	require.Contains(t, stdout.String(), "session ")
	require.Contains(t, stdout.String(), "stopped after")

	_, statErr := os.Stat(socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRunFailsWithoutCamera(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{
		Stdout:       &stdout,
		Stderr:       &stderr,
		cameras:      &stubCameras{},
		pipelineOpts: fakeAudioOptions(nil),
	}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "run"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), camera.ErrNoDevice.Error())

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "lookout.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerToggleOwnerPathReturnsErrorWhenMicrophoneFails(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{
		Stdout:       &stdout,
		Stderr:       &stderr,
		cameras:      &stubCameras{devices: twoCameras()},
		pipelineOpts: fakeAudioOptions(errors.New("permission denied")),
	}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "microphone access failed")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "lookout.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestFormatStatus(t *testing.T) {
	require.Equal(t, "idle", formatStatus(ipc.Response{OK: true}))
	require.Equal(t, "idle: Ready", formatStatus(ipc.Response{OK: true, State: "idle", Message: "Ready"}))
}

func TestPrintSessionSummary(t *testing.T) {
	var buf bytes.Buffer
	printSessionSummary(&buf, session.Result{})
	require.Equal(t, "stopped\n", buf.String())

	buf.Reset()
	started := time.Now()
	printSessionSummary(&buf, session.Result{
		SessionID: "abc",
		StartedAt: started,
		StoppedAt: started.Add(1500 * time.Millisecond),
		Stats:     session.Stats{FramesSent: 3, ChunksSent: 40, ChunksDropped: 2},
	})
	require.Equal(t, "session abc stopped after 1.5s: frames 3 sent/0 dropped/0 failed, audio 40 sent/2 dropped/0 failed\n", buf.String())
}

func TestSocketErrorHelpers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/lookout.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

type stubStream struct{}

func (stubStream) Read() (image.Image, error) { return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil }
func (stubStream) Close() error                { return nil }

type stubCameras struct {
	devices []media.CaptureDevice
}

func (c *stubCameras) Enumerate(context.Context) ([]media.CaptureDevice, error) {
	return c.devices, nil
}

func (c *stubCameras) Open(context.Context, string, int, int) (camera.Stream, error) {
	return stubStream{}, nil
}

func twoCameras() []media.CaptureDevice {
	return []media.CaptureDevice{
		{ID: "cam-front", Label: "Integrated Camera", Kind: media.KindVideo},
		{ID: "cam-back", Label: "Rear Camera", Kind: media.KindVideo},
	}
}

type stubSource struct {
	chunks chan media.AudioChunk
	once   sync.Once
}

func (s *stubSource) Chunks() <-chan media.AudioChunk { return s.chunks }
func (s *stubSource) Device() audio.Device           { return audio.Device{ID: "mic-1", Description: "Desk Mic"} }
func (s *stubSource) RawPCM() []byte                 { return nil }
func (s *stubSource) Stop() error {
	s.once.Do(func() { close(s.chunks) })
	return nil
}

type silentIndicator struct{}

func (silentIndicator) ShowStarting(context.Context)       {}
func (silentIndicator) ShowActive(context.Context, string) {}
func (silentIndicator) ShowNotice(context.Context, string) {}
func (silentIndicator) ShowError(context.Context, string)  {}
func (silentIndicator) ShowStopped(context.Context)        {}
func (silentIndicator) Hide(context.Context)               {}

func fakeAudioOptions(openErr error) []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithIndicator(silentIndicator{}),
		pipeline.WithAudioOpener(func(context.Context, audio.Settings) (audio.Source, audio.Selection, error) {
			if openErr != nil {
				return nil, audio.Selection{}, openErr
			}
			src := &stubSource{chunks: make(chan media.AudioChunk)}
			return src, audio.Selection{Device: src.Device()}, nil
		}),
	}
}

func waitForOwnerState(t *testing.T, socketPath string, want fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
		return handled && err == nil && resp.State == string(want)
	}, 5*time.Second, 20*time.Millisecond)
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func setupRunnerEnv(t *testing.T, contents string) runnerPaths {
	t.Helper()

	xdgStateHome := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte(contents+"\n"), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
