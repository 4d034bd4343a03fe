// Package app dispatches parsed CLI commands to the session owner, IPC forwarding, and diagnostics.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/lookout/internal/audio"
	"github.com/rbright/lookout/internal/camera"
	"github.com/rbright/lookout/internal/cli"
	"github.com/rbright/lookout/internal/config"
	"github.com/rbright/lookout/internal/doctor"
	"github.com/rbright/lookout/internal/ipc"
	"github.com/rbright/lookout/internal/logging"
	"github.com/rbright/lookout/internal/pipeline"
	"github.com/rbright/lookout/internal/session"
	"github.com/rbright/lookout/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Overrides for live devices; nil selects the real backends.
	cameras      camera.Backend
	microphones  func(context.Context) ([]audio.Device, error)
	pipelineOpts []pipeline.Option
	doctorOpts   []doctor.Option
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("lookout"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("lookout"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
		"transport", cfgLoaded.Config.Transport.Backend,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		opts := append([]doctor.Option(nil), r.doctorOpts...)
		if r.cameras != nil {
			opts = append(opts, doctor.WithCameraBackend(r.cameras))
		}
		report := doctor.Run(ctx, cfgLoaded, opts...)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	case cli.CommandStart, cli.CommandToggle:
		return r.forwardOrRun(ctx, string(parsed.Command), cfgLoaded.Config, logger)
	case cli.CommandStop, cli.CommandSwitch, cli.CommandQuit:
		return r.forwardOrFail(ctx, string(parsed.Command))
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) cameraBackend() camera.Backend {
	if r.cameras != nil {
		return r.cameras
	}
	return camera.MediaDevices{}
}

func (r Runner) listMicrophones(ctx context.Context) ([]audio.Device, error) {
	if r.microphones != nil {
		return r.microphones(ctx)
	}
	return audio.ListDevices(ctx)
}

func (r Runner) commandDevices(ctx context.Context) int {
	exitCode := 0

	fmt.Fprintln(r.Stdout, "cameras:")
	cameras, err := camera.NewEnumerator(r.cameraBackend()).ListVideoInputs(ctx)
	switch {
	case errors.Is(err, camera.ErrNoDevice):
		fmt.Fprintln(r.Stdout, "  no cameras found")
		exitCode = 1
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		exitCode = 1
	}
	for i, device := range cameras {
		fmt.Fprintf(r.Stdout, "  %d id=%s | label=%q\n", i, device.ID, device.Label)
	}

	fmt.Fprintln(r.Stdout, "microphones:")
	devices, err := r.listMicrophones(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "  no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return exitCode
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, formatStatus(resp))
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func formatStatus(resp ipc.Response) string {
	state := resp.State
	if state == "" {
		state = "idle"
	}
	if msg := strings.TrimSpace(resp.Message); msg != "" {
		return state + ": " + msg
	}
	return state
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no running lookout owner\n")
		return 1
	}
	return r.printForwarded(resp, err)
}

// forwardOrRun relays command to a running owner, or becomes the owner.
func (r Runner) forwardOrRun(ctx context.Context, command string, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if handled {
		return r.printForwarded(resp, err)
	}
	return r.commandRun(ctx, cfg, logger)
}

func (r Runner) printForwarded(resp ipc.Response, err error) int {
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRun becomes the owner: it opens the camera, starts a session, and
// serves IPC until quit or ctx cancellation.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			resp, _, forwardErr := tryForward(ctx, socketPath, ipc.CommandStart)
			return r.printForwarded(resp, forwardErr)
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	opts := append([]pipeline.Option(nil), r.pipelineOpts...)
	if r.cameras != nil {
		opts = append(opts, pipeline.WithCameraBackend(r.cameras))
	}
	stack, err := pipeline.Build(cfg, logger, opts...)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		if closeErr := stack.Close(); closeErr != nil {
			logger.Warn("owner cleanup failed", "error", closeErr.Error())
		}
	}()

	handle, err := stack.OpenCamera(ctx)
	if err != nil {
		stack.Indicator.ShowError(ctx, fmt.Sprintf("Camera unavailable: %v", err))
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "camera %s\n", handle.Info())

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, stack.Session)
	}()

	if err := stack.Session.Start(ctx); err != nil && !errors.Is(err, session.ErrStartAborted) {
		serverCancel()
		<-serverErrCh
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	result := stack.Session.Run(ctx)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	printSessionSummary(r.Stdout, result)
	if result.TeardownErr != nil {
		fmt.Fprintf(r.Stderr, "warning: %v\n", result.TeardownErr)
	}
	if result.Err != nil && !errors.Is(result.Err, context.Canceled) {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}
	return 0
}

// printSessionSummary reports the final session's traffic counters.
func printSessionSummary(w io.Writer, result session.Result) {
	if result.SessionID == "" {
		fmt.Fprintln(w, "stopped")
		return
	}
	duration := result.StoppedAt.Sub(result.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(w, "session %s stopped after %s: frames %d sent/%d dropped/%d failed, audio %d sent/%d dropped/%d failed\n",
		result.SessionID,
		duration,
		result.Stats.FramesSent, result.Stats.FramesDropped, result.Stats.FramesFailed,
		result.Stats.ChunksSent, result.Stats.ChunksDropped, result.Stats.ChunksFailed,
	)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
