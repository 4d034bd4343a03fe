// Package doctor runs runtime readiness diagnostics for config, devices, and the remote endpoint.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/lookout/internal/audio"
	"github.com/rbright/lookout/internal/camera"
	"github.com/rbright/lookout/internal/config"
	"github.com/rbright/lookout/internal/transport"
)

const probeTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Option overrides a live probe.
type Option func(*runner)

type runner struct {
	cameras     camera.Backend
	selectAudio func(ctx context.Context, input, fallback string) (audio.Selection, error)
	probe       func(ctx context.Context, cfg transport.Config) error
}

// WithCameraBackend replaces the mediadevices backend used for the camera check.
func WithCameraBackend(backend camera.Backend) Option {
	return func(r *runner) { r.cameras = backend }
}

// WithAudioSelector replaces Pulse device selection.
func WithAudioSelector(fn func(ctx context.Context, input, fallback string) (audio.Selection, error)) Option {
	return func(r *runner) { r.selectAudio = fn }
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded, opts ...Option) Report {
	r := runner{
		cameras:     camera.MediaDevices{},
		selectAudio: audio.SelectDevice,
		probe:       transport.Probe,
	}
	for _, opt := range opts {
		opt(&r)
	}

	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for owner socket", "XDG_RUNTIME_DIR is empty"))

	if cfg.Config.Indicator.Enable {
		checks = append(checks, checkBinary("busctl", "desktop notifications"))
	}

	checks = append(checks, r.checkCameras(ctx))
	checks = append(checks, r.checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, r.checkTransportReady(ctx, cfg.Config))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkCameras enumerates video inputs and reports which device serves each facing.
func (r runner) checkCameras(ctx context.Context) Check {
	devices, err := camera.NewEnumerator(r.cameras).ListVideoInputs(ctx)
	if err != nil {
		return Check{Name: "camera.devices", Pass: false, Message: err.Error()}
	}
	labels := make([]string, 0, len(devices))
	for _, device := range devices {
		labels = append(labels, fmt.Sprintf("%q", device.Label))
	}
	message := fmt.Sprintf("%d video input(s): %s", len(devices), strings.Join(labels, ", "))
	if len(devices) == 1 {
		message += " (switching unavailable)"
	}
	return Check{Name: "camera.devices", Pass: true, Message: message}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func (r runner) checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := r.selectAudio(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkTransportReady probes the configured endpoint with the configured backend.
func (r runner) checkTransportReady(ctx context.Context, cfg config.Config) Check {
	name := "transport." + cfg.Transport.Backend
	endpoint := strings.TrimSpace(cfg.Transport.Endpoint)
	if endpoint == "" {
		return Check{Name: name, Pass: false, Message: "transport.endpoint is empty"}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := r.probe(ctx, transport.Config{
		Backend:  cfg.Transport.Backend,
		Endpoint: endpoint,
		Timeout:  cfg.Transport.Timeout(),
	})
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("probe failed: %v", err)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable at %s", endpoint)}
}
