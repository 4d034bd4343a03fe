package config

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	BackendHTTP      = "http"
	BackendWebSocket = "websocket"
	BackendGRPC      = "grpc"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateTransport(cfg.Transport); err != nil {
		return nil, err
	}

	switch cfg.Camera.Facing {
	case "front", "back":
	default:
		return nil, fmt.Errorf("camera.facing must be one of: front, back")
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		return nil, fmt.Errorf("camera.width and camera.height must be > 0")
	}

	if cfg.Frame.IntervalMS < 100 {
		return nil, fmt.Errorf("frame.interval_ms must be >= 100")
	}
	if cfg.Frame.JPEGQuality <= 0 || cfg.Frame.JPEGQuality > 1 {
		return nil, fmt.Errorf("frame.jpeg_quality must be in (0, 1]")
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 48000")
	}
	if cfg.Audio.ChunkSize < 128 || cfg.Audio.ChunkSize > 16384 {
		return nil, fmt.Errorf("audio.chunk_size must be between 128 and 16384 samples")
	}
	if cfg.Audio.NoiseSuppression && !cfg.Audio.EchoCancellation {
		warnings = append(warnings, Warning{Message: "audio.noise_suppression is applied by the echo-cancel filter; it is ignored while audio.echo_cancellation=false"})
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.enable=true")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	return warnings, nil
}

// validateTransport checks backend/endpoint compatibility.
func validateTransport(cfg TransportConfig) error {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("transport.endpoint must not be empty")
	}
	if cfg.TimeoutMS <= 0 {
		return fmt.Errorf("transport.timeout_ms must be > 0")
	}

	switch cfg.Backend {
	case BackendHTTP:
		return requireScheme(endpoint, "http", "https")
	case BackendWebSocket:
		return requireScheme(endpoint, "ws", "wss", "http", "https")
	case BackendGRPC:
		if strings.Contains(endpoint, "://") {
			return fmt.Errorf("transport.endpoint for grpc must be host:port, got %q", endpoint)
		}
		return nil
	case "":
		return fmt.Errorf("transport.backend must not be empty")
	default:
		return fmt.Errorf("transport.backend must be one of: http, websocket, grpc")
	}
}

func requireScheme(endpoint string, schemes ...string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("transport.endpoint %q is not a valid URL: %w", endpoint, err)
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme {
			if parsed.Host == "" {
				return fmt.Errorf("transport.endpoint %q has no host", endpoint)
			}
			return nil
		}
	}
	return fmt.Errorf("transport.endpoint %q must use scheme %s", endpoint, strings.Join(schemes, "|"))
}
