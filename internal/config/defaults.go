package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Transport: TransportConfig{
			Backend:   BackendHTTP,
			Endpoint:  "http://127.0.0.1:3000/api/gemini",
			TimeoutMS: 5000,
		},
		Camera: CameraConfig{
			Facing: "front",
			Width:  1280,
			Height: 720,
		},
		Frame: FrameConfig{
			IntervalMS:  1000,
			JPEGQuality: 0.8,
		},
		Audio: AudioConfig{
			Input:            "default",
			Fallback:         "default",
			SampleRate:       16000,
			ChunkSize:        1024,
			EchoCancellation: true,
			NoiseSuppression: true,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			SoundEnable:    false,
			DesktopAppName: "lookout",
			ErrorTimeoutMS: 1600,
		},
		Debug: DebugConfig{},
	}
}
