package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Transport *jsoncTransport `json:"transport"`
	Camera    *jsoncCamera    `json:"camera"`
	Frame     *jsoncFrame     `json:"frame"`
	Audio     *jsoncAudio     `json:"audio"`
	Indicator *jsoncIndicator `json:"indicator"`
	Debug     *jsoncDebug     `json:"debug"`
}

type jsoncTransport struct {
	Backend   *string `json:"backend"`
	Endpoint  *string `json:"endpoint"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncCamera struct {
	Facing *string `json:"facing"`
	Width  *int    `json:"width"`
	Height *int    `json:"height"`
}

type jsoncFrame struct {
	IntervalMS  *int     `json:"interval_ms"`
	JPEGQuality *float64 `json:"jpeg_quality"`
}

type jsoncAudio struct {
	Input            *string `json:"input"`
	Fallback         *string `json:"fallback"`
	SampleRate       *int    `json:"sample_rate"`
	ChunkSize        *int    `json:"chunk_size"`
	EchoCancellation *bool   `json:"echo_cancellation"`
	NoiseSuppression *bool   `json:"noise_suppression"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	SoundEnable    *bool   `json:"sound_enable"`
	DesktopAppName *string `json:"desktop_app_name"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
	FrameDump *bool `json:"frame_dump"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	payload.applyTo(&cfg)

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) {
	if payload.Transport != nil {
		if payload.Transport.Backend != nil {
			cfg.Transport.Backend = strings.ToLower(strings.TrimSpace(*payload.Transport.Backend))
		}
		if payload.Transport.Endpoint != nil {
			cfg.Transport.Endpoint = strings.TrimSpace(*payload.Transport.Endpoint)
		}
		if payload.Transport.TimeoutMS != nil {
			cfg.Transport.TimeoutMS = *payload.Transport.TimeoutMS
		}
	}

	if payload.Camera != nil {
		if payload.Camera.Facing != nil {
			cfg.Camera.Facing = strings.ToLower(strings.TrimSpace(*payload.Camera.Facing))
		}
		if payload.Camera.Width != nil {
			cfg.Camera.Width = *payload.Camera.Width
		}
		if payload.Camera.Height != nil {
			cfg.Camera.Height = *payload.Camera.Height
		}
	}

	if payload.Frame != nil {
		if payload.Frame.IntervalMS != nil {
			cfg.Frame.IntervalMS = *payload.Frame.IntervalMS
		}
		if payload.Frame.JPEGQuality != nil {
			cfg.Frame.JPEGQuality = *payload.Frame.JPEGQuality
		}
	}

	if payload.Audio != nil {
		if payload.Audio.Input != nil {
			cfg.Audio.Input = *payload.Audio.Input
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = *payload.Audio.Fallback
		}
		if payload.Audio.SampleRate != nil {
			cfg.Audio.SampleRate = *payload.Audio.SampleRate
		}
		if payload.Audio.ChunkSize != nil {
			cfg.Audio.ChunkSize = *payload.Audio.ChunkSize
		}
		if payload.Audio.EchoCancellation != nil {
			cfg.Audio.EchoCancellation = *payload.Audio.EchoCancellation
		}
		if payload.Audio.NoiseSuppression != nil {
			cfg.Audio.NoiseSuppression = *payload.Audio.NoiseSuppression
		}
	}

	if payload.Indicator != nil {
		if payload.Indicator.Enable != nil {
			cfg.Indicator.Enable = *payload.Indicator.Enable
		}
		if payload.Indicator.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *payload.Indicator.SoundEnable
		}
		if payload.Indicator.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*payload.Indicator.DesktopAppName)
		}
		if payload.Indicator.ErrorTimeoutMS != nil {
			cfg.Indicator.ErrorTimeoutMS = *payload.Indicator.ErrorTimeoutMS
		}
	}

	if payload.Debug != nil {
		if payload.Debug.AudioDump != nil {
			cfg.Debug.EnableAudioDump = *payload.Debug.AudioDump
		}
		if payload.Debug.FrameDump != nil {
			cfg.Debug.EnableFrameDump = *payload.Debug.FrameDump
		}
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
