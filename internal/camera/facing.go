package camera

import (
	"fmt"
	"strings"

	"github.com/rbright/lookout/internal/media"
)

// Facing selects a user-facing or environment-facing camera.
type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

// ParseFacing normalizes a configured facing value.
func ParseFacing(raw string) (Facing, error) {
	switch Facing(strings.ToLower(strings.TrimSpace(raw))) {
	case FacingFront, "":
		return FacingFront, nil
	case FacingBack:
		return FacingBack, nil
	default:
		return "", fmt.Errorf("unknown camera facing %q", raw)
	}
}

// Toggle returns the opposite facing.
func (f Facing) Toggle() Facing {
	if f == FacingBack {
		return FacingFront
	}
	return FacingBack
}

// Title returns the capitalized facing name used in status text.
func (f Facing) Title() string {
	if f == FacingBack {
		return "Back"
	}
	return "Front"
}

var (
	frontKeywords = []string{"front", "user", "integrated", "facetime"}
	backKeywords  = []string{"back", "rear", "environment", "world"}
)

// resolveDevice picks the device serving facing.
//
// Label keywords win. Otherwise enumeration order decides: the first device is
// front, the second is back, and a single device serves both.
func resolveDevice(devices []media.CaptureDevice, facing Facing) (media.CaptureDevice, bool) {
	if len(devices) == 0 {
		return media.CaptureDevice{}, false
	}

	keywords := frontKeywords
	if facing == FacingBack {
		keywords = backKeywords
	}
	for _, device := range devices {
		if labelMatches(device.Label, keywords) {
			return device, true
		}
	}

	if facing == FacingBack && len(devices) > 1 {
		// Skip a device that is explicitly labelled front.
		for _, device := range devices[1:] {
			if !labelMatches(device.Label, frontKeywords) {
				return device, true
			}
		}
		return devices[1], true
	}
	if facing == FacingFront {
		for _, device := range devices {
			if !labelMatches(device.Label, backKeywords) {
				return device, true
			}
		}
	}
	return devices[0], true
}

func labelMatches(label string, keywords []string) bool {
	label = strings.ToLower(label)
	if label == "" {
		return false
	}
	for _, keyword := range keywords {
		if strings.Contains(label, keyword) {
			return true
		}
	}
	return false
}
