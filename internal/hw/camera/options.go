package camera

import (
	"fmt"
	"math"
	"time"
)

// CaptureMode selects what the camera records.
type CaptureMode string

const (
	CaptureModeImage CaptureMode = "image"
	CaptureModeVideo CaptureMode = "video"
)

// exposureSteps is the 1/3 EV ladder accepted by the camera.
var exposureSteps = []float64{-2.0, -1.7, -1.3, -1.0, -0.7, -0.3, 0, 0.3, 0.7, 1.0, 1.3, 1.7, 2.0}

const maxExposureDelay = 10 * time.Second

// Options is the complete set of options applied before a capture.
type Options struct {
	CaptureMode          CaptureMode
	ShutterVolume        int           // 0 (mute) to 100
	ExposureDelay        time.Duration // self-timer, whole seconds from 0 to 10
	ExposureCompensation float64       // EV, one of the 1/3 steps from -2.0 to +2.0
}

// DefaultOptions returns the options used for a capture-and-print run:
// still image, full shutter volume, 5s self-timer, +1.0 EV.
func DefaultOptions() Options {
	return Options{
		CaptureMode:          CaptureModeImage,
		ShutterVolume:        100,
		ExposureDelay:        5 * time.Second,
		ExposureCompensation: 1.0,
	}
}

// Validate checks every option against the range the camera accepts.
func (o Options) Validate() error {
	switch o.CaptureMode {
	case CaptureModeImage, CaptureModeVideo:
	default:
		return fmt.Errorf("capture mode must be %q or %q, got %q", CaptureModeImage, CaptureModeVideo, o.CaptureMode)
	}
	if o.ShutterVolume < 0 || o.ShutterVolume > 100 {
		return fmt.Errorf("shutter volume must be between 0 and 100, got %d", o.ShutterVolume)
	}
	if o.ExposureDelay < 0 || o.ExposureDelay > maxExposureDelay || o.ExposureDelay%time.Second != 0 {
		return fmt.Errorf("exposure delay must be whole seconds between 0 and 10, got %v", o.ExposureDelay)
	}
	if !validExposure(o.ExposureCompensation) {
		return fmt.Errorf("exposure compensation must be a 1/3 EV step between -2.0 and 2.0, got %g", o.ExposureCompensation)
	}
	return nil
}

func validExposure(ev float64) bool {
	for _, s := range exposureSteps {
		if math.Abs(s-ev) < 1e-9 {
			return true
		}
	}
	return false
}

// modeOption is the first setOptions call: the camera only accepts the
// other options once the capture mode is in effect.
func (o Options) modeOption() map[string]any {
	return map[string]any{"captureMode": string(o.CaptureMode)}
}

// exposureOptions renders the remaining options as an OSC "options" object.
func (o Options) exposureOptions() map[string]any {
	return map[string]any{
		"_shutterVolume":       o.ShutterVolume,
		"exposureDelay":        int(o.ExposureDelay / time.Second),
		"exposureCompensation": o.ExposureCompensation,
	}
}
