// Package audio is the PortAudio capture backend.
package audio

import (
	"fmt"
	"strings"

	"github.com/petems/capture-probe/internal/media"
)

// framesPerBuffer is the number of PCM frames delivered as one sample.
const framesPerBuffer = 1024

var builtInMarkers = []string{"built-in", "macbook", "internal", "integrated"}

// classify guesses the device type from the name PortAudio reports.
func classify(name string) media.DeviceType {
	lower := strings.ToLower(name)
	for _, m := range builtInMarkers {
		if strings.Contains(lower, m) {
			return media.DeviceTypeBuiltInMicrophone
		}
	}
	return media.DeviceTypeExternalUnknown
}

// checkTarget rejects PCM settings the backend cannot deliver.
func checkTarget(t media.AudioTarget, maxChannels int) error {
	switch {
	case t.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %d", t.SampleRate)
	case t.Channels <= 0:
		return fmt.Errorf("invalid channel count %d", t.Channels)
	case maxChannels > 0 && t.Channels > maxChannels:
		return fmt.Errorf("device supports %d channels, %d requested", maxChannels, t.Channels)
	case t.NonInterleaved:
		return fmt.Errorf("non-interleaved delivery is not supported")
	case t.Float && t.BitDepth != 32:
		return fmt.Errorf("float samples must be 32-bit, %d requested", t.BitDepth)
	case !t.Float && t.BitDepth != 16 && t.BitDepth != 32:
		return fmt.Errorf("unsupported integer bit depth %d", t.BitDepth)
	}
	return nil
}

// newBuffer allocates the interleaved read buffer matching t.
func newBuffer(t media.AudioTarget) interface{} {
	n := framesPerBuffer * t.Channels
	switch {
	case t.Float:
		return make([]float32, n)
	case t.BitDepth == 32:
		return make([]int32, n)
	default:
		return make([]int16, n)
	}
}
