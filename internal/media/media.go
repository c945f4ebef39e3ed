// Package media holds the types shared between the device catalog, the format
// negotiator, the capture session and the platform backends.
package media

import (
	"fmt"
	"strings"
	"time"
)

// StreamKind tags samples, counters and reports with the stream they belong to.
type StreamKind int

const (
	StreamUnknown StreamKind = iota
	StreamAudio
	StreamVideo
)

func (k StreamKind) String() string {
	switch k {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	default:
		return "unknown"
	}
}

// DeviceType is the hardware class a platform reports for a capture device.
type DeviceType int

const (
	DeviceTypeExternalUnknown DeviceType = iota
	DeviceTypeBuiltInWideAngleCamera
	DeviceTypeBuiltInMicrophone
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeBuiltInWideAngleCamera:
		return "built-in wide angle camera"
	case DeviceTypeBuiltInMicrophone:
		return "built-in microphone"
	default:
		return "external/unknown"
	}
}

var (
	// VideoDeviceTypes is the discovery filter used for video devices.
	VideoDeviceTypes = []DeviceType{DeviceTypeBuiltInWideAngleCamera, DeviceTypeExternalUnknown}
	// AudioDeviceTypes is the discovery filter used for audio devices.
	AudioDeviceTypes = []DeviceType{DeviceTypeBuiltInMicrophone, DeviceTypeExternalUnknown}
)

// HasDeviceType reports whether t is part of types.
func HasDeviceType(types []DeviceType, t DeviceType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

// FrameRateRange is a range of frame rates supported by a video format.
type FrameRateRange struct {
	Min float64
	Max float64
}

// MinFrameDuration is the frame duration implied by the maximum frame rate.
func (r FrameRateRange) MinFrameDuration() time.Duration {
	if r.Max <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / r.Max)
}

// Valid reports whether Min does not exceed Max.
func (r FrameRateRange) Valid() bool {
	return r.Min <= r.Max
}

func (r FrameRateRange) String() string {
	return fmt.Sprintf("%.2f-%.2f fps", r.Min, r.Max)
}

// VideoFormat is one entry of a device's capability set.
type VideoFormat struct {
	// Index is the position of the format in the device's reported list and
	// serves as the platform's format handle.
	Index      int
	Width      int
	Height     int
	Encoding   FourCC
	FrameRates []FrameRateRange
}

func (f VideoFormat) String() string {
	rates := make([]string, 0, len(f.FrameRates))
	for _, r := range f.FrameRates {
		rates = append(rates, r.String())
	}
	return fmt.Sprintf("'%s' %dx%d [%s]", f.Encoding, f.Width, f.Height, strings.Join(rates, ", "))
}

// Device is a snapshot of a capture device taken at enumeration time.
type Device struct {
	// ID is the platform handle used to open the device.
	ID      string
	Name    string
	Kind    StreamKind
	Type    DeviceType
	Formats []VideoFormat
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.Name, d.Type, d.ID)
}

// VideoTarget is the desired video output configuration.
type VideoTarget struct {
	Width     int
	Height    int
	Encoding  FourCC
	FrameRate float64
}

func (t VideoTarget) String() string {
	return fmt.Sprintf("'%s' %dx%d @ %.2f fps", t.Encoding, t.Width, t.Height, t.FrameRate)
}

// AudioTarget is the desired audio output configuration.
type AudioTarget struct {
	SampleRate     int
	BitDepth       int
	Channels       int
	Float          bool
	NonInterleaved bool
}

// DefaultAudioTarget is 44.1kHz 16-bit linear PCM, stereo, interleaved.
var DefaultAudioTarget = AudioTarget{
	SampleRate: 44100,
	BitDepth:   16,
	Channels:   2,
}

func (t AudioTarget) String() string {
	kind := "int"
	if t.Float {
		kind = "float"
	}
	layout := "interleaved"
	if t.NonInterleaved {
		layout = "non-interleaved"
	}
	return fmt.Sprintf("%d Hz %d-bit %s, %d ch %s", t.SampleRate, t.BitDepth, kind, t.Channels, layout)
}
