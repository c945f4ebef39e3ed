package media

import "time"

// EventKind tells whether a sample was delivered or dropped.
type EventKind int

const (
	SampleDelivered EventKind = iota
	SampleDropped
)

func (k EventKind) String() string {
	if k == SampleDropped {
		return "dropped"
	}
	return "delivered"
}

// SampleEvent is one delivered or dropped unit. Stream is fixed when the
// output is added to a pipeline, so handlers never compare output identities.
type SampleEvent struct {
	Stream StreamKind
	Kind   EventKind
	At     time.Time
}

// SampleHandler consumes sample events. It is called concurrently from the
// delivery context of every stream and must not block for long.
type SampleHandler interface {
	HandleSample(ev SampleEvent)
}

// SampleHandlerFunc adapts a function to SampleHandler.
type SampleHandlerFunc func(ev SampleEvent)

// HandleSample calls f(ev).
func (f SampleHandlerFunc) HandleSample(ev SampleEvent) {
	f(ev)
}

// Input is a device opened for use in a pipeline.
type Input interface {
	Device() Device
}

// Output is a delivery sink added to a pipeline.
type Output interface {
	Stream() StreamKind
}

// OutputConfig describes an output sink. Video is used for video outputs and
// Audio for audio outputs.
type OutputConfig struct {
	Stream  StreamKind
	Video   VideoTarget
	Audio   AudioTarget
	Handler SampleHandler
}

// Platform is the media framework capture sessions are built on.
type Platform interface {
	// Discover returns the devices of the given kind whose type is in types,
	// in platform order.
	Discover(kind StreamKind, types []DeviceType) ([]Device, error)
	NewPipeline() (Pipeline, error)
}

// Pipeline is a capture pipeline under construction or running. Each
// construction primitive is fallible.
type Pipeline interface {
	OpenInput(dev Device) (Input, error)
	AddInput(in Input) error
	// SetActiveFormat locks the device and applies the format and the
	// minimum frame duration of r.
	SetActiveFormat(in Input, f VideoFormat, r FrameRateRange) error
	AddOutput(cfg OutputConfig) (Output, error)
	Connect(in Input, out Output) error
	Start() error
	Stop() error
	// Close releases inputs, outputs and device locks. It is safe to call on
	// a partially built pipeline.
	Close() error
}
