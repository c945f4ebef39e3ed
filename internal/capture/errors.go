package capture

import (
	"errors"
	"fmt"

	"github.com/petems/capture-probe/internal/media"
	"github.com/petems/capture-probe/internal/negotiate"
)

// Error kinds returned by Session.Start. Match them with errors.Is.
var (
	ErrDeviceIndexOutOfRange = errors.New("device index out of range")
	ErrInputCreationFailed   = errors.New("failed to create device input")
	ErrInputRejected         = errors.New("failed to add input")
	ErrOutputRejected        = errors.New("failed to add output")
	ErrConnectionRejected    = errors.New("failed to add connection")
	ErrFormatNotFound        = negotiate.ErrFormatNotFound
	ErrDeviceLockFailed      = errors.New("failed to apply active format")
	ErrPipelineStartFailed   = errors.New("failed to start pipeline")
	ErrStartTimeout          = errors.New("timed out starting capture")
	ErrNoStreams             = errors.New("no audio or video device requested")
	ErrSessionState          = errors.New("invalid session state")
)

// Error identifies the stream and stage a start failed at.
type Error struct {
	Stream media.StreamKind
	// Kind is one of the Err* sentinels.
	Kind   error
	Device string
	Err    error
}

func (e *Error) Error() string {
	var prefix string
	if e.Stream != media.StreamUnknown {
		prefix = e.Stream.String() + ": "
	}
	// The cause already carries the kind, e.g. a negotiation failure.
	if e.Err != nil && errors.Is(e.Err, e.Kind) {
		return prefix + e.Err.Error()
	}
	msg := prefix + e.Kind.Error()
	if e.Device != "" {
		msg += fmt.Sprintf(" (%s)", e.Device)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(stream media.StreamKind, kind error, dev *media.Device, err error) *Error {
	e := &Error{Stream: stream, Kind: kind, Err: err}
	if dev != nil {
		e.Device = dev.Name
	}
	return e
}
