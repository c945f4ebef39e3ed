//go:build !linux

package video

import (
	"errors"

	"github.com/petems/capture-probe/internal/media"
	"github.com/rs/zerolog"
)

// Platform reports no video devices where V4L2 is unavailable.
type Platform struct {
	log zerolog.Logger
}

// New creates an empty video platform.
func New(log zerolog.Logger) *Platform {
	return &Platform{log: log}
}

// Close is a no-op.
func (p *Platform) Close() error {
	return nil
}

// Discover implements media.Platform.
func (p *Platform) Discover(media.StreamKind, []media.DeviceType) ([]media.Device, error) {
	return nil, nil
}

// NewPipeline implements media.Platform.
func (p *Platform) NewPipeline() (media.Pipeline, error) {
	return nil, errors.New("video capture is not supported on this platform")
}
