// Package device enumerates capture devices through a media.Platform.
package device

import (
	"fmt"
	"io"

	"github.com/petems/capture-probe/internal/media"
	"github.com/rs/zerolog"
)

// Catalog queries a platform for capture devices. It holds no device state:
// every call takes a fresh snapshot, and indices are only meaningful within
// the snapshot that produced them.
type Catalog struct {
	platform media.Platform
	log      zerolog.Logger
}

// Listing is a snapshot of both device kinds.
type Listing struct {
	Video []media.Device
	Audio []media.Device
}

// NewCatalog creates a catalog backed by p.
func NewCatalog(p media.Platform, log zerolog.Logger) *Catalog {
	return &Catalog{platform: p, log: log}
}

// VideoDevices returns the available video devices. Platform errors are
// logged and reported as an empty list.
func (c *Catalog) VideoDevices() []media.Device {
	return c.discover(media.StreamVideo, media.VideoDeviceTypes)
}

// AudioDevices returns the available audio devices. Platform errors are
// logged and reported as an empty list.
func (c *Catalog) AudioDevices() []media.Device {
	return c.discover(media.StreamAudio, media.AudioDeviceTypes)
}

// List returns both video and audio devices.
func (c *Catalog) List() Listing {
	return Listing{
		Video: c.VideoDevices(),
		Audio: c.AudioDevices(),
	}
}

func (c *Catalog) discover(kind media.StreamKind, types []media.DeviceType) []media.Device {
	if c.platform == nil {
		return nil
	}
	devices, err := c.platform.Discover(kind, types)
	if err != nil {
		c.log.Warn().Err(err).Str("kind", kind.String()).Msg("Device discovery failed")
		return nil
	}
	return devices
}

// Write prints the listing in the layout of the device list command.
func (l Listing) Write(w io.Writer) {
	fmt.Fprintln(w, "***** Video devices *****")
	for i, dev := range l.Video {
		fmt.Fprintf(w, "Index %d: %s\n", i, dev)
		for _, f := range dev.Formats {
			fmt.Fprintf(w, " - %s\n", f)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "***** Audio devices *****")
	for i, dev := range l.Audio {
		fmt.Fprintf(w, "Index %d: %s\n", i, dev)
	}
	fmt.Fprintln(w)
}
