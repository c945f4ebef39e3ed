// Package video is the V4L2 capture backend. On platforms without V4L2 it
// reports no devices.
package video

import (
	"math/bits"
	"strings"

	"github.com/petems/capture-probe/internal/media"
)

var builtInMarkers = []string{"integrated", "built-in", "facetime", "internal"}

func classify(name string) media.DeviceType {
	lower := strings.ToLower(name)
	for _, m := range builtInMarkers {
		if strings.Contains(lower, m) {
			return media.DeviceTypeBuiltInWideAngleCamera
		}
	}
	return media.DeviceTypeExternalUnknown
}

// fromV4L2 converts a little-endian V4L2 pixel format code.
func fromV4L2(pf uint32) media.FourCC {
	return media.FourCC(bits.ReverseBytes32(pf))
}

// toV4L2 is the inverse of fromV4L2.
func toV4L2(c media.FourCC) uint32 {
	return bits.ReverseBytes32(uint32(c))
}

type size struct {
	width  int
	height int
}

// frameSizes expands a V4L2 frame size entry. Stepwise entries are reduced
// to their smallest and largest size.
func frameSizes(minW, maxW, minH, maxH uint32) []size {
	if maxW == 0 || maxH == 0 {
		maxW, maxH = minW, minH
	}
	if minW == maxW && minH == maxH {
		return []size{{int(minW), int(minH)}}
	}
	return []size{{int(minW), int(minH)}, {int(maxW), int(maxH)}}
}

// intervalRange converts V4L2 frame intervals (seconds per frame, as
// num/den) into a frame rate range. The shortest interval gives the maximum
// rate.
func intervalRange(minNum, minDen, maxNum, maxDen uint32) (media.FrameRateRange, bool) {
	if maxNum == 0 || maxDen == 0 {
		maxNum, maxDen = minNum, minDen
	}
	if minNum == 0 || minDen == 0 {
		return media.FrameRateRange{}, false
	}
	hi := float64(minDen) / float64(minNum)
	lo := float64(maxDen) / float64(maxNum)
	if lo > hi {
		lo, hi = hi, lo
	}
	return media.FrameRateRange{Min: lo, Max: hi}, true
}
