// Package negotiate matches a video target against a device's capability set.
package negotiate

import (
	"errors"
	"fmt"

	"github.com/petems/capture-probe/internal/media"
)

// FrameRateTolerance absorbs devices that report values such as 30.00003.
const FrameRateTolerance = 0.5

// ErrFormatNotFound is returned when no format and frame rate range qualify.
var ErrFormatNotFound = errors.New("no matching video format")

// Policy selects between qualifying formats.
type Policy int

const (
	// FirstMatch returns the first format, in device order, that has a
	// qualifying range. A later format with a higher rate is not considered.
	FirstMatch Policy = iota
	// ClosestMatch scans every format and returns the range whose maximum is
	// closest to the target. Ties go to the earlier format.
	ClosestMatch
)

func (p Policy) String() string {
	if p == ClosestMatch {
		return "closest"
	}
	return "first"
}

// ParsePolicy parses "first" or "closest".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "first":
		return FirstMatch, nil
	case "closest":
		return ClosestMatch, nil
	}
	return FirstMatch, fmt.Errorf("unknown negotiation policy %q", s)
}

// Result is the chosen format and frame rate range.
type Result struct {
	Format media.VideoFormat
	Range  media.FrameRateRange
}

// SelectVideoFormat negotiates with the FirstMatch policy.
func SelectVideoFormat(dev media.Device, target media.VideoTarget) (Result, error) {
	return Select(dev, target, FirstMatch)
}

// Select picks the format matching target's dimensions and encoding exactly,
// together with its range with the largest maximum frame rate that does not
// exceed target.FrameRate + FrameRateTolerance.
func Select(dev media.Device, target media.VideoTarget, policy Policy) (Result, error) {
	var (
		best  Result
		found bool
	)
	for _, f := range dev.Formats {
		if f.Width != target.Width || f.Height != target.Height || f.Encoding != target.Encoding {
			continue
		}
		r, ok := bestRange(f.FrameRates, target.FrameRate)
		if !ok {
			continue
		}
		if policy == FirstMatch {
			return Result{Format: f, Range: r}, nil
		}
		if !found || r.Max > best.Range.Max {
			best = Result{Format: f, Range: r}
			found = true
		}
	}
	if found {
		return best, nil
	}
	return Result{}, fmt.Errorf("%w: %s on device %q", ErrFormatNotFound, target, dev.Name)
}

func bestRange(ranges []media.FrameRateRange, frameRate float64) (media.FrameRateRange, bool) {
	var (
		current media.FrameRateRange
		ok      bool
	)
	limit := frameRate + FrameRateTolerance
	for _, r := range ranges {
		if r.Max > current.Max && r.Max <= limit {
			current = r
			ok = true
		}
	}
	return current, ok
}
