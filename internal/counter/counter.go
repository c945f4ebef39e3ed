// Package counter counts and timestamps delivered samples and emits periodic
// throughput reports.
package counter

import (
	"sync/atomic"
	"time"

	"github.com/petems/capture-probe/internal/media"
	"github.com/rs/zerolog"
)

// reportOffset staggers reports away from exact multiples of the interval.
const reportOffset = 10

// Report is one progress line.
type Report struct {
	Stream  media.StreamKind
	Elapsed time.Duration
	Count   int64
	// FPS is only set for video.
	FPS float64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Anchor       time.Time
	Audio        int64
	Video        int64
	AudioDropped int64
	VideoDropped int64
}

// Option configures a Counter.
type Option func(*Counter)

// WithClock replaces time.Now for events that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) {
		c.now = now
	}
}

// WithReportHook registers fn to be called with every report. fn runs on the
// delivery context and must return quickly.
func WithReportHook(fn func(Report)) Option {
	return func(c *Counter) {
		c.onReport = fn
	}
}

// Counter is safe for concurrent use by the audio and video delivery contexts.
type Counter struct {
	log      zerolog.Logger
	interval int64
	now      func() time.Time
	onReport func(Report)

	// anchor holds the session start in Unix nanoseconds, 0 while unset.
	anchor atomic.Int64

	audio        atomic.Int64
	video        atomic.Int64
	audioDropped atomic.Int64
	videoDropped atomic.Int64
}

// New creates a counter that reports when count mod interval == 10.
func New(log zerolog.Logger, interval int, opts ...Option) *Counter {
	c := &Counter{
		log:      log,
		interval: int64(interval),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Interval returns the report interval.
func (c *Counter) Interval() int {
	return int(c.interval)
}

// Reset clears the anchor and all counters.
func (c *Counter) Reset() {
	c.anchor.Store(0)
	c.audio.Store(0)
	c.video.Store(0)
	c.audioDropped.Store(0)
	c.videoDropped.Store(0)
}

// HandleSample implements media.SampleHandler.
func (c *Counter) HandleSample(ev media.SampleEvent) {
	at := ev.At
	if at.IsZero() {
		at = c.now()
	}
	if ev.Kind == media.SampleDropped {
		c.Dropped(ev.Stream)
		return
	}
	c.Delivered(ev.Stream, at)
}

// Delivered records one delivered sample of the given stream at time at.
func (c *Counter) Delivered(stream media.StreamKind, at time.Time) {
	var counter *atomic.Int64
	switch stream {
	case media.StreamAudio:
		counter = &c.audio
	case media.StreamVideo:
		counter = &c.video
	default:
		c.log.Warn().Str("stream", stream.String()).Msg("Sample delivered from an unknown output")
		return
	}

	// Whichever stream delivers first anchors both.
	c.anchor.CompareAndSwap(0, at.UnixNano())
	anchor := time.Unix(0, c.anchor.Load())

	count := counter.Add(1)
	if c.interval <= 0 || count%c.interval != reportOffset {
		return
	}

	r := Report{Stream: stream, Elapsed: at.Sub(anchor), Count: count}
	secs := r.Elapsed.Seconds()
	if stream == media.StreamVideo {
		if secs > 0 {
			r.FPS = float64(count-1) / secs
		}
		c.log.Info().
			Str("stream", stream.String()).
			Float64("elapsed", secs).
			Int64("count", count).
			Float64("fps", r.FPS).
			Msgf("%7.1f sec: V %7d %7.2f fps", secs, count, r.FPS)
	} else {
		c.log.Info().
			Str("stream", stream.String()).
			Float64("elapsed", secs).
			Int64("count", count).
			Msgf("%7.1f sec: A %7d", secs, count)
	}

	if c.onReport != nil {
		c.onReport(r)
	}
}

// Dropped records a dropped sample. Drops never touch the delivered counters
// or the anchor.
func (c *Counter) Dropped(stream media.StreamKind) {
	switch stream {
	case media.StreamAudio:
		c.audioDropped.Add(1)
		c.log.Warn().Str("stream", stream.String()).Msg("Audio sample was dropped")
	case media.StreamVideo:
		c.videoDropped.Add(1)
		c.log.Warn().Str("stream", stream.String()).Msg("Video sample was dropped")
	default:
		c.log.Warn().Str("stream", stream.String()).Msg("Unknown sample was dropped")
	}
}

// Anchor returns the session start and whether it has been set.
func (c *Counter) Anchor() (time.Time, bool) {
	ns := c.anchor.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Snapshot returns the current counters.
func (c *Counter) Snapshot() Snapshot {
	anchor, _ := c.Anchor()
	return Snapshot{
		Anchor:       anchor,
		Audio:        c.audio.Load(),
		Video:        c.video.Load(),
		AudioDropped: c.audioDropped.Load(),
		VideoDropped: c.videoDropped.Load(),
	}
}
