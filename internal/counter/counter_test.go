package counter

import (
	"bytes"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petems/capture-probe/internal/media"
	"github.com/rs/zerolog"
)

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type reportLog struct {
	mu      sync.Mutex
	reports []Report
}

func (l *reportLog) add(r Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, r)
}

func (l *reportLog) all() []Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Report(nil), l.reports...)
}

func TestReportCadence(t *testing.T) {
	var got reportLog
	c := New(zerolog.Nop(), 100, WithReportHook(got.add))

	for i := 0; i < 320; i++ {
		c.Delivered(media.StreamAudio, base.Add(time.Duration(i)*time.Millisecond))
	}

	reports := got.all()
	want := []int64{10, 110, 210, 310}
	if len(reports) != len(want) {
		t.Fatalf("expected %d reports, got %d", len(want), len(reports))
	}
	for i, r := range reports {
		if r.Count != want[i] {
			t.Errorf("report %d: expected count %d, got %d", i, want[i], r.Count)
		}
		if r.Count%100 == 0 {
			t.Errorf("report emitted at exact multiple %d", r.Count)
		}
		if r.Stream != media.StreamAudio {
			t.Errorf("expected audio report, got %s", r.Stream)
		}
	}
}

func TestVideoReportFPS(t *testing.T) {
	var got reportLog
	c := New(zerolog.Nop(), 500, WithReportHook(got.add))

	for i := 0; i < 10; i++ {
		c.Delivered(media.StreamVideo, base.Add(time.Duration(i)*100*time.Millisecond))
	}

	reports := got.all()
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	r := reports[0]
	if r.Elapsed != 900*time.Millisecond {
		t.Errorf("expected 900ms elapsed, got %v", r.Elapsed)
	}
	if math.Abs(r.FPS-10) > 1e-9 {
		t.Errorf("expected 10 fps, got %v", r.FPS)
	}
}

func TestReportLogLines(t *testing.T) {
	var buf bytes.Buffer
	c := New(zerolog.New(&buf), 100)

	for i := 0; i < 10; i++ {
		at := base.Add(time.Duration(i) * 100 * time.Millisecond)
		c.Delivered(media.StreamAudio, at)
		c.Delivered(media.StreamVideo, at)
	}

	out := buf.String()
	if !strings.Contains(out, "0.9 sec: A      10") {
		t.Errorf("missing audio report line in %q", out)
	}
	if !strings.Contains(out, "0.9 sec: V      10   10.00 fps") {
		t.Errorf("missing video report line in %q", out)
	}
}

func TestDropsDoNotCountOrAnchor(t *testing.T) {
	c := New(zerolog.Nop(), 100)

	c.HandleSample(media.SampleEvent{Stream: media.StreamVideo, Kind: media.SampleDropped, At: base})
	c.HandleSample(media.SampleEvent{Stream: media.StreamAudio, Kind: media.SampleDropped, At: base})

	if _, ok := c.Anchor(); ok {
		t.Error("drop must not set the anchor")
	}
	s := c.Snapshot()
	if s.Audio != 0 || s.Video != 0 {
		t.Errorf("drop must not count as delivered, got %+v", s)
	}
	if s.AudioDropped != 1 || s.VideoDropped != 1 {
		t.Errorf("expected one drop per stream, got %+v", s)
	}
}

func TestUnknownStreamIgnored(t *testing.T) {
	var buf bytes.Buffer
	c := New(zerolog.New(&buf), 100)

	c.HandleSample(media.SampleEvent{Stream: media.StreamUnknown, At: base})

	if _, ok := c.Anchor(); ok {
		t.Error("unknown output must not set the anchor")
	}
	if !strings.Contains(buf.String(), "unknown output") {
		t.Errorf("expected unknown output to be logged, got %q", buf.String())
	}
}

func TestHandleSampleUsesClockWhenUnstamped(t *testing.T) {
	c := New(zerolog.Nop(), 100, WithClock(func() time.Time { return base }))

	c.HandleSample(media.SampleEvent{Stream: media.StreamAudio})

	anchor, ok := c.Anchor()
	if !ok || !anchor.Equal(base) {
		t.Errorf("expected anchor %v, got %v (set=%v)", base, anchor, ok)
	}
}

func TestAnchorSetOnceUnderConcurrentFirstDelivery(t *testing.T) {
	const offset = 5 * time.Millisecond

	for trial := 0; trial < 200; trial++ {
		var got reportLog
		c := New(zerolog.Nop(), 100, WithReportHook(got.add))

		var (
			start sync.WaitGroup
			done  sync.WaitGroup
		)
		start.Add(1)
		deliver := func(stream media.StreamKind, first time.Time) {
			defer done.Done()
			start.Wait()
			for i := 0; i < 10; i++ {
				c.Delivered(stream, first.Add(time.Duration(i)*time.Millisecond))
			}
		}

		done.Add(2)
		go deliver(media.StreamAudio, base)
		go deliver(media.StreamVideo, base.Add(offset))
		start.Done()
		done.Wait()

		anchor, ok := c.Anchor()
		if !ok {
			t.Fatal("anchor not set")
		}
		if !anchor.Equal(base) && !anchor.Equal(base.Add(offset)) {
			t.Fatalf("anchor %v is neither first sample time", anchor)
		}

		reports := got.all()
		if len(reports) != 2 {
			t.Fatalf("expected 2 reports, got %d", len(reports))
		}
		var audio, video time.Duration
		for _, r := range reports {
			if r.Stream == media.StreamAudio {
				audio = r.Elapsed
			} else {
				video = r.Elapsed
			}
		}
		// Both streams measure from the same anchor, so the gap between the
		// reports equals the gap between their tenth samples.
		if video-audio != offset {
			t.Fatalf("trial %d: streams disagree on anchor: audio %v video %v", trial, audio, video)
		}
	}
}

func TestReset(t *testing.T) {
	c := New(zerolog.Nop(), 100)
	c.Delivered(media.StreamAudio, base)
	c.Dropped(media.StreamVideo)

	c.Reset()

	if _, ok := c.Anchor(); ok {
		t.Error("expected anchor to be unset after reset")
	}
	if s := c.Snapshot(); s != (Snapshot{}) {
		t.Errorf("expected zero snapshot, got %+v", s)
	}
}
