package platform

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/petems/capture-probe/internal/media"
	"github.com/petems/capture-probe/internal/sim"
)

func build(t *testing.T, pl media.Pipeline, dev media.Device, h media.SampleHandler) {
	t.Helper()
	in, err := pl.OpenInput(dev)
	if err != nil {
		t.Fatalf("OpenInput(%s): %v", dev.Kind, err)
	}
	if err := pl.AddInput(in); err != nil {
		t.Fatalf("AddInput(%s): %v", dev.Kind, err)
	}
	out, err := pl.AddOutput(media.OutputConfig{Stream: dev.Kind, Audio: media.DefaultAudioTarget, Handler: h})
	if err != nil {
		t.Fatalf("AddOutput(%s): %v", dev.Kind, err)
	}
	if err := pl.Connect(in, out); err != nil {
		t.Fatalf("Connect(%s): %v", dev.Kind, err)
	}
}

func devices() (audio, video media.Device) {
	devs := sim.DefaultDevices()
	return devs[1], devs[0]
}

func TestComposeRoutesDiscovery(t *testing.T) {
	mic, cam := devices()
	audio := sim.New(sim.WithDevices(mic))
	video := sim.New(sim.WithDevices(cam))
	p := Compose(audio, video)

	got, err := p.Discover(media.StreamVideo, media.VideoDeviceTypes)
	if err != nil || len(got) != 1 || got[0].ID != cam.ID {
		t.Errorf("unexpected video discovery %v %v", got, err)
	}
	got, err = p.Discover(media.StreamAudio, media.AudioDeviceTypes)
	if err != nil || len(got) != 1 || got[0].ID != mic.ID {
		t.Errorf("unexpected audio discovery %v %v", got, err)
	}
}

func TestComposeMissingBackend(t *testing.T) {
	p := Compose(sim.New(), nil)

	got, err := p.Discover(media.StreamVideo, media.VideoDeviceTypes)
	if err != nil || len(got) != 0 {
		t.Errorf("expected no video devices, got %v %v", got, err)
	}

	pl, err := p.NewPipeline()
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	_, cam := devices()
	if _, err := pl.OpenInput(cam); err == nil {
		t.Error("expected error opening a video input without a video backend")
	}
}

func TestComposePipelineLifecycle(t *testing.T) {
	mic, cam := devices()
	audio := sim.New(sim.WithDevices(mic))
	video := sim.New(sim.WithDevices(cam))

	pl, err := Compose(audio, video).NewPipeline()
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	var n atomic.Int64
	h := media.SampleHandlerFunc(func(media.SampleEvent) { n.Add(1) })
	build(t, pl, mic, h)
	build(t, pl, cam, h)

	if err := pl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ap, vp := audio.Pipelines()[0], video.Pipelines()[0]
	if !ap.Deliver(media.StreamAudio) || !vp.Deliver(media.StreamVideo) {
		t.Fatal("backends did not start")
	}
	if n.Load() != 2 {
		t.Errorf("expected 2 samples, got %d", n.Load())
	}

	if err := pl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ap.Closed() || !vp.Closed() {
		t.Error("expected both backends to be closed")
	}
}

func TestComposeStartFailureStopsStarted(t *testing.T) {
	mic, cam := devices()
	audio := sim.New(sim.WithDevices(mic))
	boom := errors.New("camera in use")
	video := sim.New(sim.WithDevices(cam), sim.WithFault(sim.StageStart, media.StreamUnknown, boom))

	pl, err := Compose(audio, video).NewPipeline()
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	h := media.SampleHandlerFunc(func(media.SampleEvent) {})
	build(t, pl, mic, h)
	build(t, pl, cam, h)

	if err := pl.Start(); !errors.Is(err, boom) {
		t.Fatalf("expected start failure, got %v", err)
	}
	if audio.Pipelines()[0].Running() {
		t.Error("audio backend should be stopped after video failed to start")
	}
}
