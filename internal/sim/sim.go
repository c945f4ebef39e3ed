// Package sim is an in-process media platform with synthetic devices. It
// backs the --simulate mode and the session tests.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petems/capture-probe/internal/media"
)

// Stage names a pipeline step that can be made to fail.
type Stage string

const (
	StageNewPipeline Stage = "new-pipeline"
	StageOpenInput   Stage = "open-input"
	StageAddInput    Stage = "add-input"
	StageSetFormat   Stage = "set-format"
	StageAddOutput   Stage = "add-output"
	StageConnect     Stage = "connect"
	StageStart       Stage = "start"
)

// audioFramesPerBuffer is the number of PCM frames in one simulated audio sample.
const audioFramesPerBuffer = 1024

type faultKey struct {
	stage  Stage
	stream media.StreamKind
}

// Option configures a Platform.
type Option func(*Platform)

// WithDevices replaces the default device set.
func WithDevices(devs ...media.Device) Option {
	return func(p *Platform) {
		p.devices = devs
	}
}

// WithFault makes stage fail with err for the given stream. StageNewPipeline
// and StageStart ignore stream.
func WithFault(stage Stage, stream media.StreamKind, err error) Option {
	return func(p *Platform) {
		p.faults[faultKey{stage, stream}] = err
	}
}

// WithDiscoverError makes every discovery fail.
func WithDiscoverError(err error) Option {
	return func(p *Platform) {
		p.discoverErr = err
	}
}

// WithTicker delivers samples from a goroutine per stream at the negotiated
// video rate and the audio buffer rate. Every dropEvery-th video sample is
// reported as dropped; 0 disables drops.
func WithTicker(dropEvery int) Option {
	return func(p *Platform) {
		p.ticking = true
		p.dropEvery = dropEvery
	}
}

// WithStartDelay makes Pipeline.Start block for d.
func WithStartDelay(d time.Duration) Option {
	return func(p *Platform) {
		p.startDelay = d
	}
}

// Platform implements media.Platform.
type Platform struct {
	mu          sync.Mutex
	devices     []media.Device
	faults      map[faultKey]error
	discoverErr error
	ticking     bool
	dropEvery   int
	startDelay  time.Duration
	pipelines   []*Pipeline
}

// New creates a platform with DefaultDevices unless WithDevices is given.
func New(opts ...Option) *Platform {
	p := &Platform{
		devices: DefaultDevices(),
		faults:  make(map[faultKey]error),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultDevices is one built-in camera and one built-in microphone.
func DefaultDevices() []media.Device {
	ranges := func(max ...float64) []media.FrameRateRange {
		out := make([]media.FrameRateRange, 0, len(max))
		for _, m := range max {
			out = append(out, media.FrameRateRange{Min: 1, Max: m})
		}
		return out
	}
	return []media.Device{
		{
			ID:   "sim-camera-0",
			Name: "Simulated Camera",
			Kind: media.StreamVideo,
			Type: media.DeviceTypeBuiltInWideAngleCamera,
			Formats: []media.VideoFormat{
				{Index: 0, Width: 640, Height: 480, Encoding: media.PixelFormat420v, FrameRates: ranges(30.000030517578125)},
				{Index: 1, Width: 640, Height: 480, Encoding: media.PixelFormat420f, FrameRates: ranges(30.000030517578125)},
				{Index: 2, Width: 1280, Height: 720, Encoding: media.PixelFormat420v, FrameRates: ranges(15, 30.000030517578125)},
				{Index: 3, Width: 1280, Height: 720, Encoding: media.PixelFormat420f, FrameRates: ranges(15, 30.000030517578125)},
				{Index: 4, Width: 1920, Height: 1080, Encoding: media.PixelFormat420v, FrameRates: ranges(15, 30.000030517578125, 60)},
			},
		},
		{
			ID:   "sim-microphone-0",
			Name: "Simulated Microphone",
			Kind: media.StreamAudio,
			Type: media.DeviceTypeBuiltInMicrophone,
		},
	}
}

// SetDevices replaces the device set seen by later discoveries.
func (p *Platform) SetDevices(devs ...media.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = devs
}

// Discover implements media.Platform.
func (p *Platform) Discover(kind media.StreamKind, types []media.DeviceType) ([]media.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.discoverErr != nil {
		return nil, p.discoverErr
	}
	var out []media.Device
	for _, d := range p.devices {
		if d.Kind == kind && media.HasDeviceType(types, d.Type) {
			out = append(out, d)
		}
	}
	return out, nil
}

// NewPipeline implements media.Platform.
func (p *Platform) NewPipeline() (media.Pipeline, error) {
	if err := p.fault(StageNewPipeline, media.StreamUnknown); err != nil {
		return nil, err
	}
	pl := &Pipeline{
		platform: p,
		conns:    make(map[media.StreamKind]*connection),
	}
	p.mu.Lock()
	p.pipelines = append(p.pipelines, pl)
	p.mu.Unlock()
	return pl, nil
}

// Pipelines returns every pipeline created so far.
func (p *Platform) Pipelines() []*Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Pipeline(nil), p.pipelines...)
}

func (p *Platform) fault(stage Stage, stream media.StreamKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.faults[faultKey{stage, stream}]; ok {
		return err
	}
	return p.faults[faultKey{stage, media.StreamUnknown}]
}

type input struct {
	dev    media.Device
	format *media.VideoFormat
	rate   media.FrameRateRange
	added  bool
}

func (i *input) Device() media.Device { return i.dev }

type output struct {
	cfg media.OutputConfig
}

func (o *output) Stream() media.StreamKind { return o.cfg.Stream }

type connection struct {
	in  *input
	out *output
}

// Pipeline implements media.Pipeline.
type Pipeline struct {
	platform *Platform

	mu      sync.Mutex
	inputs  []*input
	outputs []*output
	conns   map[media.StreamKind]*connection
	running bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// OpenInput implements media.Pipeline.
func (pl *Pipeline) OpenInput(dev media.Device) (media.Input, error) {
	if err := pl.platform.fault(StageOpenInput, dev.Kind); err != nil {
		return nil, err
	}
	return &input{dev: dev}, nil
}

// AddInput implements media.Pipeline.
func (pl *Pipeline) AddInput(in media.Input) error {
	i, ok := in.(*input)
	if !ok {
		return errors.New("input does not belong to this platform")
	}
	if err := pl.platform.fault(StageAddInput, i.dev.Kind); err != nil {
		return err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for _, existing := range pl.inputs {
		if existing.dev.Kind == i.dev.Kind {
			return fmt.Errorf("pipeline already has a %s input", i.dev.Kind)
		}
	}
	i.added = true
	pl.inputs = append(pl.inputs, i)
	return nil
}

// SetActiveFormat implements media.Pipeline.
func (pl *Pipeline) SetActiveFormat(in media.Input, f media.VideoFormat, r media.FrameRateRange) error {
	i, ok := in.(*input)
	if !ok {
		return errors.New("input does not belong to this platform")
	}
	if err := pl.platform.fault(StageSetFormat, i.dev.Kind); err != nil {
		return err
	}
	if f.Index < 0 || f.Index >= len(i.dev.Formats) {
		return fmt.Errorf("format %d is not supported by %s", f.Index, i.dev.Name)
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	i.format = &f
	i.rate = r
	return nil
}

// AddOutput implements media.Pipeline.
func (pl *Pipeline) AddOutput(cfg media.OutputConfig) (media.Output, error) {
	if err := pl.platform.fault(StageAddOutput, cfg.Stream); err != nil {
		return nil, err
	}
	if cfg.Stream != media.StreamAudio && cfg.Stream != media.StreamVideo {
		return nil, fmt.Errorf("unsupported output stream %s", cfg.Stream)
	}
	if cfg.Handler == nil {
		return nil, errors.New("output has no sample handler")
	}
	o := &output{cfg: cfg}
	pl.mu.Lock()
	pl.outputs = append(pl.outputs, o)
	pl.mu.Unlock()
	return o, nil
}

// Connect implements media.Pipeline.
func (pl *Pipeline) Connect(in media.Input, out media.Output) error {
	i, ok := in.(*input)
	if !ok {
		return errors.New("input does not belong to this platform")
	}
	o, ok := out.(*output)
	if !ok {
		return errors.New("output does not belong to this platform")
	}
	if err := pl.platform.fault(StageConnect, i.dev.Kind); err != nil {
		return err
	}
	if i.dev.Kind != o.cfg.Stream {
		return fmt.Errorf("cannot connect %s input to %s output", i.dev.Kind, o.cfg.Stream)
	}
	if !i.added {
		return errors.New("input is not part of the pipeline")
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if _, ok := pl.conns[i.dev.Kind]; ok {
		return fmt.Errorf("pipeline already has a %s connection", i.dev.Kind)
	}
	pl.conns[i.dev.Kind] = &connection{in: i, out: o}
	return nil
}

// Start implements media.Pipeline.
func (pl *Pipeline) Start() error {
	if d := pl.platform.startDelay; d > 0 {
		time.Sleep(d)
	}
	if err := pl.platform.fault(StageStart, media.StreamUnknown); err != nil {
		return err
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.closed {
		return errors.New("pipeline is closed")
	}
	if pl.running {
		return nil
	}
	pl.running = true
	pl.stop = make(chan struct{})

	if pl.platform.ticking {
		for kind, c := range pl.conns {
			pl.wg.Add(1)
			go pl.tick(kind, c, pl.stop)
		}
	}
	return nil
}

func (pl *Pipeline) tick(kind media.StreamKind, c *connection, stop <-chan struct{}) {
	defer pl.wg.Done()

	period := time.Second / 30
	switch kind {
	case media.StreamVideo:
		if d := c.in.rate.MinFrameDuration(); d > 0 {
			period = d
		}
	case media.StreamAudio:
		if rate := c.out.cfg.Audio.SampleRate; rate > 0 {
			period = time.Second * audioFramesPerBuffer / time.Duration(rate)
		}
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-stop:
			return
		case at := <-ticker.C:
			n++
			ev := media.SampleEvent{Stream: kind, Kind: media.SampleDelivered, At: at}
			if kind == media.StreamVideo && pl.platform.dropEvery > 0 && n%pl.platform.dropEvery == 0 {
				ev.Kind = media.SampleDropped
			}
			c.out.cfg.Handler.HandleSample(ev)
		}
	}
}

// Stop implements media.Pipeline.
func (pl *Pipeline) Stop() error {
	pl.mu.Lock()
	if !pl.running {
		pl.mu.Unlock()
		return nil
	}
	pl.running = false
	close(pl.stop)
	pl.mu.Unlock()

	pl.wg.Wait()
	return nil
}

// Close implements media.Pipeline.
func (pl *Pipeline) Close() error {
	if err := pl.Stop(); err != nil {
		return err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.closed = true
	pl.conns = make(map[media.StreamKind]*connection)
	pl.inputs = nil
	pl.outputs = nil
	return nil
}

// Deliver synchronously delivers one sample on the given stream. It reports
// false when the pipeline is not running or has no such stream.
func (pl *Pipeline) Deliver(kind media.StreamKind) bool {
	return pl.emit(kind, media.SampleDelivered)
}

// Drop reports one dropped sample on the given stream.
func (pl *Pipeline) Drop(kind media.StreamKind) bool {
	return pl.emit(kind, media.SampleDropped)
}

func (pl *Pipeline) emit(kind media.StreamKind, ek media.EventKind) bool {
	pl.mu.Lock()
	c, ok := pl.conns[kind]
	running := pl.running
	pl.mu.Unlock()
	if !ok || !running {
		return false
	}
	c.out.cfg.Handler.HandleSample(media.SampleEvent{Stream: kind, Kind: ek, At: time.Now()})
	return true
}

// Running reports whether the pipeline delivers samples.
func (pl *Pipeline) Running() bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.running
}

// Closed reports whether Close has been called.
func (pl *Pipeline) Closed() bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.closed
}

// ActiveFormat returns the format applied to the input of the given stream.
func (pl *Pipeline) ActiveFormat(kind media.StreamKind) (media.VideoFormat, media.FrameRateRange, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for _, i := range pl.inputs {
		if i.dev.Kind == kind && i.format != nil {
			return *i.format, i.rate, true
		}
	}
	return media.VideoFormat{}, media.FrameRateRange{}, false
}

// OutputConfig returns the configuration of the connected output of the
// given stream.
func (pl *Pipeline) OutputConfig(kind media.StreamKind) (media.OutputConfig, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	c, ok := pl.conns[kind]
	if !ok {
		return media.OutputConfig{}, false
	}
	return c.out.cfg, true
}
