//go:build linux

package video

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"github.com/petems/capture-probe/internal/media"
	"github.com/rs/zerolog"
)

const (
	devicePattern = "/dev/video*"
	// frameTimeout is in seconds, as expected by WaitForFrame.
	frameTimeout = 1
)

// Platform discovers V4L2 capture nodes and builds video pipelines.
type Platform struct {
	log     zerolog.Logger
	pattern string
}

// New creates a V4L2 platform.
func New(log zerolog.Logger) *Platform {
	return &Platform{log: log, pattern: devicePattern}
}

// Close is a no-op; V4L2 devices are opened per query.
func (p *Platform) Close() error {
	return nil
}

// Discover implements media.Platform. Only video devices are reported.
func (p *Platform) Discover(kind media.StreamKind, types []media.DeviceType) ([]media.Device, error) {
	if kind != media.StreamVideo {
		return nil, nil
	}
	paths, err := filepath.Glob(p.pattern)
	if err != nil {
		return nil, err
	}

	var result []media.Device
	for _, path := range paths {
		dev, ok := p.probe(path)
		if !ok || !media.HasDeviceType(types, dev.Type) {
			continue
		}
		result = append(result, dev)
	}
	return result, nil
}

func (p *Platform) probe(path string) (media.Device, bool) {
	cam, err := webcam.Open(path)
	if err != nil {
		p.log.Debug().Err(err).Str("path", path).Msg("Skipping video node")
		return media.Device{}, false
	}
	defer cam.Close()

	supported := cam.GetSupportedFormats()
	codes := make([]webcam.PixelFormat, 0, len(supported))
	for pf := range supported {
		codes = append(codes, pf)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	var formats []media.VideoFormat
	for _, pf := range codes {
		for _, fs := range cam.GetSupportedFrameSizes(pf) {
			for _, sz := range frameSizes(fs.MinWidth, fs.MaxWidth, fs.MinHeight, fs.MaxHeight) {
				var ranges []media.FrameRateRange
				for _, fr := range cam.GetSupportedFramerates(pf, uint32(sz.width), uint32(sz.height)) {
					if r, ok := intervalRange(fr.MinNumerator, fr.MinDenominator, fr.MaxNumerator, fr.MaxDenominator); ok {
						ranges = append(ranges, r)
					}
				}
				formats = append(formats, media.VideoFormat{
					Index:      len(formats),
					Width:      sz.width,
					Height:     sz.height,
					Encoding:   fromV4L2(uint32(pf)),
					FrameRates: ranges,
				})
			}
		}
	}
	// Metadata nodes expose no capture formats.
	if len(formats) == 0 {
		return media.Device{}, false
	}

	name := deviceName(path)
	return media.Device{
		ID:      path,
		Name:    name,
		Kind:    media.StreamVideo,
		Type:    classify(name),
		Formats: formats,
	}, true
}

func deviceName(path string) string {
	data, err := os.ReadFile(filepath.Join("/sys/class/video4linux", filepath.Base(path), "name"))
	if err != nil {
		return path
	}
	if name := strings.TrimSpace(string(data)); name != "" {
		return name
	}
	return path
}

// NewPipeline implements media.Platform.
func (p *Platform) NewPipeline() (media.Pipeline, error) {
	return &pipeline{log: p.log}, nil
}

type input struct {
	dev    media.Device
	cam    *webcam.Webcam
	active *media.VideoFormat
}

func (i *input) Device() media.Device { return i.dev }

type output struct {
	cfg media.OutputConfig
}

func (o *output) Stream() media.StreamKind { return o.cfg.Stream }

type pipeline struct {
	log zerolog.Logger

	mu        sync.Mutex
	opened    []*input
	in        *input
	out       *output
	connected bool
	running   bool
	done      chan struct{}
	wg        sync.WaitGroup
}

func (p *pipeline) OpenInput(dev media.Device) (media.Input, error) {
	if dev.Kind != media.StreamVideo {
		return nil, fmt.Errorf("%s is not a video device", dev.Name)
	}
	cam, err := webcam.Open(dev.ID)
	if err != nil {
		return nil, err
	}
	i := &input{dev: dev, cam: cam}
	p.mu.Lock()
	p.opened = append(p.opened, i)
	p.mu.Unlock()
	return i, nil
}

func (p *pipeline) AddInput(in media.Input) error {
	i, ok := in.(*input)
	if !ok {
		return errors.New("input was not opened by V4L2")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.in != nil {
		return errors.New("pipeline already has a video input")
	}
	p.in = i
	return nil
}

func (p *pipeline) SetActiveFormat(in media.Input, f media.VideoFormat, r media.FrameRateRange) error {
	i, ok := in.(*input)
	if !ok {
		return errors.New("input was not opened by V4L2")
	}
	pf, w, h, err := i.cam.SetImageFormat(webcam.PixelFormat(toV4L2(f.Encoding)), uint32(f.Width), uint32(f.Height))
	if err != nil {
		return err
	}
	if fromV4L2(uint32(pf)) != f.Encoding || int(w) != f.Width || int(h) != f.Height {
		return fmt.Errorf("device applied '%s' %dx%d instead of %s", fromV4L2(uint32(pf)), w, h, f)
	}
	if err := i.cam.SetFramerate(float32(r.Max)); err != nil {
		return fmt.Errorf("failed to set frame rate %.2f: %w", r.Max, err)
	}
	p.mu.Lock()
	i.active = &f
	p.mu.Unlock()
	return nil
}

func (p *pipeline) AddOutput(cfg media.OutputConfig) (media.Output, error) {
	if cfg.Stream != media.StreamVideo {
		return nil, fmt.Errorf("unsupported output stream %s", cfg.Stream)
	}
	if cfg.Handler == nil {
		return nil, errors.New("output has no sample handler")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		return nil, errors.New("pipeline already has a video output")
	}
	p.out = &output{cfg: cfg}
	return p.out, nil
}

// Connect checks that the output settings match the active format; V4L2
// hands frames over unconverted.
func (p *pipeline) Connect(in media.Input, out media.Output) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := in.(*input)
	if !ok || i != p.in {
		return errors.New("input is not part of the pipeline")
	}
	o, ok := out.(*output)
	if !ok || o != p.out {
		return errors.New("output is not part of the pipeline")
	}
	if a := i.active; a != nil {
		t := o.cfg.Video
		if t.Encoding != a.Encoding || t.Width != a.Width || t.Height != a.Height {
			return fmt.Errorf("output %s does not match active format %s", t, a)
		}
	}
	p.connected = true
	return nil
}

func (p *pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return errors.New("no connected video stream")
	}
	if p.running {
		return nil
	}
	if err := p.in.cam.StartStreaming(); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	p.running = true
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.readLoop(p.in.cam, p.out.cfg.Handler, p.done)
	return nil
}

// readLoop is the video delivery context.
func (p *pipeline) readLoop(cam *webcam.Webcam, h media.SampleHandler, done <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}

		err := cam.WaitForFrame(frameTimeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			p.log.Error().Err(err).Msg("Video wait failed")
			return
		}

		frame, err := cam.ReadFrame()
		ev := media.SampleEvent{Stream: media.StreamVideo, Kind: media.SampleDelivered, At: time.Now()}
		if err != nil {
			ev.Kind = media.SampleDropped
		} else if len(frame) == 0 {
			continue
		}
		h.HandleSample(ev)
	}
}

func (p *pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.done)
	cam := p.in.cam
	p.mu.Unlock()

	p.wg.Wait()
	if err := cam.StopStreaming(); err != nil {
		return fmt.Errorf("failed to stop streaming: %w", err)
	}
	return nil
}

func (p *pipeline) Close() error {
	errs := []error{p.Stop()}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, i := range p.opened {
		errs = append(errs, i.cam.Close())
	}
	p.opened = nil
	p.in = nil
	p.out = nil
	p.connected = false
	return errors.Join(errs...)
}
