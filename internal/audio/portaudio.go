package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/capture-probe/internal/media"
	"github.com/rs/zerolog"
)

// Platform discovers PortAudio input devices and builds audio pipelines.
type Platform struct {
	log zerolog.Logger
}

// New initializes PortAudio. Call Close when done.
func New(log zerolog.Logger) (*Platform, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Platform{log: log}, nil
}

// Close terminates PortAudio.
func (p *Platform) Close() error {
	return portaudio.Terminate()
}

// Discover implements media.Platform. Only audio devices are reported.
func (p *Platform) Discover(kind media.StreamKind, types []media.DeviceType) ([]media.Device, error) {
	if kind != media.StreamAudio {
		return nil, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]media.Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		typ := classify(d.Name)
		if !media.HasDeviceType(types, typ) {
			continue
		}
		result = append(result, media.Device{
			ID:   deviceID(d),
			Name: d.Name,
			Kind: media.StreamAudio,
			Type: typ,
		})
	}
	return result, nil
}

func deviceID(d *portaudio.DeviceInfo) string {
	if d.HostApi != nil {
		return d.HostApi.Name + "/" + d.Name
	}
	return d.Name
}

// NewPipeline implements media.Platform.
func (p *Platform) NewPipeline() (media.Pipeline, error) {
	return &pipeline{log: p.log}, nil
}

type input struct {
	dev  media.Device
	info *portaudio.DeviceInfo
}

func (i *input) Device() media.Device { return i.dev }

type output struct {
	cfg media.OutputConfig
}

func (o *output) Stream() media.StreamKind { return o.cfg.Stream }

type pipeline struct {
	log zerolog.Logger

	mu      sync.Mutex
	in      *input
	out     *output
	stream  *portaudio.Stream
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func (p *pipeline) OpenInput(dev media.Device) (media.Input, error) {
	if dev.Kind != media.StreamAudio {
		return nil, fmt.Errorf("%s is not an audio device", dev.Name)
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if deviceID(d) == dev.ID && d.MaxInputChannels > 0 {
			return &input{dev: dev, info: d}, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", dev.ID)
}

func (p *pipeline) AddInput(in media.Input) error {
	i, ok := in.(*input)
	if !ok {
		return errors.New("input was not opened by PortAudio")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.in != nil {
		return errors.New("pipeline already has an audio input")
	}
	p.in = i
	return nil
}

func (p *pipeline) SetActiveFormat(media.Input, media.VideoFormat, media.FrameRateRange) error {
	return errors.New("audio devices have no selectable video formats")
}

func (p *pipeline) AddOutput(cfg media.OutputConfig) (media.Output, error) {
	if cfg.Stream != media.StreamAudio {
		return nil, fmt.Errorf("unsupported output stream %s", cfg.Stream)
	}
	if cfg.Handler == nil {
		return nil, errors.New("output has no sample handler")
	}
	if err := checkTarget(cfg.Audio, 0); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		return nil, errors.New("pipeline already has an audio output")
	}
	p.out = &output{cfg: cfg}
	return p.out, nil
}

// Connect opens the PortAudio stream; this is where the device accepts or
// refuses the PCM settings.
func (p *pipeline) Connect(in media.Input, out media.Output) error {
	i, ok := in.(*input)
	if !ok || i != p.in {
		return errors.New("input is not part of the pipeline")
	}
	o, ok := out.(*output)
	if !ok || o != p.out {
		return errors.New("output is not part of the pipeline")
	}
	if err := checkTarget(o.cfg.Audio, i.info.MaxInputChannels); err != nil {
		return err
	}

	buffer := newBuffer(o.cfg.Audio)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   i.info,
			Channels: o.cfg.Audio.Channels,
			Latency:  i.info.DefaultLowInputLatency,
		},
		SampleRate:      float64(o.cfg.Audio.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, buffer)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()
	return nil
}

func (p *pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return errors.New("no connected audio stream")
	}
	if p.running {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	p.running = true
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.readLoop(p.stream, p.out.cfg.Handler, p.done)
	return nil
}

// readLoop is the audio delivery context.
func (p *pipeline) readLoop(stream *portaudio.Stream, h media.SampleHandler, done <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}

		err := stream.Read()
		ev := media.SampleEvent{Stream: media.StreamAudio, Kind: media.SampleDelivered, At: time.Now()}
		switch {
		case err == nil:
		case errors.Is(err, portaudio.InputOverflowed):
			ev.Kind = media.SampleDropped
		default:
			select {
			case <-done:
			default:
				p.log.Error().Err(err).Msg("Audio read failed")
			}
			return
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
	stream := p.stream
	p.mu.Unlock()

	err := stream.Stop()
	p.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	return nil
}

func (p *pipeline) Close() error {
	stopErr := p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	var closeErr error
	if p.stream != nil {
		closeErr = p.stream.Close()
		p.stream = nil
	}
	p.in = nil
	p.out = nil
	return errors.Join(stopErr, closeErr)
}
