// Package platform combines per-stream backends into one media.Platform.
package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petems/capture-probe/internal/media"
	"golang.org/x/sync/errgroup"
)

// Compose returns a platform that serves audio from audio and video from
// video. Either may be nil, in which case that kind has no devices.
func Compose(audio, video media.Platform) media.Platform {
	return &composite{audio: audio, video: video}
}

type composite struct {
	audio media.Platform
	video media.Platform
}

func (c *composite) backend(kind media.StreamKind) media.Platform {
	switch kind {
	case media.StreamAudio:
		return c.audio
	case media.StreamVideo:
		return c.video
	}
	return nil
}

func (c *composite) Discover(kind media.StreamKind, types []media.DeviceType) ([]media.Device, error) {
	b := c.backend(kind)
	if b == nil {
		return nil, nil
	}
	return b.Discover(kind, types)
}

func (c *composite) NewPipeline() (media.Pipeline, error) {
	return &pipeline{owner: c, subs: make(map[media.StreamKind]media.Pipeline)}, nil
}

// pipeline lazily creates one backend pipeline per stream kind.
type pipeline struct {
	owner *composite

	mu    sync.Mutex
	subs  map[media.StreamKind]media.Pipeline
	order []media.StreamKind
}

func (p *pipeline) sub(kind media.StreamKind) (media.Pipeline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.subs[kind]; ok {
		return s, nil
	}
	b := p.owner.backend(kind)
	if b == nil {
		return nil, fmt.Errorf("no %s backend available", kind)
	}
	s, err := b.NewPipeline()
	if err != nil {
		return nil, err
	}
	p.subs[kind] = s
	p.order = append(p.order, kind)
	return s, nil
}

func (p *pipeline) existing(kind media.StreamKind) (media.Pipeline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.subs[kind]
	if !ok {
		return nil, fmt.Errorf("no %s input in pipeline", kind)
	}
	return s, nil
}

func (p *pipeline) OpenInput(dev media.Device) (media.Input, error) {
	s, err := p.sub(dev.Kind)
	if err != nil {
		return nil, err
	}
	return s.OpenInput(dev)
}

func (p *pipeline) AddInput(in media.Input) error {
	s, err := p.existing(in.Device().Kind)
	if err != nil {
		return err
	}
	return s.AddInput(in)
}

func (p *pipeline) SetActiveFormat(in media.Input, f media.VideoFormat, r media.FrameRateRange) error {
	s, err := p.existing(in.Device().Kind)
	if err != nil {
		return err
	}
	return s.SetActiveFormat(in, f, r)
}

func (p *pipeline) AddOutput(cfg media.OutputConfig) (media.Output, error) {
	s, err := p.sub(cfg.Stream)
	if err != nil {
		return nil, err
	}
	return s.AddOutput(cfg)
}

func (p *pipeline) Connect(in media.Input, out media.Output) error {
	kind := in.Device().Kind
	if out.Stream() != kind {
		return fmt.Errorf("cannot connect %s input to %s output", kind, out.Stream())
	}
	s, err := p.existing(kind)
	if err != nil {
		return err
	}
	return s.Connect(in, out)
}

func (p *pipeline) snapshot() []media.Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := make([]media.Pipeline, 0, len(p.order))
	for _, kind := range p.order {
		subs = append(subs, p.subs[kind])
	}
	return subs
}

// Start starts every backend in the order they were first used. If one
// fails, the ones already started are stopped again.
func (p *pipeline) Start() error {
	subs := p.snapshot()
	for i, s := range subs {
		if err := s.Start(); err != nil {
			var stopErrs []error
			for _, started := range subs[:i] {
				stopErrs = append(stopErrs, started.Stop())
			}
			return errors.Join(append([]error{err}, stopErrs...)...)
		}
	}
	return nil
}

func (p *pipeline) Stop() error {
	return p.each(media.Pipeline.Stop)
}

func (p *pipeline) Close() error {
	return p.each(media.Pipeline.Close)
}

// each runs fn on every backend concurrently; backends own independent
// devices and may block while draining their delivery loops.
func (p *pipeline) each(fn func(media.Pipeline) error) error {
	var g errgroup.Group
	for _, s := range p.snapshot() {
		s := s
		g.Go(func() error {
			return fn(s)
		})
	}
	return g.Wait()
}
