// Package vpptest provides in-memory stand-ins for the post-processing
// hardware, the output window and the decoder.
package vpptest

import (
	"errors"
	"sync"
	"time"

	"github.com/smazurov/ispnode/internal/vpp"
)

// ErrNotCreated is returned by calls that need a created context.
var ErrNotCreated = errors.New("vpptest: context not created")

// Context simulates the processing hardware. Every output of a Render
// reports RENDERING until Latency has passed.
type Context struct {
	mu sync.Mutex

	// Latency is how long a rendered surface stays busy.
	Latency time.Duration
	// Supported lists the filters the hardware offers.
	Supported []vpp.FilterType
	// ForwardReferences is what QueryPipelineCaps reports.
	ForwardReferences int
	// RenderErr, when set, fails every Render.
	RenderErr error

	created  bool
	width    int
	height   int
	surfaces map[vpp.SurfaceID]bool
	busy     map[vpp.SurfaceID]time.Time
	failed   map[vpp.SurfaceID]bool
	renders  []vpp.Pipeline
	creates  int
	destroys int
}

var _ vpp.Context = (*Context)(nil)

// NewContext returns hardware offering every filter with three forward
// references and no latency.
func NewContext() *Context {
	return &Context{
		Supported: []vpp.FilterType{
			vpp.FilterDeblocking,
			vpp.FilterNoiseReduction,
			vpp.FilterDeinterlacing,
			vpp.FilterSharpening,
			vpp.FilterColorBalance,
			vpp.FilterFrameRateConversion,
		},
		ForwardReferences: 3,
		busy:              make(map[vpp.SurfaceID]time.Time),
		failed:            make(map[vpp.SurfaceID]bool),
	}
}

func (c *Context) Create(width, height int, surfaces []vpp.SurfaceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = true
	c.width, c.height = width, height
	c.surfaces = make(map[vpp.SurfaceID]bool, len(surfaces))
	for _, s := range surfaces {
		c.surfaces[s] = true
	}
	c.creates++
	return nil
}

func (c *Context) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.created {
		return ErrNotCreated
	}
	c.created = false
	c.busy = make(map[vpp.SurfaceID]time.Time)
	c.destroys++
	return nil
}

func (c *Context) QueryFilters() ([]vpp.FilterType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.created {
		return nil, ErrNotCreated
	}
	return append([]vpp.FilterType(nil), c.Supported...), nil
}

func (c *Context) QueryFilterCaps(t vpp.FilterType) ([]vpp.FilterCap, error) {
	switch t {
	case vpp.FilterDeblocking, vpp.FilterNoiseReduction:
		return []vpp.FilterCap{{Range: vpp.Range{Min: 0, Max: 64, Default: 0, Step: 16}}}, nil
	case vpp.FilterSharpening:
		return []vpp.FilterCap{{Range: vpp.Range{Min: 0, Max: 64, Default: 44, Step: 1}}}, nil
	case vpp.FilterDeinterlacing:
		return []vpp.FilterCap{{Attrib: vpp.DeinterlaceBob}}, nil
	case vpp.FilterColorBalance:
		r := vpp.Range{Min: 0, Max: 2, Default: 1, Step: 0.5}
		return []vpp.FilterCap{
			{Attrib: vpp.ColorAutoSaturation, Range: r},
			{Attrib: vpp.ColorAutoBrightness, Range: r},
		}, nil
	case vpp.FilterFrameRateConversion:
		return nil, nil
	}
	return nil, errors.New("vpptest: unknown filter")
}

func (c *Context) QueryPipelineCaps([]vpp.FilterParams) (vpp.PipelineCaps, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return vpp.PipelineCaps{ForwardReferences: c.ForwardReferences}, nil
}

func (c *Context) Render(p vpp.Pipeline) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.created {
		return ErrNotCreated
	}
	if c.RenderErr != nil {
		return c.RenderErr
	}
	if p.Surface != 0 && !c.surfaces[p.Surface] {
		return errors.New("vpptest: unregistered input surface")
	}
	until := time.Now().Add(c.Latency)
	for _, o := range p.Outputs {
		if !c.surfaces[o] {
			return errors.New("vpptest: unregistered output surface")
		}
		c.busy[o] = until
	}
	c.renders = append(c.renders, p)
	return nil
}

func (c *Context) SurfaceStatus(s vpp.SurfaceID) (vpp.SurfaceStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed[s] {
		return vpp.SurfaceFailed, nil
	}
	if until, ok := c.busy[s]; ok && time.Now().Before(until) {
		return vpp.SurfaceRendering, nil
	}
	return vpp.SurfaceReady, nil
}

func (c *Context) SyncSurface(s vpp.SurfaceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.busy, s)
	return nil
}

// FailSurface makes every later status query of s report a failure.
func (c *Context) FailSurface(s vpp.SurfaceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[s] = true
}

// SetLatency changes the render latency of later submissions.
func (c *Context) SetLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Latency = d
}

// SetRenderErr makes later submissions fail with err, or succeed when nil.
func (c *Context) SetRenderErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RenderErr = err
}

// Renders returns every submitted pipeline.
func (c *Context) Renders() []vpp.Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]vpp.Pipeline(nil), c.renders...)
}

// Creates returns how many times the context was created.
func (c *Context) Creates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}

// Created reports whether the context is live.
func (c *Context) Created() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}
