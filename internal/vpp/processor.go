package vpp

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/logging"
	"github.com/smazurov/ispnode/internal/metrics"
)

// MaxBuffers bounds the input and output slot rings.
const MaxBuffers = 32

// VideoInfo describes the decoded stream.
type VideoInfo struct {
	Width  int
	Height int
	Fps    int
	Flags  uint32
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Window   Window
	Context  Context
	Decoder  FrameReleaser
	Settings Settings
	Logger   *slog.Logger
	Bus      *events.Bus
	// RenderWait bounds each wait on the hardware. Defaults to DefaultRenderWait.
	RenderWait time.Duration
}

// Processor sits between a decoder and its output window. Decoded frames
// go into a render list in presentation order; processed frames replace
// them, or are inserted between them when frame-rate conversion adds
// frames.
type Processor struct {
	logger  *slog.Logger
	window  Window
	decoder FrameReleaser
	worker  *Worker
	pipe    *pipeline

	// Guarded by pipe.mu.
	inputNum    int
	outputNum   int
	inputLoad   int
	outputLoad  int
	renderList  []*Frame
	active      bool
	closed      bool
	eos         bool
	eosRead     bool
	decoded     int
	inputs      int
	procCount   int
	renderCount int
}

// NewProcessor creates a processor for one window.
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Window == nil || opts.Context == nil || opts.Decoder == nil {
		return nil, NewError(CodeFail, "window, context and decoder are required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("vpp")
	}
	worker := NewWorker(opts.Context, opts.Settings, logger)
	return &Processor{
		logger:  logger,
		window:  opts.Window,
		decoder: opts.Decoder,
		worker:  worker,
		pipe:    newPipeline(worker, opts.Window.ID(), logger, opts.Bus, opts.RenderWait),
	}, nil
}

// Window returns the identity of the output target.
func (p *Processor) Window() string { return p.window.ID() }

// ValidateVideoInfo configures the filters for a stream and sizes the slot
// rings. NOT_SUPPORTED means the stream should bypass the processor.
func (p *Processor) ValidateVideoInfo(info VideoInfo, slowMotion int) error {
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()

	if err := p.worker.ConfigureFilters(info.Width, info.Height, info.Fps, slowMotion, info.Flags); err != nil {
		return err
	}
	_, rate := p.worker.Frc()
	refs := p.worker.ForwardReferences()
	p.inputNum = refs + 3
	// One output slot stays reserved for a flush marker.
	p.outputNum = 1 + (refs+2)*int(rate)
	if p.inputNum > MaxBuffers || p.outputNum > MaxBuffers {
		return NewError(CodeFail, "stream needs more buffers than supported",
			map[string]any{"input": p.inputNum, "output": p.outputNum, "max": MaxBuffers})
	}
	p.logger.Info("Stream accepted", "window", p.window.ID(), "input_buffers", p.inputNum,
		"output_buffers", p.outputNum, "output_fps", p.worker.OutputFps())
	return nil
}

// BufferCounts returns the input and output ring sizes.
func (p *Processor) BufferCounts() (input, output int) {
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	return p.inputNum, p.outputNum
}

// Init registers every surface the decoder and the window own, draws the
// output buffers from the window, creates the hardware context and starts
// the pipeline.
func (p *Processor) Init(ctx context.Context, decoderSurfaces []SurfaceID) error {
	p.pipe.mu.Lock()
	if p.inputNum == 0 || p.outputNum == 0 {
		p.pipe.mu.Unlock()
		return NewError(CodeFail, "stream not validated", nil)
	}
	if p.active {
		p.pipe.mu.Unlock()
		return NewError(CodeFail, "processor already running", nil)
	}
	windowSurfaces := p.window.Surfaces()
	if len(windowSurfaces) < p.outputNum || len(decoderSurfaces)+len(windowSurfaces) <= p.inputNum+p.outputNum {
		p.pipe.mu.Unlock()
		return NewError(CodeFail, "not enough buffers",
			map[string]any{"window": len(windowSurfaces), "decoder": len(decoderSurfaces),
				"input": p.inputNum, "output": p.outputNum})
	}
	for _, id := range slices.Concat(decoderSurfaces, windowSurfaces) {
		if err := p.worker.RegisterSurface(id); err != nil {
			p.pipe.mu.Unlock()
			return err
		}
	}
	p.configureFrcForHDMILocked()
	p.pipe.input = make([]slot, p.inputNum)
	p.pipe.output = make([]slot, p.outputNum)
	p.pipe.mu.Unlock()

	// Dequeue may block on the window.
	outputs := make([]*Frame, 0, p.outputNum)
	for range p.outputNum {
		f, err := p.window.Dequeue(ctx)
		if err != nil {
			for _, o := range outputs {
				_ = p.window.Cancel(o)
			}
			return failure("dequeue output buffer", err)
		}
		f.Processed = true
		outputs = append(outputs, f)
	}

	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	for i, f := range outputs {
		p.pipe.output[i].reset(f)
	}
	if err := p.worker.Init(); err != nil {
		return err
	}
	on, rate := p.worker.Frc()
	metrics.SetVPPFrcRate(p.window.ID(), frcMetric(on, rate))
	p.createThreadLocked()
	return nil
}

// configureFrcForHDMILocked applies the HDMI conversion before the
// pipeline starts. Later display changes go through a flush.
func (p *Processor) configureFrcForHDMILocked() {
	s := p.worker.Settings()
	if !s.FrcForHDMI || !s.HDMIConnected {
		return
	}
	on, rate, err := p.worker.CalculateFrc()
	if err != nil {
		p.logger.Warn("HDMI frame-rate conversion not applied", "window", p.window.ID(), "error", err)
		return
	}
	if curOn, curRate := p.worker.Frc(); on != curOn || rate != curRate {
		p.worker.SetFrc(on, rate)
		p.logger.Info("HDMI frame-rate conversion applied", "window", p.window.ID(), "enabled", on, "rate", rate.String())
	}
}

func (p *Processor) createThreadLocked() {
	p.pipe.startLocked()
	p.active = true
	p.logger.Debug("Pipeline started", "window", p.window.ID())
}

// quitThread stops the pipeline goroutine. pipe.mu must not be held.
func (p *Processor) quitThread() {
	p.pipe.stop()
	p.pipe.mu.Lock()
	p.active = false
	p.pipe.mu.Unlock()
}

// CanSetDecoderBuffer merges finished frames into the render list, frees
// consumed inputs and reports whether the next decoded frame can be
// taken.
func (p *Processor) CanSetDecoderBuffer() bool {
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	if !p.active {
		return true
	}
	p.updateRenderListLocked()
	p.pipe.runCond.Broadcast()
	p.clearInputLocked()

	if p.countBuffersOwnedLocked() > p.outputNum+p.inputNum {
		return false
	}
	return !p.eos && (len(p.renderList) == 0 || p.pipe.input[p.inputLoad].status == BufferFree)
}

// SetDecoderBuffer queues a decoded frame for display and, when an input
// slot is free, for processing. BUFFER_NOT_READY means the frame will be
// shown unprocessed.
func (p *Processor) SetDecoderBuffer(f *Frame) error {
	if f == nil {
		return NewError(CodeFail, "nil frame", nil)
	}
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()

	f.Processed = false
	f.refs = 1
	p.renderList = append(p.renderList, f)
	p.decoded++
	if !p.active || p.pipe.input[p.inputLoad].status != BufferFree {
		return NewError(CodeBufferNotReady, "no free input slot", nil)
	}

	p.eosRead = false
	f.refs++
	in := &p.pipe.input[p.inputLoad]
	in.frame = f
	in.flags = f.Flags
	in.timeUs = f.TimeUs
	in.status = BufferLoaded
	p.inputLoad = (p.inputLoad + 1) % p.inputNum
	p.inputs++
	p.pipe.runCond.Broadcast()
	return nil
}

// countBuffersOwnedLocked counts the render list and the output slots.
func (p *Processor) countBuffersOwnedLocked() int {
	n := len(p.renderList)
	for i := range p.pipe.output {
		if p.pipe.output[i].frame != nil {
			n++
		}
	}
	return n
}

// Read hands the next frame in presentation order to the client. It
// returns BUFFER_NOT_READY while nothing is ready and END_OF_STREAM once
// the stream is drained after SetEOS.
func (p *Processor) Read() (*Frame, error) {
	p.pipe.mu.Lock()
	if p.active && p.pipe.err != nil {
		p.pipe.mu.Unlock()
		if err := p.Reset(); err != nil {
			return nil, failure("reset after pipeline error", err)
		}
		p.pipe.mu.Lock()
	}
	defer p.pipe.mu.Unlock()

	if p.active {
		p.updateRenderListLocked()
	}
	if len(p.renderList) == 0 {
		if !p.eos && !p.eosRead {
			return nil, ErrBufferNotReady
		}
		if p.eos && p.active && (p.pipe.eos || p.pipe.tasks > 0 || p.pipe.flushing) {
			return nil, ErrBufferNotReady
		}
		p.logger.Info("End of stream", "window", p.window.ID(), "decoded", p.decoded, "inputs", p.inputs,
			"processed", p.procCount, "rendered", p.renderCount)
		p.eos = false
		p.eosRead = true
		// The flush rewound the pipeline cursors.
		p.clearInputLocked()
		p.inputLoad, p.outputLoad = 0, 0
		return nil, ErrEndOfStream
	}

	f := p.renderList[0]
	p.renderList[0] = nil
	p.renderList = p.renderList[1:]
	if f.Processed {
		f.heldByClient = true
	}
	return f, nil
}

// updateRenderListLocked merges finished outputs into the render list. A
// processed frame replaces the decoded frame with the same timestamp.
// With conversion on, an earlier processed frame is inserted before the
// first later frame. Frames too late for the list are dropped.
func (p *Processor) updateRenderListLocked() {
	frcOn, _ := p.worker.Frc()
	window := p.window.ID()
	for p.outputNum > 0 && p.pipe.output[p.outputLoad].status == BufferReady {
		s := &p.pipe.output[p.outputLoad]
		f := s.frame
		f.TimeUs = s.timeUs

		at := -1
		for i, e := range p.renderList {
			if (frcOn && f.TimeUs <= e.TimeUs) || (!frcOn && f.TimeUs == e.TimeUs) {
				at = i
				break
			}
		}
		switch {
		case at < 0 || (at == 0 && f.TimeUs < p.renderList[0].TimeUs):
			s.status = BufferFree
			metrics.IncVPPOutputFrames(window, metrics.OutcomeDropped)
		case f.TimeUs == p.renderList[at].TimeUs:
			p.releaseLocked(p.renderList[at])
			p.renderList[at] = f
			s.status = BufferRendering
			p.procCount++
			p.renderCount++
			metrics.IncVPPOutputFrames(window, metrics.OutcomeReplaced)
		default:
			p.renderList = slices.Insert(p.renderList, at, f)
			s.status = BufferRendering
			p.renderCount++
			metrics.IncVPPOutputFrames(window, metrics.OutcomeInserted)
		}
		p.outputLoad = (p.outputLoad + 1) % p.outputNum
	}
}

// releaseLocked drops one reference to a frame leaving the render list
// or an input slot. Processed frames stay with their output slot.
func (p *Processor) releaseLocked(f *Frame) {
	if f == nil || f.Processed {
		return
	}
	f.refs--
	if f.refs <= 0 {
		f.refs = 0
		p.decoder.ReleaseFrame(f)
	}
}

func (p *Processor) clearInputLocked() {
	for i := range p.pipe.input {
		in := &p.pipe.input[i]
		if in.status == BufferReady {
			p.releaseLocked(in.frame)
			in.reset(nil)
		}
	}
}

// SignalBufferReturned takes a frame back from the client. A displayed
// processed frame stays with the window and a fresh buffer replaces it.
func (p *Processor) SignalBufferReturned(f *Frame, rendered bool) {
	if f == nil {
		return
	}
	p.pipe.mu.Lock()
	if !f.Processed {
		p.releaseLocked(f)
		p.pipe.mu.Unlock()
		return
	}
	f.heldByClient = false
	idx := p.outputSlotLocked(f)

	if !p.active {
		if !rendered {
			if err := p.window.Cancel(f); err != nil {
				p.logger.Warn("Cancel buffer failed", "window", p.window.ID(), "error", err)
			}
		}
		if idx >= 0 {
			p.pipe.output[idx].reset(nil)
		}
		p.pipe.mu.Unlock()
		return
	}
	if !rendered {
		if idx >= 0 {
			p.pipe.output[idx].reset(f)
			p.pipe.runCond.Broadcast()
		}
		p.pipe.mu.Unlock()
		return
	}
	p.pipe.mu.Unlock()

	// The window owns f now; draw a replacement for its slot.
	next, err := p.window.Dequeue(context.Background())
	if err != nil {
		p.logger.Warn("Dequeue replacement buffer failed", "window", p.window.ID(), "error", err)
		return
	}
	next.Processed = true
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	if idx = p.outputSlotLocked(f); idx >= 0 && p.active {
		p.pipe.output[idx].reset(next)
		p.pipe.runCond.Broadcast()
		return
	}
	if err := p.window.Cancel(next); err != nil {
		p.logger.Warn("Cancel buffer failed", "window", p.window.ID(), "error", err)
	}
}

func (p *Processor) outputSlotLocked(f *Frame) int {
	for i := range p.pipe.output {
		if p.pipe.output[i].frame == f {
			return i
		}
	}
	return -1
}

// Seek flushes the pipeline. With work in flight it blocks until the
// flush completes, otherwise it returns at once. The render list is
// dropped either way.
func (p *Processor) Seek(ctx context.Context) error {
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	if !p.active {
		return nil
	}
	if p.pipe.idle() {
		p.flushLocked()
		p.pipe.resetIndicesLocked()
		p.logger.Info("Seek done, pipeline idle", "window", p.window.ID())
		return nil
	}

	gen := p.pipe.flushGen
	p.pipe.seek = true
	p.pipe.runCond.Broadcast()
	stop := context.AfterFunc(ctx, func() {
		p.pipe.mu.Lock()
		p.pipe.endCond.Broadcast()
		p.pipe.mu.Unlock()
	})
	defer stop()
	for p.pipe.flushGen == gen && p.pipe.err == nil && p.pipe.running && ctx.Err() == nil {
		p.pipe.endCond.Wait()
	}
	switch {
	case p.pipe.flushGen != gen:
	case p.pipe.err != nil:
		return failure("seek", p.pipe.err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return NewError(CodeFail, "pipeline stopped during seek", nil)
	}
	p.flushLocked()
	p.logger.Info("Seek done", "window", p.window.ID())
	return nil
}

// flushLocked frees every slot not held by the client and empties the
// render list.
func (p *Processor) flushLocked() {
	for i := range p.pipe.input {
		in := &p.pipe.input[i]
		if in.status != BufferFree {
			p.releaseLocked(in.frame)
			in.reset(nil)
		}
	}
	for i := range p.pipe.output {
		out := &p.pipe.output[i]
		if out.status != BufferFree && (out.frame == nil || !out.frame.heldByClient) {
			out.reset(out.frame)
		}
	}
	for _, f := range p.renderList {
		p.releaseLocked(f)
	}
	p.renderList = nil
	p.inputLoad = 0
	p.outputLoad = 0
}

// SetEOS marks the end of the decoded stream. The pipeline flushes once
// the last input is submitted; Read reports END_OF_STREAM after that.
func (p *Processor) SetEOS() {
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	if p.eosRead {
		return
	}
	p.eos = true
	if p.active && p.pipe.running {
		p.pipe.eos = true
		p.pipe.runCond.Broadcast()
		p.logger.Info("End of stream set", "window", p.window.ID())
		return
	}
	p.logger.Warn("End of stream set without a running pipeline", "window", p.window.ID())
}

// Reset recovers from a pipeline error: the goroutine is restarted over
// flushed slots and a fresh hardware context.
func (p *Processor) Reset() error {
	p.logger.Warn("Resetting processor", "window", p.window.ID())
	p.quitThread()
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	p.flushLocked()
	if err := p.worker.Reset(); err != nil {
		return err
	}
	p.createThreadLocked()
	return nil
}

// SetSettings replaces the runtime switches. A change that can move the
// conversion rate schedules a re-check on the pipeline.
func (p *Processor) SetSettings(s Settings) {
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	old := p.worker.Settings()
	p.worker.SetSettings(s)
	if !frcInputsChanged(old, s) || !p.active {
		return
	}
	p.pipe.needCheckFrc = true
	p.pipe.runCond.Broadcast()
	p.logger.Info("Display settings changed", "window", p.window.ID(), "hdmi", s.HDMIConnected, "frc", s.FrcOn)
}

func frcInputsChanged(a, b Settings) bool {
	return a.FrcOn != b.FrcOn ||
		a.FrcForHDMI != b.FrcForHDMI ||
		a.HDMIConnected != b.HDMIConnected ||
		!slices.Equal(a.HDMIRefreshRates, b.HDMIRefreshRates)
}

// OutputFps is the frame rate of the processed stream.
func (p *Processor) OutputFps() int {
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	return p.worker.OutputFps()
}

// Status is a snapshot of a processor.
type Status struct {
	Running       bool           `json:"running"`
	Filters       FilterSet      `json:"filters"`
	FrcRate       string         `json:"frc_rate"`
	InputFps      int            `json:"input_fps"`
	OutputFps     int            `json:"output_fps"`
	InputBuffers  []BufferStatus `json:"-"`
	OutputBuffers []BufferStatus `json:"-"`
	TasksInFlight int            `json:"tasks_in_flight"`
	Flushing      bool           `json:"flushing"`
	RenderList    int            `json:"render_list"`
	Decoded       int            `json:"decoded"`
	Inputs        int            `json:"inputs"`
	Processed     int            `json:"processed"`
	Rendered      int            `json:"rendered"`
	Error         string         `json:"error,omitempty"`
}

// Status returns the current state.
func (p *Processor) Status() Status {
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	f := p.worker.Filters()
	st := Status{
		Running:       p.active && p.pipe.running,
		Filters:       f,
		FrcRate:       f.FrcRate.String(),
		InputFps:      p.worker.InputFps(),
		OutputFps:     p.worker.OutputFps(),
		TasksInFlight: p.pipe.tasks,
		Flushing:      p.pipe.flushing,
		RenderList:    len(p.renderList),
		Decoded:       p.decoded,
		Inputs:        p.inputs,
		Processed:     p.procCount,
		Rendered:      p.renderCount,
	}
	for _, s := range p.pipe.input {
		st.InputBuffers = append(st.InputBuffers, s.status)
	}
	for _, s := range p.pipe.output {
		st.OutputBuffers = append(st.OutputBuffers, s.status)
	}
	if p.pipe.err != nil {
		st.Error = p.pipe.err.Error()
	}
	return st
}

// Close stops the pipeline, returns every buffer and destroys the
// hardware context.
func (p *Processor) Close() error {
	p.quitThread()
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.releaseBuffersLocked()
	metrics.SetVPPTasksInFlight(p.window.ID(), 0)
	return p.worker.Close()
}

func (p *Processor) releaseBuffersLocked() {
	for i := range p.pipe.input {
		p.releaseLocked(p.pipe.input[i].frame)
		p.pipe.input[i].reset(nil)
	}
	for i := range p.pipe.output {
		out := &p.pipe.output[i]
		if out.frame != nil && !out.frame.heldByClient {
			if err := p.window.Cancel(out.frame); err != nil {
				p.logger.Warn("Cancel buffer failed", "window", p.window.ID(), "error", err)
			}
			out.reset(nil)
		}
	}
	for _, f := range p.renderList {
		if f.Processed {
			continue
		}
		p.releaseLocked(f)
	}
	p.renderList = nil
	p.inputLoad = 0
	p.outputLoad = 0
}
