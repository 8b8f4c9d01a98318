package vpp

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/metrics"
)

// DefaultRenderWait bounds a wait on the hardware while a flush is due.
const DefaultRenderWait = 2 * time.Second

// Flush reasons.
const (
	FlushSeek = "seek"
	FlushEOS  = "eos"
	FlushFrc  = "frc"
)

// convertedRateHz is the display rate the outputs of one converted input
// are spaced for.
const convertedRateHz = 60

// outputOffsetUs is how far output i of n produced from one input lies
// before the last of them. The multiply runs first so no precision is
// lost to the division.
func outputOffsetUs(n, i int) int64 {
	return 1000000 * int64(n-i-1) / convertedRateHz
}

// pipeline is the processing goroutine. It submits loaded inputs to the
// worker, reaps finished outputs and runs flushes. Every field, and the
// slots the processor loads, is guarded by mu.
type pipeline struct {
	mu      sync.Mutex
	runCond *sync.Cond
	endCond *sync.Cond

	worker     *Worker
	logger     *slog.Logger
	bus        *events.Bus
	window     string
	renderWait time.Duration

	input  []slot
	output []slot

	inputProcIdx  int
	outputProcIdx int
	inputFillIdx  int
	outputFillIdx int
	tasks         int
	firstInput    bool

	eos          bool
	seek         bool
	frcChange    bool
	flushing     bool
	needCheckFrc bool

	updatedFrcOn   bool
	updatedFrcRate FrcRate

	// flushGen counts completed flushes so waiters detect their own.
	flushGen uint64
	err      error
	quit     bool
	running  bool
	done     chan struct{}
}

func newPipeline(worker *Worker, window string, logger *slog.Logger, bus *events.Bus, renderWait time.Duration) *pipeline {
	if renderWait <= 0 {
		renderWait = DefaultRenderWait
	}
	p := &pipeline{
		worker:     worker,
		logger:     logger,
		bus:        bus,
		window:     window,
		renderWait: renderWait,
	}
	p.runCond = sync.NewCond(&p.mu)
	p.endCond = sync.NewCond(&p.mu)
	return p
}

// startLocked launches a fresh goroutine over the current slots.
func (p *pipeline) startLocked() {
	p.inputProcIdx, p.outputProcIdx = 0, 0
	p.inputFillIdx, p.outputFillIdx = 0, 0
	p.tasks = 0
	p.firstInput = true
	p.eos, p.seek, p.frcChange, p.flushing, p.needCheckFrc = false, false, false, false, false
	p.err = nil
	p.quit = false
	p.running = true
	p.done = make(chan struct{})
	metrics.SetVPPTasksInFlight(p.window, 0)
	go p.run(p.done)
}

// stop ends the goroutine and waits for it. mu must not be held.
func (p *pipeline) stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.quit = true
	done := p.done
	p.runCond.Broadcast()
	p.endCond.Broadcast()
	p.mu.Unlock()
	<-done
}

func (p *pipeline) run(done chan struct{}) {
	defer close(done)
	for {
		p.mu.Lock()
		more := !p.quit && p.iterate()
		if !more {
			p.running = false
			p.endCond.Broadcast()
		}
		p.mu.Unlock()
		if !more {
			return
		}
	}
}

// iterate runs one drain, admit, submit round. It returns false when the
// goroutine must exit.
func (p *pipeline) iterate() bool {
	if p.needCheckFrc {
		p.checkFrc()
	}

	progressed, waited, pendingOnHW := false, false, false
	for p.tasks > 0 && (!pendingOnHW || p.flushing) && !p.quit {
		outs, ok := p.fillSlots()
		if !ok {
			break
		}
		err := p.worker.Fill(p.surfaces(p.output, outs))
		switch {
		case err == nil:
			p.tasks--
			progressed = true
			metrics.SetVPPTasksInFlight(p.window, p.tasks)
			if p.completeFill(outs) && !p.flushCompleted() {
				return false
			}
		case errors.Is(err, ErrDataRendering):
			pendingOnHW = true
			if p.seek || p.eos || p.frcChange {
				p.logger.Debug("Waiting on hardware", "tasks", p.tasks, "flushing", p.flushing,
					"eos", p.eos, "seek", p.seek, "frc_change", p.frcChange)
				p.waitRun(p.renderWait)
				waited = true
			}
		default:
			p.fail(err)
			return false
		}
	}
	if p.quit {
		return false
	}

	inputReady := p.input[p.inputProcIdx].status == BufferLoaded
	outputFree := p.outputFree()
	flush := ((!inputReady && (p.eos || p.seek)) || p.frcChange) && !p.flushing

	if (!inputReady || !outputFree) && !p.seek && !p.eos && !p.frcChange {
		if p.tasks > 0 {
			p.waitRun(p.renderWait)
		} else {
			p.runCond.Wait()
		}
		return true
	}

	if ((inputReady && outputFree) || flush) && !p.flushing {
		ok, err := p.submit(flush)
		if err != nil {
			p.fail(err)
			return false
		}
		progressed = progressed || ok
	}
	if !progressed && !waited {
		p.waitRun(p.renderWait)
	}
	return true
}

// waitRun waits on runCond for at most d.
func (p *pipeline) waitRun(d time.Duration) {
	t := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.runCond.Broadcast()
		p.mu.Unlock()
	})
	p.runCond.Wait()
	t.Stop()
}

func (p *pipeline) checkFrc() {
	p.needCheckFrc = false
	on, rate, err := p.worker.CalculateFrc()
	if err != nil {
		p.logger.Warn("Frame-rate conversion check failed", "window", p.window, "error", err)
		return
	}
	curOn, curRate := p.worker.Frc()
	if on == curOn && rate == curRate {
		p.logger.Debug("Frame-rate conversion unchanged", "window", p.window)
		return
	}
	p.frcChange = true
	p.updatedFrcOn = on
	p.updatedFrcRate = rate
	p.logger.Info("Frame-rate conversion change staged", "window", p.window, "enabled", on, "rate", rate.String())
}

// fillSlots returns the output slots the oldest submission renders into.
func (p *pipeline) fillSlots() ([]int, bool) {
	need := p.worker.FillBufCount()
	if need == 0 || need > maxFrcOutputs {
		return nil, false
	}
	if p.output[p.outputFillIdx].status == BufferEndFlag {
		return []int{p.outputFillIdx}, true
	}
	outs := make([]int, 0, need)
	for i := 0; i < need; i++ {
		pos := (p.outputFillIdx + i) % len(p.output)
		if p.output[pos].status != BufferProcessing {
			break
		}
		outs = append(outs, pos)
	}
	return outs, len(outs) == need
}

// completeFill marks a finished submission and reports whether it was a
// flush marker. The input of a submission stays a forward reference until
// the next one completes.
func (p *pipeline) completeFill(outs []int) bool {
	if p.firstInput {
		p.firstInput = false
	} else {
		p.input[p.inputFillIdx].status = BufferReady
		p.inputFillIdx = (p.inputFillIdx + 1) % len(p.input)
	}

	head := &p.output[p.outputFillIdx]
	switch head.status {
	case BufferEndFlag:
		head.status = BufferFree
		p.firstInput = true
		if p.eos || p.seek {
			p.inputFillIdx, p.outputFillIdx = 0, 0
			p.inputProcIdx, p.outputProcIdx = 0, 0
		}
		return true
	case BufferProcessing:
		n := len(outs)
		for i, pos := range outs {
			s := &p.output[pos]
			s.status = BufferReady
			if n > 1 {
				s.timeUs -= outputOffsetUs(n, i)
			}
		}
		p.outputFillIdx = (p.outputFillIdx + n) % len(p.output)
	default:
		p.logger.Warn("Unexpected output status on fill", "window", p.window, "status", head.status.String())
	}
	return false
}

// flushCompleted applies a staged conversion change and resets the
// worker. It returns false on a reset failure.
func (p *pipeline) flushCompleted() bool {
	reason := FlushFrc
	switch {
	case p.seek:
		reason = FlushSeek
	case p.eos:
		reason = FlushEOS
	}
	p.seek = false
	p.eos = false
	frcApplied := false
	if p.frcChange {
		on, rate := p.worker.Frc()
		if on != p.updatedFrcOn || rate != p.updatedFrcRate {
			p.worker.SetFrc(p.updatedFrcOn, p.updatedFrcRate)
			frcApplied = true
		}
	}
	p.frcChange = false
	p.flushing = false

	err := p.worker.Reset()
	p.flushGen++
	p.endCond.Broadcast()

	p.logger.Info("Pipeline flushed", "window", p.window, "reason", reason)
	metrics.IncVPPFlushes(p.window, reason)
	now := time.Now().Format(time.RFC3339)
	p.bus.Publish(events.FlushCompletedEvent{Window: p.window, Reason: reason, Timestamp: now})
	if frcApplied {
		on, rate := p.worker.Frc()
		metrics.SetVPPFrcRate(p.window, frcMetric(on, rate))
		p.bus.Publish(events.FrcChangedEvent{Window: p.window, Enabled: on, Rate: rate.String(), Timestamp: now})
	}

	if err != nil {
		p.fail(err)
		return false
	}
	return true
}

func frcMetric(on bool, rate FrcRate) float64 {
	if !on {
		return 1
	}
	return rate.Multiplier()
}

// outputFree reports whether the next submission fits with one output
// slot to spare. The spare slot is where a flush marker lands.
func (p *pipeline) outputFree() bool {
	need := p.worker.ProcBufCount() + 1
	if need > len(p.output) {
		return false
	}
	for i := 0; i < need; i++ {
		if p.output[(p.outputProcIdx+i)%len(p.output)].status != BufferFree {
			return false
		}
	}
	return true
}

// submit hands the next input, or a flush marker, to the worker. It
// reports whether anything was submitted.
func (p *pipeline) submit(flush bool) (bool, error) {
	need := p.worker.ProcBufCount()
	if need == 0 || need > maxFrcOutputs {
		return false, nil
	}
	var (
		input  SurfaceID
		flags  uint32
		timeUs int64
	)
	if flush {
		need = 1
	} else {
		in := &p.input[p.inputProcIdx]
		input, flags, timeUs = in.surface(), in.flags, in.timeUs
	}

	outs := make([]int, 0, need)
	for i := 0; i < need && i < len(p.output); i++ {
		pos := (p.outputProcIdx + i) % len(p.output)
		if p.output[pos].status != BufferFree {
			break
		}
		outs = append(outs, pos)
	}
	if len(outs) != need {
		return false, nil
	}

	if err := p.worker.Process(input, p.surfaces(p.output, outs), flush, flags); err != nil {
		return false, err
	}
	p.tasks++
	metrics.SetVPPTasksInFlight(p.window, p.tasks)

	if flush {
		p.flushing = true
		p.output[p.outputProcIdx].status = BufferEndFlag
		p.logger.Debug("Flush submitted", "window", p.window, "eos", p.eos, "seek", p.seek, "frc_change", p.frcChange)
		return true, nil
	}
	p.input[p.inputProcIdx].status = BufferProcessing
	p.inputProcIdx = (p.inputProcIdx + 1) % len(p.input)
	for _, pos := range outs {
		p.output[pos].status = BufferProcessing
		p.output[pos].timeUs = timeUs
	}
	p.outputProcIdx = (p.outputProcIdx + len(outs)) % len(p.output)
	return true, nil
}

func (p *pipeline) surfaces(slots []slot, idx []int) []SurfaceID {
	out := make([]SurfaceID, len(idx))
	for i, pos := range idx {
		out[i] = slots[pos].surface()
	}
	return out
}

// fail records a sticky error. The processor must be reset before reuse.
func (p *pipeline) fail(err error) {
	p.err = err
	p.logger.Error("Pipeline stopped", "window", p.window, "error", err)
}

// idle reports whether nothing is in flight on the hardware.
func (p *pipeline) idle() bool {
	if p.tasks > 0 || p.flushing {
		return false
	}
	for i := range p.input {
		if p.input[i].status == BufferProcessing {
			return false
		}
	}
	for i := range p.output {
		if s := p.output[i].status; s == BufferProcessing || s == BufferEndFlag {
			return false
		}
	}
	return true
}

// resetIndicesLocked rewinds the slot cursors. Only valid while idle.
func (p *pipeline) resetIndicesLocked() {
	p.inputProcIdx, p.outputProcIdx = 0, 0
	p.inputFillIdx, p.outputFillIdx = 0, 0
	p.firstInput = true
}
