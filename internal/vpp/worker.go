package vpp

import (
	"log/slog"

	"github.com/smazurov/ispnode/internal/logging"
)

// Resolution limits of the filter pipeline.
const (
	minHeight   = 144
	maxHeight   = 1080
	qvgaArea    = 320 * 240
	vgaArea     = 640 * 480
	hd1080pArea = 1920 * 1080
)

// Filter strengths, as steps above the hardware minimum.
const (
	strengthLow = iota
	strengthMedium
	strengthHigh

	denoiseDeblockStrength = strengthMedium
	colorStrength          = strengthMedium
)

// defaultForwardReferences sizes the buffer pools before the hardware
// reports its real need.
const defaultForwardReferences = 3

// MaxSurfaces bounds the surfaces a worker can register.
const MaxSurfaces = 64

// Frame flags carried from the decoder.
const (
	FlagTopFieldFirst    uint32 = 1 << 0
	FlagBottomFieldFirst uint32 = 1 << 1
	// FlagInterlaced asks ConfigureFilters for bob deinterlacing.
	FlagInterlaced uint32 = 1 << 2
)

// Settings are the runtime switches of the post-processor.
type Settings struct {
	// CommonOn enables the resolution-driven filters.
	CommonOn bool
	// FrcOn enables frame-rate conversion.
	FrcOn bool
	// FrcForHDMI matches the conversion to the HDMI sink while connected.
	FrcForHDMI       bool
	HDMIConnected    bool
	HDMIRefreshRates []int
}

// FilterSet reports which stages a worker runs.
type FilterSet struct {
	Deblock     bool
	Denoise     bool
	Deinterlace bool
	Sharpen     bool
	Color       bool
	Frc         bool
	FrcRate     FrcRate
}

// Enabled lists the enabled stages in pipeline order.
func (f FilterSet) Enabled() []FilterType {
	var out []FilterType
	for _, s := range []struct {
		on bool
		t  FilterType
	}{
		{f.Deblock, FilterDeblocking},
		{f.Denoise, FilterNoiseReduction},
		{f.Deinterlace, FilterDeinterlacing},
		{f.Sharpen, FilterSharpening},
		{f.Color, FilterColorBalance},
		{f.Frc, FilterFrameRateConversion},
	} {
		if s.on {
			out = append(out, s.t)
		}
	}
	return out
}

// Worker drives one hardware processing context. It is not safe for
// concurrent use; a pipeline serializes every call.
type Worker struct {
	ctx      Context
	logger   *slog.Logger
	settings Settings

	width, height int
	inputFps      int
	surfaces      []SurfaceID
	started       bool

	filters FilterSet

	params    []FilterParams
	numRefs   int
	refs      []SurfaceID
	prevInput SurfaceID

	inputIndex  uint32
	outputIndex uint32
}

// NewWorker returns an unconfigured worker over ctx.
func NewWorker(ctx Context, settings Settings, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.GetLogger("vpp")
	}
	return &Worker{
		ctx:      ctx,
		logger:   logger,
		settings: settings,
		numRefs:  defaultForwardReferences,
		filters:  FilterSet{FrcRate: FrcRate1x},
	}
}

// RegisterSurface adds a surface the context may read or render into.
// Surfaces must be registered before Init.
func (w *Worker) RegisterSurface(id SurfaceID) error {
	if id == 0 || len(w.surfaces) >= MaxSurfaces {
		return NewError(CodeFail, "cannot register surface", map[string]any{"surface": id, "registered": len(w.surfaces)})
	}
	w.surfaces = append(w.surfaces, id)
	return nil
}

// ConfigureFilters decides the filter set for a stream. NOT_SUPPORTED
// means the stream should be shown unprocessed.
func (w *Worker) ConfigureFilters(width, height, fps, slowMotion int, flags uint32) error {
	w.width, w.height = width, height
	w.inputFps = fps
	area := width * height

	if height < minHeight || height > maxHeight || area > hd1080pArea {
		w.logger.Warn("Unsupported resolution", "width", width, "height", height)
		return NewError(CodeNotSupported, "resolution outside 176x144 - 1920x1080",
			map[string]any{"width": width, "height": height})
	}

	f := FilterSet{FrcRate: FrcRate1x}
	if w.settings.CommonOn {
		switch {
		case area <= qvgaArea:
			f.Deblock, f.Sharpen, f.Color = true, true, true
		case area <= vgaArea:
			f.Denoise, f.Sharpen, f.Color = true, true, true
		default:
			f.Sharpen = true
		}
		f.Deinterlace = flags&FlagInterlaced != 0
	}

	if slowMotion == 2 || slowMotion == 4 {
		f.Frc = true
		w.inputFps = fps / slowMotion
		switch fps {
		case fps24:
			f.FrcRate = FrcRate2p5x
		case fps30, fps60:
			f.FrcRate = FrcRate2x
		}
	} else if w.settings.FrcOn {
		f.Frc, f.FrcRate = FrcByInputFps(w.inputFps)
	}
	if f.Frc {
		f.Sharpen = true
	}
	w.filters = f

	w.logger.Info("Filters configured", "width", width, "height", height, "fps", fps, "slow_motion", slowMotion,
		"deblock", f.Deblock, "denoise", f.Denoise, "sharpen", f.Sharpen, "color", f.Color,
		"frc", f.Frc, "frc_rate", f.FrcRate.String())

	if !f.Deblock && !f.Denoise && !f.Deinterlace && !f.Sharpen && !f.Color && !f.Frc {
		return NewError(CodeNotSupported, "every filter is off", nil)
	}
	return nil
}

// Filters returns the configured filter set.
func (w *Worker) Filters() FilterSet { return w.filters }

// Frc returns the conversion currently applied.
func (w *Worker) Frc() (bool, FrcRate) { return w.filters.Frc, w.filters.FrcRate }

// SetFrc applies a conversion. It takes effect at the next Init or Reset.
func (w *Worker) SetFrc(on bool, rate FrcRate) {
	w.filters.Frc = on
	w.filters.FrcRate = rate
}

// InputFps is the stream rate after the slow-motion divisor.
func (w *Worker) InputFps() int { return w.inputFps }

// OutputFps is the rate of the processed stream.
func (w *Worker) OutputFps() int {
	if !w.filters.Frc {
		return w.inputFps
	}
	return w.filters.FrcRate.OutputFps(w.inputFps)
}

// ForwardReferences is the number of past frames the filters read.
func (w *Worker) ForwardReferences() int { return w.numRefs }

// Settings returns the current switches.
func (w *Worker) Settings() Settings { return w.settings }

// SetSettings replaces the switches. Conversion changes need CalculateFrc.
func (w *Worker) SetSettings(s Settings) { w.settings = s }

// CalculateFrc recomputes the conversion for the current display.
func (w *Worker) CalculateFrc() (bool, FrcRate, error) {
	if !w.settings.FrcOn {
		return false, FrcRate1x, nil
	}
	if w.settings.FrcForHDMI && w.settings.HDMIConnected {
		return FrcByHDMIRates(w.inputFps, w.settings.HDMIRefreshRates)
	}
	on, rate := FrcByInputFps(w.inputFps)
	return on, rate, nil
}

// ProcBufCount is the number of outputs the next submission needs.
func (w *Worker) ProcBufCount() int {
	return outputCount(w.inputIndex, w.filters.Frc, w.filters.FrcRate)
}

// FillBufCount is the number of outputs the next completion delivers.
func (w *Worker) FillBufCount() int {
	return outputCount(w.outputIndex, w.filters.Frc, w.filters.FrcRate)
}

// Init creates the context, the filter parameters and the reference ring.
func (w *Worker) Init() error {
	if !w.started {
		if err := w.ctx.Create(w.width, w.height, w.surfaces); err != nil {
			return failure("create context", err)
		}
		w.started = true
	}
	if len(w.params) == 0 {
		if err := w.setupFilters(); err != nil {
			return err
		}
	}
	return w.setupPipelineCaps()
}

func (w *Worker) setupFilters() error {
	supported, err := w.ctx.QueryFilters()
	if err != nil {
		return failure("query filters", err)
	}
	w.params = w.params[:0]

	for _, t := range supported {
		switch t {
		case FilterDeblocking, FilterNoiseReduction:
			if (t == FilterDeblocking && !w.filters.Deblock) || (t == FilterNoiseReduction && !w.filters.Denoise) {
				continue
			}
			caps, err := w.ctx.QueryFilterCaps(t)
			if err != nil || len(caps) == 0 {
				return failure("query "+t.String()+" caps", err)
			}
			r := caps[0].Range
			w.params = append(w.params, FilterParams{Type: t, Value: r.Min + denoiseDeblockStrength*r.Step})
		case FilterDeinterlacing:
			if !w.filters.Deinterlace {
				continue
			}
			caps, err := w.ctx.QueryFilterCaps(t)
			if err != nil {
				return failure("query deinterlace caps", err)
			}
			for _, c := range caps {
				if c.Attrib == DeinterlaceBob {
					w.params = append(w.params, FilterParams{Type: t, Algorithm: DeinterlaceBob})
				}
			}
		case FilterSharpening:
			if !w.filters.Sharpen {
				continue
			}
			caps, err := w.ctx.QueryFilterCaps(t)
			if err != nil || len(caps) == 0 {
				return failure("query sharpen caps", err)
			}
			w.params = append(w.params, FilterParams{Type: t, Value: caps[0].Range.Default})
		case FilterColorBalance:
			if !w.filters.Color {
				continue
			}
			caps, err := w.ctx.QueryFilterCaps(t)
			if err != nil {
				return failure("query color caps", err)
			}
			p := FilterParams{Type: t}
			for _, c := range caps {
				if c.Attrib == ColorAutoSaturation || c.Attrib == ColorAutoBrightness {
					p.Colors = append(p.Colors, ColorValue{Attrib: c.Attrib, Value: c.Range.Min + colorStrength*c.Range.Step})
				}
			}
			w.params = append(w.params, p)
		case FilterFrameRateConversion:
			if !w.filters.Frc {
				continue
			}
			w.params = append(w.params, FilterParams{
				Type:      t,
				InputFps:  w.inputFps,
				OutputFps: w.filters.FrcRate.OutputFps(w.inputFps),
			})
		default:
			w.logger.Warn("Filter not supported", "filter", t.String())
		}
	}
	return nil
}

func (w *Worker) setupPipelineCaps() error {
	caps, err := w.ctx.QueryPipelineCaps(w.params)
	if err != nil {
		return failure("query pipeline caps", err)
	}
	w.numRefs = caps.ForwardReferences
	w.refs = make([]SurfaceID, w.numRefs)
	return nil
}

// Params returns the filter parameters built by Init.
func (w *Worker) Params() []FilterParams {
	return append([]FilterParams(nil), w.params...)
}

// Process submits one input and its outputs. An end submission carries
// no input and marks the end of the pipeline.
func (w *Worker) Process(input SurfaceID, outputs []SurfaceID, end bool, flags uint32) error {
	if len(outputs) < 1 || len(outputs) > maxFrcOutputs {
		return NewError(CodeFail, "invalid output count", map[string]any{"outputs": len(outputs)})
	}
	if input == 0 && !end {
		return NewError(CodeFail, "invalid input surface", nil)
	}
	for _, o := range outputs {
		if o == 0 {
			return NewError(CodeFail, "invalid output surface", nil)
		}
	}

	if n := len(w.refs); n > 0 {
		copy(w.refs, w.refs[1:])
		w.refs[n-1] = w.prevInput
	}
	w.prevInput = input

	p := Pipeline{
		Surface:           input,
		End:               end,
		Outputs:           append([]SurfaceID(nil), outputs...),
		Filters:           w.params,
		ForwardReferences: append([]SurfaceID(nil), w.refs...),
		TopField:          flags&(FlagTopFieldFirst|FlagBottomFieldFirst) != 0,
	}
	if end {
		p.Surface = 0
		p.Outputs = p.Outputs[:1]
	}
	if err := w.ctx.Render(p); err != nil {
		return failure("render", err)
	}
	w.inputIndex++
	return nil
}

// Fill checks the outputs of the oldest submission. It returns
// DATA_RENDERING while the hardware is still writing them; all outputs
// of one submission complete together.
func (w *Worker) Fill(outputs []SurfaceID) error {
	if len(outputs) < 1 {
		return NewError(CodeFail, "invalid output count", nil)
	}
	for i, o := range outputs {
		status, err := w.ctx.SurfaceStatus(o)
		if err != nil {
			return failure("query surface status", err)
		}
		switch status {
		case SurfaceRendering:
			if i != 0 {
				w.logger.Warn("Outputs of one submission completed separately", "index", i)
			}
			return ErrDataRendering
		case SurfaceReady:
		default:
			return NewError(CodeFail, "surface failed", map[string]any{"surface": o})
		}
		if err := w.ctx.SyncSurface(o); err != nil {
			return failure("sync surface", err)
		}
	}
	w.outputIndex++
	return nil
}

// Reset recreates the context and filters with the current configuration.
func (w *Worker) Reset() error {
	w.logger.Debug("Worker reset")
	w.inputIndex = 0
	w.outputIndex = 0
	w.params = w.params[:0]
	w.prevInput = 0
	if w.started {
		if err := w.ctx.Destroy(); err != nil {
			w.logger.Warn("Destroy context failed", "error", err)
		}
		w.started = false
	}
	if err := w.ctx.Create(w.width, w.height, w.surfaces); err != nil {
		return failure("create context", err)
	}
	w.started = true
	if err := w.setupFilters(); err != nil {
		return err
	}
	return w.setupPipelineCaps()
}

// Close destroys the context.
func (w *Worker) Close() error {
	if !w.started {
		return nil
	}
	w.started = false
	if err := w.ctx.Destroy(); err != nil {
		return failure("destroy context", err)
	}
	return nil
}
