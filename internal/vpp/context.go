package vpp

// SurfaceID names a hardware surface. Zero is the empty surface.
type SurfaceID uint32

// SurfaceStatus is the hardware state of an output surface.
type SurfaceStatus int

const (
	SurfaceReady SurfaceStatus = iota
	SurfaceRendering
	SurfaceFailed
)

func (s SurfaceStatus) String() string {
	switch s {
	case SurfaceReady:
		return "ready"
	case SurfaceRendering:
		return "rendering"
	default:
		return "failed"
	}
}

// FilterType is a hardware processing stage.
type FilterType int

const (
	FilterDeblocking FilterType = iota
	FilterNoiseReduction
	FilterDeinterlacing
	FilterSharpening
	FilterColorBalance
	FilterFrameRateConversion
)

func (t FilterType) String() string {
	switch t {
	case FilterDeblocking:
		return "deblock"
	case FilterNoiseReduction:
		return "denoise"
	case FilterDeinterlacing:
		return "deinterlace"
	case FilterSharpening:
		return "sharpen"
	case FilterColorBalance:
		return "color"
	case FilterFrameRateConversion:
		return "frc"
	default:
		return "unknown"
	}
}

// Capability attributes reported for deinterlacing and color balance.
const (
	AttribNone = iota
	DeinterlaceBob
	ColorAutoSaturation
	ColorAutoBrightness
)

// Range is the value range the hardware accepts for one filter attribute.
type Range struct {
	Min, Max, Default, Step float64
}

// FilterCap is one capability entry of a filter.
type FilterCap struct {
	Attrib int
	Range  Range
}

// ColorValue is one color-balance attribute setting.
type ColorValue struct {
	Attrib int
	Value  float64
}

// FilterParams is the parameter buffer of one filter stage.
type FilterParams struct {
	Type      FilterType
	Value     float64
	Algorithm int
	Colors    []ColorValue
	InputFps  int
	OutputFps int
}

// PipelineCaps is what the hardware needs to run a filter chain.
type PipelineCaps struct {
	ForwardReferences int
}

// Pipeline is one unit of work. Outputs[0] is the render target; the rest
// receive frame-rate-conversion frames.
type Pipeline struct {
	Surface           SurfaceID
	End               bool
	Outputs           []SurfaceID
	Filters           []FilterParams
	ForwardReferences []SurfaceID
	TopField          bool
}

// Context is one hardware video-processing context.
type Context interface {
	// Create builds the context over the given surfaces.
	Create(width, height int, surfaces []SurfaceID) error
	Destroy() error
	QueryFilters() ([]FilterType, error)
	QueryFilterCaps(t FilterType) ([]FilterCap, error)
	QueryPipelineCaps(filters []FilterParams) (PipelineCaps, error)
	// Render submits p without waiting for completion.
	Render(p Pipeline) error
	SurfaceStatus(s SurfaceID) (SurfaceStatus, error)
	// SyncSurface blocks until rendering into s has completed.
	SyncSurface(s SurfaceID) error
}
