// Package vspfw defines the wire format shared with the video signal
// processor firmware: 8-word command and response records, the ring
// buffers carrying them, and the parameter buffers commands point at.
// Every record is little-endian with 4-byte packing.
package vspfw

// Queue geometry.
const (
	CmdQueueSize = 64
	AckQueueSize = 64
	// RecordSize is the size of one command or response.
	RecordSize = 32
)

// Pipeline limits.
const (
	MaxPipelineFilters = 5
	MaxInputPictures   = 1
	MaxOutputPictures  = 4
)

// Application identifiers.
const (
	AppIDNone    = 0
	AppIDFrcVPP  = 1
	AppIDVP8Enc  = 2
	AppIDWiDiEnc = 3
)

// CommandType selects what a command's buffer holds.
type CommandType uint32

const (
	CmdPipelineParameter         CommandType = 0xFFFE
	CmdSharpenParameter          CommandType = 0xFFFD
	CmdDenoiseParameter          CommandType = 0xFFFC
	CmdColorEnhancementParameter CommandType = 0xFFFB
	CmdFrcParameter              CommandType = 0xFFFA
	CmdPicture                   CommandType = 0xFFF9
	CmdFencePictureParam         CommandType = 0xEBEC
	CmdSetContext                CommandType = 0xEBED
	CmdSysStateBuf               CommandType = 0xEBEE
	CmdFenceCompose              CommandType = 0xEBEF
)

var commandNames = map[CommandType]string{
	CmdPipelineParameter:         "pipeline_parameter",
	CmdSharpenParameter:          "sharpen_parameter",
	CmdDenoiseParameter:          "denoise_parameter",
	CmdColorEnhancementParameter: "color_enhancement_parameter",
	CmdFrcParameter:              "frc_parameter",
	CmdPicture:                   "picture",
	CmdFencePictureParam:         "fence_picture_param",
	CmdSetContext:                "set_context",
	CmdSysStateBuf:               "sys_state_buf",
	CmdFenceCompose:              "fence_compose",
}

func (t CommandType) String() string {
	if s, ok := commandNames[t]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether t is a command the firmware accepts.
func (t CommandType) Valid() bool {
	_, ok := commandNames[t]
	return ok
}

// ResponseType classifies a firmware response.
type ResponseType uint32

const (
	RespIdle               ResponseType = 0x80010000
	RespError              ResponseType = 0x80020000
	RespEndOfSequence      ResponseType = 0x80030000
	RespCommandBufferReady ResponseType = 0x80040000
	RespInputSurfaceReady  ResponseType = 0x80050000
	RespOutputSurfaceReady ResponseType = 0x80060000
	RespVP8SetSequence     ResponseType = 150
	RespVP8EncodeFrame     ResponseType = 151
	RespOutputSurfaceFree  ResponseType = 0x0000F001
	RespOutputSurfaceCrc   ResponseType = 0x0000F002
)

func (t ResponseType) String() string {
	switch t {
	case RespIdle:
		return "idle"
	case RespError:
		return "error"
	case RespEndOfSequence:
		return "end_of_sequence"
	case RespCommandBufferReady:
		return "command_buffer_ready"
	case RespInputSurfaceReady:
		return "input_surface_ready"
	case RespOutputSurfaceReady:
		return "output_surface_ready"
	case RespVP8SetSequence:
		return "vp8_set_sequence"
	case RespVP8EncodeFrame:
		return "vp8_encode_frame"
	case RespOutputSurfaceFree:
		return "output_surface_free"
	case RespOutputSurfaceCrc:
		return "output_surface_crc"
	default:
		return "unknown"
	}
}

// Status is the completion code of a response.
type Status uint32

const (
	StatusOK                        Status = 0x8001
	StatusInvalidCommandType        Status = 0x8002
	StatusInvalidCommandArgument    Status = 0x8003
	StatusInvalidProcPictureCommand Status = 0x8004
	StatusInvalidDdrAddress         Status = 0x8005
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidCommandType:
		return "invalid_command_type"
	case StatusInvalidCommandArgument:
		return "invalid_command_argument"
	case StatusInvalidProcPictureCommand:
		return "invalid_proc_picture_command"
	case StatusInvalidDdrAddress:
		return "invalid_ddr_address"
	default:
		return "unknown"
	}
}

// FilterType identifies one stage of a firmware pipeline.
type FilterType uint32

const (
	FilterDenoise FilterType = iota
	FilterSharpening
	FilterColorEnhancement
	FilterFrameRateConversion
)

// DenoiseType selects the denoise algorithm.
type DenoiseType uint32

const (
	DenoiseDegrain DenoiseType = iota
	DenoiseDeblock
)

// FrcQuality selects the interpolation quality.
type FrcQuality uint32

const (
	FrcMediumQuality FrcQuality = iota
	FrcHighQuality
)

// FrcConversionRate is the firmware encoding of a conversion rate.
type FrcConversionRate uint32

const (
	Frc2xConversionRate FrcConversionRate = iota
	Frc2p5xConversionRate
	Frc4xConversionRate
	Frc1p25xConversionRate
)

// Format is a picture layout the firmware reads or writes.
type Format uint32

const (
	FormatNV12 Format = iota
	FormatYV12
	FormatUYVY
	FormatYUY2
	FormatNV11
	FormatNV16
	FormatIYUV
	FormatTypeError
)

// Rotation angles of a picture.
const (
	RotationNone = 0
	Rotation90   = 90
	Rotation180  = 180
	Rotation270  = 270
)

// Control register indices. The CtrlReg block starts at register 2.
const (
	RegSettingAddr          = 3
	RegSecbootDebug         = 4
	RegEntryKind            = 5
	RegPowerSavingMode      = 6
	RegMMUTLBSoftInvalidate = 7
	RegCmdQueueRd           = 12
	RegCmdQueueWr           = 13
	RegAckQueueRd           = 14
	RegAckQueueWr           = 15

	ctrlRegBase = 2
)

// Entry kinds written to RegEntryKind.
const (
	EntryBooted = 0
	EntryInit   = 1
	EntryResume = 2
	EntryExit   = 3
)

// Command is one host-to-firmware record.
type Command struct {
	Context   uint32
	Type      CommandType
	Buffer    uint32
	Size      uint32
	BufferID  uint32
	IRQ       uint32
	Reserved6 uint32
	Reserved7 uint32
}

// Response is one firmware-to-host record. Status is the vss_cc field.
type Response struct {
	Context   uint32
	Type      ResponseType
	Buffer    uint32
	Size      uint32
	Status    Status
	Reserved5 uint32
	Reserved6 uint32
	Reserved7 uint32
}

// Settings tells the firmware where the queues live.
type Settings struct {
	Reserved0         uint32
	CommandQueueSize  uint32
	CommandQueueAddr  uint32
	ResponseQueueSize uint32
	ResponseQueueAddr uint32
	Reserved5         uint32
	Reserved6         uint32
	Reserved7         uint32
}

// CtrlReg is the control register block, registers 2 through 15.
type CtrlReg struct {
	Reserved2            uint32
	SettingAddr          uint32
	SecbootDebug         uint32
	EntryKind            uint32
	PowerSavingMode      uint32
	MMUTLBSoftInvalidate uint32
	Reserved8            uint32
	Reserved9            uint32
	Reserved10           uint32
	Reserved11           uint32
	CmdRd                uint32
	CmdWr                uint32
	AckRd                uint32
	AckWr                uint32
}

// PipelineParams lists the filters of a pipeline in order.
type PipelineParams struct {
	NumFilters             uint32
	Filters                [MaxPipelineFilters]FilterType
	IntermediateBufferBase uint32
	IntermediateBufferSize uint32
}

// SharpenParams configures the sharpening stage.
type SharpenParams struct {
	Quality int32
	_       [7]uint32
}

// DenoiseParams configures the denoise stage.
type DenoiseParams struct {
	Type     DenoiseType
	ValueThr int32
	CntThr   int32
	Coef     int32
	TempThr1 int32
	TempThr2 int32
	_        [2]int32
}

// ColorEnhancementParams configures the color stage.
type ColorEnhancementParams struct {
	TempDetect  int32
	TempCorrect int32
	ClipThr     int32
	MidThr      int32
	LumaAmm     int32
	ChromaAmm   int32
	_           [2]int32
}

// FrcParams configures frame-rate conversion.
type FrcParams struct {
	Quality        FrcQuality
	ConversionRate FrcConversionRate
	_              [6]int32
}

// Picture describes one input or output surface.
type Picture struct {
	SurfaceID uint32
	IRQ       uint32
	Base      uint32
	Height    uint32
	Width     uint32
	RotAngle  uint32
	Stride    uint32
	Format    Format
	Tiled     uint32
	_         [7]int32
}

// PictureParams submits one input and up to four outputs.
type PictureParams struct {
	NumInputPictures  uint32
	NumOutputPictures uint32
	_                 [6]int32
	Input             [MaxInputPictures]Picture
	Output            [MaxOutputPictures]Picture
}
