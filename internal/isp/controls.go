package isp

// Control identifiers of the AtomISP driver.
const (
	CIDHFlip        uint32 = 0x00980914
	CIDVFlip        uint32 = 0x00980915
	CIDZoomAbsolute uint32 = 0x009a090d
	CIDTorchLevel   uint32 = 0x009c0908

	CIDCameraLastP1          uint32 = 0x009a0d00
	CIDFlashMode                    = CIDCameraLastP1 + 10
	CIDSkipFrames                   = CIDCameraLastP1 + 17
	CIDEnableVFPP                   = CIDCameraLastP1 + 21
	CIDContinuousMode               = CIDCameraLastP1 + 22
	CIDContinuousRawBufferSize      = CIDCameraLastP1 + 23
	CIDContinuousViewfinder         = CIDCameraLastP1 + 24
	CIDEnableRawBufferLock          = CIDCameraLastP1 + 29
	CIDLowLight              uint32 = 0x08000005
)

// Flash modes for CIDFlashMode.
const (
	flashModeOff int32 = iota
	flashModeFlash
	flashModeTorch
	flashModeIndicator
)

// Capture modes set through S_PARM.
const (
	ciModeNone       uint32 = 0
	ciModeContinuous uint32 = 0x1000
	ciModeStill      uint32 = 0x2000
	ciModeVideo      uint32 = 0x4000
	ciModePreview    uint32 = 0x8000
)

// Driver events on the ISP subdevice.
const (
	EventFrameSync     uint32 = 0x08000001
	Event3AStatsReady  uint32 = 0x08000002
	EventMetadataReady uint32 = 0x08000003
)

// HAL-ZSL and polling constants.
const (
	numHALZSLBuffers = 6
	// maxHALZSLBuffersHeldInHAL bounds the capture FIFO.
	maxHALZSLBuffersHeldInHAL = 2

	defaultHALZSLRetryCount   = 5
	defaultStarvingWaitMs     = 33
	defaultGetFrameRetryCount = 60
	fileInjectRetryCount      = 40
	previewPollTimeoutMs      = 1000
	frameSyncPollTimeoutMs    = 500
	eventRecoveryWaitMs       = 33
	qcifWidth, qcifHeight     = 176, 144
	defaultRingBufferBase     = 3
	css2MinRingBufferSize     = 5
	css2InfiniteBurstRingSize = 7
)
