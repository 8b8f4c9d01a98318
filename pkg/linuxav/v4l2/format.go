package v4l2

// Pixel formats understood by the ISP.
const (
	PixFmtYUV420  = 0x32315559 // 'YU12'
	PixFmtYVU420  = 0x32315659 // 'YV12'
	PixFmtYUV422P = 0x50323234 // '422P'
	PixFmtNV12    = 0x3231564E // 'NV12'
	PixFmtNV21    = 0x3132564E // 'NV21'
	PixFmtNV16    = 0x3631564E // 'NV16'
	PixFmtYUYV    = 0x56595559 // 'YUYV'
	PixFmtUYVY    = 0x59565955 // 'UYVY'
	PixFmtRGB565  = 0x50424752 // 'RGBP'
	PixFmtRGB32   = 0x34424752 // 'RGB4'
	PixFmtSBGGR8  = 0x31384142 // 'BA81'
	PixFmtSGRBG10 = 0x30314142 // 'BA10'
	PixFmtSBGGR16 = 0x32525942 // 'BYR2'
	PixFmtJPEG    = 0x4745504A // 'JPEG'
)

type formatInfo struct {
	depth  int
	planar bool
	bayer  bool
}

var formatTable = map[uint32]formatInfo{
	PixFmtYUV420:  {depth: 12, planar: true},
	PixFmtYVU420:  {depth: 12, planar: true},
	PixFmtYUV422P: {depth: 16, planar: true},
	PixFmtNV12:    {depth: 12, planar: true},
	PixFmtNV21:    {depth: 12, planar: true},
	PixFmtNV16:    {depth: 16, planar: true},
	PixFmtYUYV:    {depth: 16},
	PixFmtUYVY:    {depth: 16},
	PixFmtRGB565:  {depth: 16},
	PixFmtRGB32:   {depth: 32},
	PixFmtSBGGR8:  {depth: 8, bayer: true},
	PixFmtSGRBG10: {depth: 16, bayer: true},
	PixFmtSBGGR16: {depth: 16, bayer: true},
}

// Unknown formats are treated as packed 16 bit.
func lookupFormat(fourcc uint32) formatInfo {
	if info, ok := formatTable[fourcc]; ok {
		return info
	}
	return formatInfo{depth: 16}
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}

// IsBayer reports whether fourcc is a raw sensor format.
func IsBayer(fourcc uint32) bool {
	return lookupFormat(fourcc).bayer
}

// BytesToPixels converts a line stride in bytes to a width in pixels.
// Planar YUV formats have an 8 bit luma plane, so bytes equal pixels.
func BytesToPixels(fourcc uint32, bytes int) int {
	info := lookupFormat(fourcc)
	if info.planar {
		return bytes
	}
	return bytes * 8 / info.depth
}

// PixelsToBytes converts a width in pixels to a line stride in bytes.
func PixelsToBytes(fourcc uint32, pixels int) int {
	info := lookupFormat(fourcc)
	if info.planar {
		return pixels
	}
	return align8(info.depth*pixels) / 8
}

// FrameSize returns the buffer size in bytes for a frame.
func FrameSize(fourcc uint32, width, height int) int {
	if fourcc == PixFmtJPEG {
		return width * height * 2
	}
	info := lookupFormat(fourcc)
	return height * align8(info.depth*width) / 8
}

func align8(x int) int {
	return (x + 7) &^ 7
}
