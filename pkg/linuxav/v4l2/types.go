//go:build linux

package v4l2

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	Index      int // N in /dev/videoN
	DevicePath string
	DeviceName string
	Driver     string
	BusInfo    string
	Caps       uint32
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a frame interval as a fraction of a second.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// Format is the capture format a device is currently configured for.
type Format struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Capability flags.
const (
	capVideoCapture = 0x00000001
	capDeviceCaps   = 0x80000000
)

// Format flags.
const (
	fmtFlagEmulated = 0x0002
)

// Pixel formats.
const (
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtRGB24 = 0x33424752 // 'RGB3'
	PixFmtBGR24 = 0x33524742 // 'BGR3'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtNV12  = 0x3231564E // 'NV12'
)

// Frame size types.
const (
	frmsizeTypeDiscrete   = 1
	frmsizeTypeContinuous = 2
	frmsizeTypeStepwise   = 3
)

// Frame interval types.
const (
	frmivalTypeDiscrete   = 1
	frmivalTypeContinuous = 2
	frmivalTypeStepwise   = 3
)

// Buffer type.
const (
	bufTypeVideoCapture = 1
)
