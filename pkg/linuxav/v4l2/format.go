//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"
)

// GetFormats returns all supported pixel formats for a device.
func GetFormats(devicePath string) ([]FormatInfo, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer close(fd)

	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		fmtdesc := v4l2Fmtdesc{
			index: i,
			typ:   bufTypeVideoCapture,
		}

		if ioctlErr := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&fmtdesc)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, ioctlErr)
		}

		formats = append(formats, FormatInfo{
			PixelFormat: fmtdesc.pixelformat,
			FormatName:  cstr(fmtdesc.description[:]),
			Emulated:    fmtdesc.flags&fmtFlagEmulated != 0,
		})
	}

	return formats, nil
}

// GetResolutions returns all supported resolutions for a device and pixel format.
func GetResolutions(devicePath string, pixelFormat uint32) ([]Resolution, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer close(fd)

	var resolutions []Resolution

	for i := uint32(0); ; i++ {
		frmsize := v4l2Frmsizeenum{
			index:       i,
			pixelFormat: pixelFormat,
		}

		if ioctlErr := ioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EINVAL) {
				break // End of enumeration
			}
			// ENOTTY means device doesn't support frame size enumeration
			if errors.Is(ioctlErr, syscall.ENOTTY) {
				return []Resolution{}, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d: %w", i, ioctlErr)
		}

		switch frmsize.typ {
		case frmsizeTypeDiscrete:
			resolutions = append(resolutions, Resolution{
				Width:  frmsize.discrete.width,
				Height: frmsize.discrete.height,
			})
		case frmsizeTypeContinuous, frmsizeTypeStepwise:
			// Only one stepwise entry is reported
			stepwise := (*v4l2FrmsizeStepwise)(unsafe.Pointer(&frmsize.discrete))
			return append(resolutions, stepwiseResolutions(*stepwise)...), nil
		}
	}

	return resolutions, nil
}

// GetFramerates returns all supported framerates for a device, format, and resolution.
func GetFramerates(devicePath string, pixelFormat uint32, width, height uint32) ([]Framerate, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer close(fd)

	var framerates []Framerate

	for i := uint32(0); ; i++ {
		frmival := v4l2Frmivalenum{
			index:       i,
			pixelFormat: pixelFormat,
			width:       width,
			height:      height,
		}

		if ioctlErr := ioctl(fd, vidiocEnumFrameintervals, unsafe.Pointer(&frmival)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate frame interval %d: %w", i, ioctlErr)
		}

		switch frmival.typ {
		case frmivalTypeDiscrete:
			framerates = append(framerates, Framerate{
				Numerator:   frmival.discrete.numerator,
				Denominator: frmival.discrete.denominator,
			})
		case frmivalTypeContinuous, frmivalTypeStepwise:
			return append(framerates, commonFramerates()...), nil
		}
	}

	return framerates, nil
}

// GetFormat returns the capture format the device is currently set to.
func GetFormat(devicePath string) (Format, error) {
	fd, err := open(devicePath)
	if err != nil {
		return Format{}, fmt.Errorf("failed to open device: %w", err)
	}
	defer close(fd)

	f := v4l2Format{typ: bufTypeVideoCapture}
	if err := ioctl(fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, fmt.Errorf("failed to get format: %w", err)
	}

	return Format{
		Width:        f.pix.width,
		Height:       f.pix.height,
		PixelFormat:  f.pix.pixelformat,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}, nil
}

// GetFrameInterval returns the current capture frame interval. Drivers that
// do not support streaming parameters return ENOTTY wrapped in the error.
func GetFrameInterval(devicePath string) (Framerate, error) {
	fd, err := open(devicePath)
	if err != nil {
		return Framerate{}, fmt.Errorf("failed to open device: %w", err)
	}
	defer close(fd)

	parm := v4l2Streamparm{typ: bufTypeVideoCapture}
	if err := ioctl(fd, vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		return Framerate{}, fmt.Errorf("failed to get stream parameters: %w", err)
	}

	return Framerate{
		Numerator:   parm.capture.timeperframe.numerator,
		Denominator: parm.capture.timeperframe.denominator,
	}, nil
}

// stepwiseResolutions returns common resolutions within a stepwise range.
func stepwiseResolutions(stepwise v4l2FrmsizeStepwise) []Resolution {
	common := [][2]uint32{
		{320, 240},  // QVGA
		{640, 480},  // VGA
		{800, 600},  // SVGA
		{1024, 768}, // XGA
		{1280, 720}, // HD
		{1280, 960},
		{1280, 1024}, // SXGA
		{1920, 1080}, // Full HD
		{1920, 1200}, // WUXGA
		{2560, 1440}, // QHD
		{3840, 2160}, // 4K UHD
	}

	var resolutions []Resolution
	for _, res := range common {
		w, h := res[0], res[1]
		if w >= stepwise.minWidth && w <= stepwise.maxWidth &&
			h >= stepwise.minHeight && h <= stepwise.maxHeight {
			resolutions = append(resolutions, Resolution{Width: w, Height: h})
		}
	}

	return resolutions
}

// commonFramerates returns the intervals offered for continuous ranges.
func commonFramerates() []Framerate {
	return []Framerate{
		{1, 60},
		{1, 50},
		{1, 30},
		{1, 25},
		{1, 20},
		{1, 15},
		{1, 10},
		{1, 5},
	}
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
