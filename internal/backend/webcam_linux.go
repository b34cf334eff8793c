//go:build linux

package backend

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/blackjack/webcam"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/types"
	"github.com/smazurov/camnode/pkg/linuxav/v4l2"
)

func init() {
	Register("v4l2", func(s Settings) (Driver, error) {
		timeout := s.ReadTimeout
		if timeout <= 0 {
			timeout = time.Second
		}
		return &webcamDriver{
			readTimeout: timeout,
			logger:      logging.GetLogger("backend"),
			find:        v4l2.FindDevices,
		}, nil
	})
}

// Raw formats the converter understands, in order of preference.
var webcamFormats = []uint32{v4l2.PixFmtYUYV, v4l2.PixFmtBGR24, v4l2.PixFmtRGB24}

func layoutFor(pixfmt uint32) (Layout, bool) {
	switch pixfmt {
	case v4l2.PixFmtYUYV:
		return LayoutYUYV, true
	case v4l2.PixFmtBGR24:
		return LayoutBGR24, true
	case v4l2.PixFmtRGB24:
		return LayoutRGB24, true
	default:
		return 0, false
	}
}

type webcamDriver struct {
	readTimeout time.Duration
	logger      *slog.Logger
	find        func() ([]v4l2.DeviceInfo, error)
}

func (d *webcamDriver) Name() string { return "v4l2" }

// node maps a capture index to the index-th video node that can capture.
// Metadata and output nodes are skipped, so a UVC camera exposing
// /dev/video0 and a metadata /dev/video1 does not hide /dev/video2. Without
// a usable sysfs listing the index is taken as the node number.
func (d *webcamDriver) node(index int) (v4l2.DeviceInfo, bool) {
	if index < 0 {
		return v4l2.DeviceInfo{}, false
	}
	devs, err := d.find()
	if err != nil {
		d.logger.Debug("Capture node scan failed", "error", err)
	}
	if err != nil || len(devs) == 0 {
		return v4l2.DeviceInfo{Index: index, DevicePath: v4l2.DevicePath(index)}, true
	}
	if index >= len(devs) {
		return v4l2.DeviceInfo{}, false
	}
	return devs[index], true
}

func (d *webcamDriver) Describe(index int) (Description, bool) {
	info, ok := d.node(index)
	if !ok {
		return Description{}, false
	}
	if info.DeviceName == "" {
		var err error
		if info, err = v4l2.QueryDevice(info.DevicePath); err != nil {
			return Description{}, false
		}
	}
	return Description{Name: info.DeviceName, Bus: info.BusInfo}, true
}

// NativeFormats lists every format the node enumerates with its discrete
// sizes and frame rates, including formats the converter cannot handle.
func (d *webcamDriver) NativeFormats(index int) ([]NativeFormat, error) {
	info, ok := d.node(index)
	if !ok {
		return nil, types.Errorf(types.CodeDeviceNotFound, "v4l2 formats", "no capture node for index %d", index)
	}
	path := info.DevicePath
	formats, err := v4l2.GetFormats(path)
	if err != nil {
		return nil, types.NewError(types.CodeDeviceUnavailable, "v4l2 formats", path, err)
	}

	out := make([]NativeFormat, 0, len(formats))
	for _, f := range formats {
		nf := NativeFormat{
			FourCC:   v4l2.FormatFourCC(f.PixelFormat),
			Name:     f.FormatName,
			Emulated: f.Emulated,
		}
		_, nf.Convertible = layoutFor(f.PixelFormat)

		sizes, err := v4l2.GetResolutions(path, f.PixelFormat)
		if err != nil {
			d.logger.Debug("Frame size enumeration failed", "device", path, "format", nf.FourCC, "error", err)
		}
		for _, r := range sizes {
			rates, err := v4l2.GetFramerates(path, f.PixelFormat, r.Width, r.Height)
			if err != nil {
				d.logger.Debug("Frame rate enumeration failed", "device", path, "format", nf.FourCC, "error", err)
				continue
			}
			nf.Modes = appendNativeModes(nf.Modes, r, rates)
		}
		slices.SortFunc(nf.Modes, types.VideoMode.Compare)
		out = append(out, nf)
	}
	return out, nil
}

// appendNativeModes adds one mode per distinct rounded frame rate of r.
func appendNativeModes(modes []types.VideoMode, r v4l2.Resolution, rates []v4l2.Framerate) []types.VideoMode {
	if r.Width == 0 || r.Height == 0 || r.Width > math.MaxInt32 || r.Height > math.MaxInt32 {
		return modes
	}
	for _, fr := range rates {
		fps := math.Round(fr.FPS())
		if fps < 1 || fps > math.MaxInt32 {
			continue
		}
		m := types.NewVideoMode(int32(r.Width), int32(r.Height), int32(fps))
		if !slices.Contains(modes, m) {
			modes = append(modes, m)
		}
	}
	return modes
}

func (d *webcamDriver) Open(index int) (Camera, error) {
	info, ok := d.node(index)
	if !ok {
		return nil, types.Errorf(types.CodeDeviceUnavailable, "v4l2 open", "no capture node for index %d", index)
	}
	path := info.DevicePath
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, types.NewError(types.CodeDeviceUnavailable, "v4l2 open", path, err)
	}

	c := &webcamCamera{
		cam:     cam,
		path:    path,
		timeout: d.readTimeout,
		logger:  d.logger.With("device", path),
	}
	if err := c.init(); err != nil {
		_ = cam.Close()
		return nil, err
	}
	c.open = true
	return c, nil
}

type webcamCamera struct {
	cam     *webcam.Webcam
	path    string
	timeout time.Duration
	logger  *slog.Logger

	open      bool
	streaming bool
	pixfmt    uint32
	layout    Layout
	width     int32
	height    int32
	reqWidth  int32
	fps       int32
}

// init picks a raw format the converter handles and reads the current size
// and frame interval.
func (c *webcamCamera) init() error {
	supported := c.cam.GetSupportedFormats()

	current, err := v4l2.GetFormat(c.path)
	if err == nil {
		c.pixfmt = current.PixelFormat
		c.width, c.height = int32(current.Width), int32(current.Height)
	}

	if _, ok := layoutFor(c.pixfmt); !ok {
		c.pixfmt = 0
		for _, f := range webcamFormats {
			if _, ok := supported[webcam.PixelFormat(f)]; ok {
				c.pixfmt = f
				break
			}
		}
		if c.pixfmt == 0 {
			return types.Errorf(types.CodeNotImplemented, "v4l2 open", "%s offers no raw RGB or YUYV format", c.path)
		}
	}

	if c.width <= 0 || c.height <= 0 {
		c.width, c.height = 640, 480
		if res, err := v4l2.GetResolutions(c.path, c.pixfmt); err == nil && len(res) > 0 {
			c.width, c.height = int32(res[0].Width), int32(res[0].Height)
		}
	}

	if err := c.applyFormat(c.width, c.height); err != nil {
		return types.NewError(types.CodeDeviceUnavailable, "v4l2 open", c.path, err)
	}
	c.refreshFPS()

	c.logger.Debug("Opened camera",
		"format", v4l2.FormatFourCC(c.pixfmt),
		"width", c.width,
		"height", c.height,
		"fps", c.fps)
	return nil
}

// applyFormat stores what the driver actually applied, which may differ from
// the request.
func (c *webcamCamera) applyFormat(w, h int32) error {
	c.stopStreaming()
	f, aw, ah, err := c.cam.SetImageFormat(webcam.PixelFormat(c.pixfmt), uint32(w), uint32(h))
	if err != nil {
		return err
	}
	layout, ok := layoutFor(uint32(f))
	if !ok {
		return types.Errorf(types.CodeNotImplemented, "v4l2 format", "driver switched to %s", v4l2.FormatFourCC(uint32(f)))
	}
	c.pixfmt, c.layout = uint32(f), layout
	c.width, c.height, c.reqWidth = int32(aw), int32(ah), w
	return nil
}

func (c *webcamCamera) refreshFPS() {
	fr, err := v4l2.GetFrameInterval(c.path)
	if err != nil {
		c.fps = 0
		return
	}
	c.fps = int32(math.Round(fr.FPS()))
}

func (c *webcamCamera) Get(p Property) int32 {
	switch p {
	case PropFrameWidth:
		return c.width
	case PropFrameHeight:
		return c.height
	case PropFPS:
		return c.fps
	default:
		return 0
	}
}

func (c *webcamCamera) Set(p Property, v int32) bool {
	if !c.open || v <= 0 {
		return false
	}
	switch p {
	case PropFrameWidth:
		// The driver may snap width against the old height; the requested
		// width is reapplied when height is set.
		if err := c.applyFormat(v, c.height); err != nil {
			c.logger.Debug("Width rejected", "width", v, "error", err)
			return false
		}
		return true
	case PropFrameHeight:
		if err := c.applyFormat(c.reqWidth, v); err != nil {
			c.logger.Debug("Height rejected", "height", v, "error", err)
			return false
		}
		return true
	case PropFPS:
		c.stopStreaming()
		if err := c.cam.SetFramerate(float32(v)); err != nil {
			c.logger.Debug("Framerate rejected", "fps", v, "error", err)
			return false
		}
		c.refreshFPS()
		return true
	default:
		return false
	}
}

func (c *webcamCamera) Read(ctx context.Context, dst *RawFrame) error {
	if !c.open {
		return types.Errorf(types.CodeDeviceUnavailable, "v4l2 read", "%s is closed", c.path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.streaming {
		if err := c.cam.StartStreaming(); err != nil {
			return types.NewError(types.CodeDeviceUnavailable, "v4l2 stream", c.path, err)
		}
		c.streaming = true
	}

	timeout := uint32(math.Ceil(FrameInterval(c.fps, c.timeout).Seconds()))
	if timeout == 0 {
		timeout = 1
	}
	err := c.cam.WaitForFrame(timeout)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return types.Errorf(types.CodeDeviceUnavailable, "v4l2 read", "%s: no frame within %ds", c.path, timeout)
	default:
		return types.NewError(types.CodeDeviceUnavailable, "v4l2 read", c.path, err)
	}

	data, err := c.cam.ReadFrame()
	if err != nil {
		return types.NewError(types.CodeDeviceUnavailable, "v4l2 read", c.path, err)
	}
	if len(data) == 0 {
		return types.Errorf(types.CodeDeviceUnavailable, "v4l2 read", "%s: empty frame", c.path)
	}

	dst.Width, dst.Height, dst.Layout = int(c.width), int(c.height), c.layout
	dst.Stride = 0
	if c.height > 0 && len(data)%int(c.height) == 0 {
		dst.Stride = len(data) / int(c.height)
	}
	// The mmap buffer is requeued on the next read
	dst.Grow(len(data))
	copy(dst.Data, data)
	return nil
}

func (c *webcamCamera) stopStreaming() {
	if !c.streaming {
		return
	}
	if err := c.cam.StopStreaming(); err != nil {
		c.logger.Warn("Failed to stop streaming", "error", err)
	}
	c.streaming = false
}

func (c *webcamCamera) IsOpen() bool { return c.open }

func (c *webcamCamera) Close() error {
	if !c.open {
		return nil
	}
	c.stopStreaming()
	c.open = false
	return c.cam.Close()
}
