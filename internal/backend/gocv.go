//go:build gocv

package backend

import (
	"context"
	"math"

	"github.com/smazurov/camnode/internal/types"
	"gocv.io/x/gocv"
)

func init() {
	Register("gocv", func(Settings) (Driver, error) {
		return gocvDriver{}, nil
	})
}

// gocvDriver captures through OpenCV's VideoCapture, which delivers BGR24.
type gocvDriver struct{}

func (gocvDriver) Name() string { return "gocv" }

func (gocvDriver) Open(index int) (Camera, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, types.NewError(types.CodeDeviceUnavailable, "gocv open", "", err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, types.Errorf(types.CodeDeviceUnavailable, "gocv open", "camera %d did not open", index)
	}
	return &gocvCamera{vc: vc, mat: gocv.NewMat(), index: index}, nil
}

type gocvCamera struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	index int
}

func gocvProperty(p Property) (gocv.VideoCaptureProperties, bool) {
	switch p {
	case PropFrameWidth:
		return gocv.VideoCaptureFrameWidth, true
	case PropFrameHeight:
		return gocv.VideoCaptureFrameHeight, true
	case PropFPS:
		return gocv.VideoCaptureFPS, true
	default:
		return 0, false
	}
}

func (c *gocvCamera) Get(p Property) int32 {
	prop, ok := gocvProperty(p)
	if !ok || c.vc == nil {
		return 0
	}
	return int32(math.Round(c.vc.Get(prop)))
}

// Set always reports acceptance; OpenCV does not expose the backend's
// verdict, so callers verify with Get.
func (c *gocvCamera) Set(p Property, v int32) bool {
	prop, ok := gocvProperty(p)
	if !ok || c.vc == nil || v <= 0 {
		return false
	}
	c.vc.Set(prop, float64(v))
	return true
}

func (c *gocvCamera) Read(ctx context.Context, dst *RawFrame) error {
	if c.vc == nil {
		return types.Errorf(types.CodeDeviceUnavailable, "gocv read", "camera %d is closed", c.index)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.vc.Read(&c.mat) || c.mat.Empty() {
		return types.Errorf(types.CodeDeviceUnavailable, "gocv read", "camera %d returned no frame", c.index)
	}
	if c.mat.Type() != gocv.MatTypeCV8UC3 {
		return types.Errorf(types.CodeNotImplemented, "gocv read", "unexpected mat type %v", c.mat.Type())
	}

	dst.Width, dst.Height = c.mat.Cols(), c.mat.Rows()
	dst.Stride = c.mat.Step()
	dst.Layout = LayoutBGR24
	data := c.mat.ToBytes()
	dst.Grow(len(data))
	copy(dst.Data, data)
	return nil
}

func (c *gocvCamera) IsOpen() bool {
	return c.vc != nil && c.vc.IsOpened()
}

func (c *gocvCamera) Close() error {
	if c.vc == nil {
		return nil
	}
	_ = c.mat.Close()
	err := c.vc.Close()
	c.vc = nil
	return err
}
