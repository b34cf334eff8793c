package backend

import (
	"fmt"

	"github.com/smazurov/camnode/internal/types"
)

// Layout is the byte order of a raw driver frame.
type Layout int

// Raw layouts.
const (
	LayoutBGR24 Layout = iota
	LayoutRGB24
	LayoutYUYV
)

func (l Layout) String() string {
	switch l {
	case LayoutBGR24:
		return "bgr24"
	case LayoutRGB24:
		return "rgb24"
	case LayoutYUYV:
		return "yuyv"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// RawFrame is one frame as produced by a driver.
type RawFrame struct {
	Width  int
	Height int
	Stride int // bytes per row, 0 means tightly packed
	Layout Layout
	Data   []byte
}

func (f *RawFrame) stride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	switch f.Layout {
	case LayoutYUYV:
		return f.Width * 2
	default:
		return f.Width * 3
	}
}

// Grow resizes Data to n bytes, reallocating only when capacity is short.
func (f *RawFrame) Grow(n int) {
	if cap(f.Data) < n {
		f.Data = make([]byte, n)
	}
	f.Data = f.Data[:n]
}

// ToRGB writes src as tightly packed RGB888 into dst, flipping each row when
// mirror is set. dst must be exactly width*height*3 bytes.
func ToRGB(dst []byte, src *RawFrame, mirror bool) error {
	w, h := src.Width, src.Height
	if w <= 0 || h <= 0 {
		return types.Errorf(types.CodeSizeMismatch, "convert", "empty frame %dx%d", w, h)
	}
	if len(dst) != w*h*3 {
		return types.Errorf(types.CodeSizeMismatch, "convert", "destination %d bytes, want %d", len(dst), w*h*3)
	}
	stride := src.stride()
	if len(src.Data) < stride*(h-1)+rowBytes(src.Layout, w) {
		return types.Errorf(types.CodeSizeMismatch, "convert", "%s frame %dx%d truncated at %d bytes", src.Layout, w, h, len(src.Data))
	}

	for y := 0; y < h; y++ {
		in := src.Data[y*stride:]
		out := dst[y*w*3 : (y+1)*w*3]
		switch src.Layout {
		case LayoutBGR24:
			for x := 0; x < w; x++ {
				o := column(x, w, mirror) * 3
				out[o], out[o+1], out[o+2] = in[x*3+2], in[x*3+1], in[x*3]
			}
		case LayoutRGB24:
			if !mirror {
				copy(out, in[:w*3])
				continue
			}
			for x := 0; x < w; x++ {
				o := (w - 1 - x) * 3
				copy(out[o:o+3], in[x*3:x*3+3])
			}
		case LayoutYUYV:
			for x := 0; x+1 < w; x += 2 {
				i := x * 2
				y0, u, y1, v := in[i], in[i+1], in[i+2], in[i+3]
				o0 := column(x, w, mirror) * 3
				o1 := column(x+1, w, mirror) * 3
				out[o0], out[o0+1], out[o0+2] = yuvToRGB(y0, u, v)
				out[o1], out[o1+1], out[o1+2] = yuvToRGB(y1, u, v)
			}
			if w%2 == 1 {
				i := (w - 1) * 2
				o := column(w-1, w, mirror) * 3
				out[o], out[o+1], out[o+2] = yuvToRGB(in[i], in[i+1], 128)
			}
		default:
			return types.Errorf(types.CodeNotImplemented, "convert", "layout %s", src.Layout)
		}
	}
	return nil
}

func rowBytes(l Layout, w int) int {
	if l == LayoutYUYV {
		return w * 2
	}
	return w * 3
}

func column(x, w int, mirror bool) int {
	if mirror {
		return w - 1 - x
	}
	return x
}

// yuvToRGB converts one BT.601 limited-range sample with integer math.
func yuvToRGB(y, u, v byte) (byte, byte, byte) {
	c := int32(y) - 16
	d := int32(u) - 128
	e := int32(v) - 128
	r := (298*c + 409*e + 128) >> 8
	g := (298*c - 100*d - 208*e + 128) >> 8
	b := (298*c + 516*d + 128) >> 8
	return clamp(r), clamp(g), clamp(b)
}

func clamp(v int32) byte {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return byte(v)
	}
}
