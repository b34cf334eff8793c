//go:build linux && (amd64 || arm64)

package v4l2

import "unsafe"

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2FrmsizeDiscrete{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(v4l2FrmsizeStepwise{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Frmsizeenum{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2Fract{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(v4l2Frmivalenum{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Streamparm{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
)

// VIDIOC_G_FMT; v4l2_format carries a pointer-aligned union on 64-bit.
const vidiocGFmt = 0xc0d05604

// v4l2Format has size 208 bytes.
type v4l2Format struct {
	typ uint32        // offset 0
	_   [4]byte       // union alignment
	pix v4l2PixFormat // offset 8 (union, raw_data[200])
	_   [152]byte
}
