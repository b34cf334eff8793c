//go:build linux && arm && !arm64

package v4l2

import "unsafe"

// Compile-time struct size assertions for 32-bit ARM.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Frmsizeenum{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(v4l2Frmivalenum{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Streamparm{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
)

// VIDIOC_G_FMT; the union is 4-byte aligned on 32-bit.
const vidiocGFmt = 0xc0cc5604

// v4l2Format has size 204 bytes.
type v4l2Format struct {
	typ uint32        // offset 0
	pix v4l2PixFormat // offset 4 (union, raw_data[200])
	_   [152]byte
}
