//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for capture device enumeration and format queries.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%d %s: %s\n", dev.Index, dev.DevicePath, dev.DeviceName)
//	}
//
// # Format Queries
//
// Query supported formats, resolutions, and framerates:
//
//	formats, _ := v4l2.GetFormats("/dev/video0")
//	for _, f := range formats {
//	    resolutions, _ := v4l2.GetResolutions("/dev/video0", f.PixelFormat)
//	    for _, res := range resolutions {
//	        framerates, _ := v4l2.GetFramerates("/dev/video0", f.PixelFormat, res.Width, res.Height)
//	    }
//	}
//
// The format the driver is currently configured for, and its frame interval,
// are returned by GetFormat and GetFrameInterval.
package v4l2
