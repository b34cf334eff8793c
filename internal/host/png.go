package host

import (
	"image"
	"image/png"
	"io"

	"github.com/smazurov/camnode/internal/frame"
)

// EncodePNG writes a tightly packed RGB888 frame to w as PNG.
func EncodePNG(w io.Writer, buf *frame.Buffer) error {
	img := image.NewNRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	src := buf.Pixels()
	for i, o := 0, 0; i+2 < len(src) && o+3 < len(img.Pix); i, o = i+3, o+4 {
		img.Pix[o] = src[i]
		img.Pix[o+1] = src[i+1]
		img.Pix[o+2] = src[i+2]
		img.Pix[o+3] = 0xff
	}
	return png.Encode(w, img)
}
