package capture

import (
	"image"
	"time"
)

// Frame is one decoded image and its position in the stream.
type Frame struct {
	Image     *image.RGBA
	Timestamp time.Duration
}

type VideoStreamer interface {
	Start() error
	Stop()
	FrameChan() <-chan Frame
	ErrorChan() <-chan error
	// Size is the native frame size delivered on FrameChan.
	Size() (width, height int)
}

// Mirror flips img horizontally in place, as a front camera preview is shown.
func Mirror(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for l, r := 0, b.Dx()-1; l < r; l, r = l+1, r-1 {
			li, ri := l*4, r*4
			for k := 0; k < 4; k++ {
				row[li+k], row[ri+k] = row[ri+k], row[li+k]
			}
		}
	}
}
