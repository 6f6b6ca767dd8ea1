// Package render draws pose landmarks onto RGBA frames.
package render

import (
	"image"
	"math"
	"image/color"
	"image/draw"

	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/models"
)

// Connections lists the landmark index pairs of the 33-point body topology.
var Connections = [...][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 7}, {0, 4}, {4, 5}, {5, 6}, {6, 8}, {9, 10},
	{11, 12}, {11, 13}, {13, 15}, {15, 17}, {15, 19}, {15, 21}, {17, 19},
	{12, 14}, {14, 16}, {16, 18}, {16, 20}, {16, 22}, {18, 20},
	{11, 23}, {12, 24}, {23, 24}, {23, 25}, {24, 26}, {25, 27}, {26, 28},
	{27, 29}, {28, 30}, {29, 31}, {30, 32}, {27, 31}, {28, 32},
}

type Style struct {
	ConnectorColor color.RGBA
	PointColor     color.RGBA
	LineWidth      int
	PointRadius    int
	// landmarks below this visibility are not drawn
	MinVisibility float32
}

// Landmarks further than this outside the normalized [0, 1] frame are
// treated as detector noise and not drawn.
const maxOutside = 1.0

var DefaultStyle = Style{
	ConnectorColor: color.RGBA{0, 255, 0, 255},
	PointColor:     color.RGBA{255, 0, 0, 255},
	LineWidth:      3,
	PointRadius:    3,
	MinVisibility:  0.5,
}

// Skeleton draws connectors first and joints on top, for one person.
func Skeleton(img *image.RGBA, landmarks []models.Landmark, style Style) {
	bounds := img.Bounds()
	w := float32(bounds.Dx())
	h := float32(bounds.Dy())

	visible := func(i int) bool {
		return i < len(landmarks) && landmarks[i].Visibility >= style.MinVisibility && onCanvas(landmarks[i])
	}
	toPixel := func(lm models.Landmark) (int, int) {
		return bounds.Min.X + int(lm.X*w), bounds.Min.Y + int(lm.Y*h)
	}

	for _, c := range Connections {
		if !visible(c[0]) || !visible(c[1]) {
			continue
		}
		x0, y0 := toPixel(landmarks[c[0]])
		x1, y1 := toPixel(landmarks[c[1]])
		DrawLine(img, x0, y0, x1, y1, style.LineWidth, style.ConnectorColor)
	}

	for i, lm := range landmarks {
		if !visible(i) {
			continue
		}
		x, y := toPixel(lm)
		DrawPoint(img, x, y, style.PointRadius, style.PointColor)
	}
}

func onCanvas(lm models.Landmark) bool {
	return inRange(lm.X) && inRange(lm.Y)
}

func inRange(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && f >= -maxOutside && f <= 1+maxOutside
}

// DrawLine rasterizes a segment with Bresenham's algorithm, stamping a
// square brush of the given thickness at each step. The segment is clipped
// to the image first.
func DrawLine(img *image.RGBA, x0, y0, x1, y1, thickness int, col color.Color) {
	if thickness < 1 {
		thickness = 1
	}
	half := thickness / 2

	var ok bool
	x0, y0, x1, y1, ok = clipLine(img.Bounds().Inset(-thickness), x0, y0, x1, y1)
	if !ok {
		return
	}

	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy

	for {
		for ox := -half; ox < thickness-half; ox++ {
			for oy := -half; oy < thickness-half; oy++ {
				setPixel(img, x0+ox, y0+oy, col)
			}
		}

		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// DrawPoint fills a disc centred on (cx, cy).
func DrawPoint(img *image.RGBA, cx, cy, radius int, col color.Color) {
	if radius < 1 {
		setPixel(img, cx, cy, col)
		return
	}
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= r2 {
				setPixel(img, cx+x, cy+y, col)
			}
		}
	}
}

// Clear resets every pixel to transparent black.
func Clear(img *image.RGBA) {
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

const (
	outLeft = 1 << iota
	outRight
	outTop
	outBottom
)

func outCode(r image.Rectangle, x, y float64) int {
	code := 0
	if x < float64(r.Min.X) {
		code |= outLeft
	} else if x > float64(r.Max.X-1) {
		code |= outRight
	}
	if y < float64(r.Min.Y) {
		code |= outTop
	} else if y > float64(r.Max.Y-1) {
		code |= outBottom
	}
	return code
}

// clipLine cuts a segment to r with the Cohen-Sutherland algorithm. It
// reports false when nothing of the segment lies inside.
func clipLine(r image.Rectangle, x0, y0, x1, y1 int) (int, int, int, int, bool) {
	if r.Empty() {
		return 0, 0, 0, 0, false
	}
	fx0, fy0, fx1, fy1 := float64(x0), float64(y0), float64(x1), float64(y1)
	minX, maxX := float64(r.Min.X), float64(r.Max.X-1)
	minY, maxY := float64(r.Min.Y), float64(r.Max.Y-1)

	c0, c1 := outCode(r, fx0, fy0), outCode(r, fx1, fy1)
	for {
		switch {
		case c0|c1 == 0:
			return int(math.Round(fx0)), int(math.Round(fy0)), int(math.Round(fx1)), int(math.Round(fy1)), true
		case c0&c1 != 0:
			return 0, 0, 0, 0, false
		}

		out := c0
		if out == 0 {
			out = c1
		}

		var x, y float64
		switch {
		case out&outBottom != 0:
			x, y = fx0+(fx1-fx0)*(maxY-fy0)/(fy1-fy0), maxY
		case out&outTop != 0:
			x, y = fx0+(fx1-fx0)*(minY-fy0)/(fy1-fy0), minY
		case out&outRight != 0:
			x, y = maxX, fy0+(fy1-fy0)*(maxX-fx0)/(fx1-fx0)
		default:
			x, y = minX, fy0+(fy1-fy0)*(minX-fx0)/(fx1-fx0)
		}

		if out == c0 {
			fx0, fy0 = x, y
			c0 = outCode(r, fx0, fy0)
		} else {
			fx1, fy1 = x, y
			c1 = outCode(r, fx1, fy1)
		}
	}
}

func setPixel(img *image.RGBA, x, y int, col color.Color) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.Set(x, y, col)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
