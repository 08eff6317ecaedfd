package rectify

import (
	"image"
	"image/color"
	"math"

	"github.com/phandanh111/ocr-cccd-card/internal/utils"
)

// warpPerspective maps the quad region of src onto a dstW x dstH rectangle
// using inverse mapping with bilinear sampling. It also returns the forward
// homography (source coordinates -> crop coordinates) so callers can project
// auxiliary points into the crop.
func warpPerspective(src image.Image, quad Quad, dstW, dstH int) (image.Image, [9]float64, error) {
	rect := [4]utils.Point{
		{X: 0, Y: 0},
		{X: float64(dstW - 1), Y: 0},
		{X: float64(dstW - 1), Y: float64(dstH - 1)},
		{X: 0, Y: float64(dstH - 1)},
	}
	inv, ok := computeHomography(rect, [4]utils.Point(quad))
	if !ok {
		return nil, [9]float64{}, &GeometryError{Reason: "singular perspective transform"}
	}
	fwd, ok := computeHomography([4]utils.Point(quad), rect)
	if !ok {
		return nil, [9]float64{}, &GeometryError{Reason: "singular perspective transform"}
	}

	sb := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	for y := range dstH {
		for x := range dstW {
			sx, sy := applyHomography(inv, float64(x), float64(y))
			out.SetNRGBA(x, y, bilinearSample(src, sx+float64(sb.Min.X), sy+float64(sb.Min.Y)))
		}
	}
	return out, fwd, nil
}

func bilinearSample(src image.Image, x, y float64) color.NRGBA {
	b := src.Bounds()
	if x < float64(b.Min.X) || y < float64(b.Min.Y) ||
		x > float64(b.Max.X-1) || y > float64(b.Max.Y-1) {
		return color.NRGBA{A: 255}
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= b.Max.X {
		x1 = b.Max.X - 1
	}
	if y1 >= b.Max.Y {
		y1 = b.Max.Y - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)

	c00 := channels(src.At(x0, y0))
	c10 := channels(src.At(x1, y0))
	c01 := channels(src.At(x0, y1))
	c11 := channels(src.At(x1, y1))

	var px color.NRGBA
	px.R = uint8(lerp2(c00[0], c10[0], c01[0], c11[0], fx, fy) + 0.5)
	px.G = uint8(lerp2(c00[1], c10[1], c01[1], c11[1], fx, fy) + 0.5)
	px.B = uint8(lerp2(c00[2], c10[2], c01[2], c11[2], fx, fy) + 0.5)
	px.A = 255
	return px
}

func channels(c color.Color) [3]float64 {
	r, g, b, _ := c.RGBA()
	return [3]float64{float64(r >> 8), float64(g >> 8), float64(b >> 8)}
}

func lerp2(v00, v10, v01, v11, fx, fy float64) float64 {
	top := v00 + (v10-v00)*fx
	bot := v01 + (v11-v01)*fx
	return top + (bot-top)*fy
}

// rotateToTopLeft rotates the crop in quarter turns until the given point
// (in crop coordinates) lands in the top-left quadrant. Used to orient the
// card by its national emblem.
func rotateToTopLeft(img image.Image, x, y float64) image.Image {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	inTopLeft := func(px, py, pw, ph float64) bool {
		return px < pw/2 && py < ph/2
	}

	if inTopLeft(x, y, w, h) {
		return img
	}
	// 90 degrees clockwise: (x, y) -> (h-y, x), dims swap.
	if inTopLeft(h-y, x, h, w) {
		return utils.Rotate90(img)
	}
	if inTopLeft(w-x, h-y, w, h) {
		return utils.Rotate180(img)
	}
	return utils.Rotate270(img)
}

// padToAspect grows the crop to the target width:height ratio by replicating
// edge pixels, keeping the card content centred.
func padToAspect(img image.Image, aspect float64) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || aspect <= 0 {
		return img
	}
	cur := float64(w) / float64(h)
	if math.Abs(cur-aspect) < 1e-3 {
		return img
	}

	newW, newH := w, h
	if cur < aspect {
		newW = int(math.Round(float64(h) * aspect))
	} else {
		newH = int(math.Round(float64(w) / aspect))
	}
	offX := (newW - w) / 2
	offY := (newH - h) / 2

	out := image.NewNRGBA(image.Rect(0, 0, newW, newH))
	for y := range newH {
		srcY := clampI(y-offY, 0, h-1) + b.Min.Y
		for x := range newW {
			srcX := clampI(x-offX, 0, w-1) + b.Min.X
			out.Set(x, y, img.At(srcX, srcY))
		}
	}
	return out
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
