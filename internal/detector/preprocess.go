package detector

import (
	"errors"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// letterboxed carries a padded square input image together with the transform
// needed to map model coordinates back to the source image.
type letterboxed struct {
	Image image.Image
	Scale float64 // source * Scale = model space
	PadX  float64 // left padding in model space
	PadY  float64 // top padding in model space
}

// letterbox resizes img to fit a size x size square, preserving aspect ratio
// and centring it on neutral gray padding.
func letterbox(img image.Image, size int) (letterboxed, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return letterboxed{}, errors.New("empty input image")
	}

	scale := float64(size) / float64(w)
	if s := float64(size) / float64(h); s < scale {
		scale = s
	}
	if scale > 1 {
		scale = 1
	}
	newW := int(float64(w)*scale + 0.5)
	newH := int(float64(h)*scale + 0.5)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	resized := imaging.Resize(img, newW, newH, imaging.Linear)
	canvas := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.NRGBA{R: 114, G: 114, B: 114, A: 255}}, image.Point{}, draw.Src)

	offX := (size - newW) / 2
	offY := (size - newH) / 2
	draw.Draw(canvas, image.Rect(offX, offY, offX+newW, offY+newH), resized, image.Point{}, draw.Src)

	return letterboxed{
		Image: canvas,
		Scale: scale,
		PadX:  float64(offX),
		PadY:  float64(offY),
	}, nil
}

// toSource maps a model-space coordinate back into source-image space.
func (l letterboxed) toSource(x, y float64) (float64, float64) {
	return (x - l.PadX) / l.Scale, (y - l.PadY) / l.Scale
}
