package utils

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// NormalizeImage converts an image into a [1,3,H,W] NCHW float32 tensor with
// values scaled to [0,1].
func NormalizeImage(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, errors.New("input image is nil")
	}
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	tensor := make([]float32, 3*height*width)
	for y := range height {
		for x := range width {
			r, g, b, _ := nrgba.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			tensor[0*height*width+y*width+x] = float32(r>>8) / 255.0
			tensor[1*height*width+y*width+x] = float32(g>>8) / 255.0
			tensor[2*height*width+y*width+x] = float32(b>>8) / 255.0
		}
	}
	return tensor, width, height, nil
}

// ResizeToFit scales img so both dimensions fit within maxSide, preserving
// aspect ratio. Images already within bounds are returned unchanged.
func ResizeToFit(img image.Image, maxSide int) image.Image {
	if img == nil || maxSide <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return img
	}
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, maxSide, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxSide, imaging.Lanczos)
}

// Rotate90 rotates the image 90 degrees clockwise.
func Rotate90(img image.Image) image.Image { return imaging.Rotate270(img) }

// Rotate180 rotates the image 180 degrees.
func Rotate180(img image.Image) image.Image { return imaging.Rotate180(img) }

// Rotate270 rotates the image 270 degrees clockwise.
func Rotate270(img image.Image) image.Image { return imaging.Rotate90(img) }
