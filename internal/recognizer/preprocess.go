package recognizer

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// contrastBoost matches the +20% contrast enhancement applied to each text
// crop before recognition.
const contrastBoost = 20

// PrepareCrop normalizes a text-box crop for the recognition model:
// grayscale, scale up to the model line height when shorter, then a fixed
// contrast boost. Aspect ratio is preserved; wider crops produce longer
// sequences.
func PrepareCrop(img image.Image, lineHeight, maxWidth int) (image.Image, error) {
	if img == nil {
		return nil, errors.New("input crop is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("empty crop")
	}

	out := imaging.Grayscale(img)
	if out.Bounds().Dy() < lineHeight {
		out = imaging.Resize(out, 0, lineHeight, imaging.Lanczos)
	}
	if maxWidth > 0 && out.Bounds().Dx() > maxWidth {
		out = imaging.Resize(out, maxWidth, 0, imaging.Lanczos)
	}
	return imaging.AdjustContrast(out, contrastBoost), nil
}

// fitToHeight resizes img so its height equals lineHeight exactly, padding or
// shrinking width as needed for a fixed-height model input.
func fitToHeight(img image.Image, lineHeight int) image.Image {
	if img.Bounds().Dy() == lineHeight {
		return img
	}
	return imaging.Resize(img, 0, lineHeight, imaging.Lanczos)
}
