// Package testutil provides synthetic card images for tests.
package testutil

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Card colors roughly matching a CCCD front: pale green body, dark text.
var (
	cardBackground = color.NRGBA{214, 235, 210, 255}
	cardBorder     = color.NRGBA{60, 110, 60, 255}
	markerColor    = color.NRGBA{180, 40, 40, 255}
	emblemColor    = color.NRGBA{200, 170, 40, 255}
	textColor      = color.NRGBA{30, 30, 30, 255}
)

// NewCardImage renders a synthetic card front: bordered background, red
// corner markers, a gold emblem block in the top-left quadrant, and a few
// printed text lines.
func NewCardImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(cardBackground), image.Point{}, draw.Src)

	// Border
	border := 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < border || x >= width-border || y < border || y >= height-border {
				img.SetNRGBA(x, y, cardBorder)
			}
		}
	}

	// Corner markers
	marker := max(4, width/40)
	fillRect(img, 0, 0, marker, marker, markerColor)
	fillRect(img, width-marker, 0, width, marker, markerColor)
	fillRect(img, 0, height-marker, marker, height, markerColor)
	fillRect(img, width-marker, height-marker, width, height, markerColor)

	// Emblem block in the top-left quadrant
	fillRect(img, width/10, height/10, width/10+width/8, height/10+width/8, emblemColor)

	// Printed lines
	lines := []string{"CAN CUOC CONG DAN", "So: 001234567890", "Ho va ten: NGUYEN VAN A"}
	y := height / 3
	for _, line := range lines {
		drawText(img, width/4, y, line)
		y += height / 6
	}

	return img
}

// NewTextLine renders text black-on-white at the given strip size.
func NewTextLine(text string, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	drawText(img, 4, height/2+4, text)
	return img
}

func fillRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if (image.Point{X: x, Y: y}).In(img.Bounds()) {
				img.SetNRGBA(x, y, c)
			}
		}
	}
}

func drawText(img *image.NRGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
