// Package rectify locates the four card corners in a photo and warps the
// card to a flat, axis-aligned crop with the standard ID-1 aspect ratio.
package rectify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/phandanh111/ocr-cccd-card/internal/detector"
	"github.com/phandanh111/ocr-cccd-card/internal/utils"
)

// GeometryError indicates input geometry that cannot be rectified: an empty
// image, a degenerate corner quad, or a singular perspective transform.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("rectification geometry: %s", e.Reason)
}

// Quad is a corner quadrilateral ordered top-left, top-right, bottom-right,
// bottom-left.
type Quad [4]utils.Point

// deskewMinAngle is the top-edge slope below which deskew is skipped.
const deskewMinAngle = 0.3 // degrees

// Config holds rectification parameters.
type Config struct {
	ExpandRatio  float64 // corner displacement as a fraction of the quad diagonal
	TargetAspect float64 // output width / height
	Deskew       bool    // level the top edge before warping
	MaxWidth     int     // cap on output width, 0 for native resolution
}

// DefaultConfig returns the standard card rectification parameters.
func DefaultConfig() Config {
	return Config{
		ExpandRatio:  0.06,
		TargetAspect: 1.585,
		Deskew:       true,
		MaxWidth:     0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ExpandRatio < 0 || c.ExpandRatio > 0.5 {
		return fmt.Errorf("expand ratio must be in [0, 0.5], got %f", c.ExpandRatio)
	}
	if c.TargetAspect <= 0 {
		return fmt.Errorf("target aspect must be positive, got %f", c.TargetAspect)
	}
	if c.MaxWidth < 0 {
		return fmt.Errorf("max width must be non-negative, got %d", c.MaxWidth)
	}
	return nil
}

// cornerDetector is the slice of the detector used here.
type cornerDetector interface {
	Detect(ctx context.Context, img image.Image, minConfidence float64) ([]detector.Detection, error)
}

// Result is a rectified card crop.
type Result struct {
	Image image.Image
	Quad  Quad
	// Degraded is set when fewer than four corners were found and the full
	// image was used instead.
	Degraded bool
}

// Rectifier detects card corners and produces rectified crops.
type Rectifier struct {
	cfg Config
	det cornerDetector
}

// New creates a Rectifier using the given corner detector.
func New(cfg Config, det cornerDetector) (*Rectifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rectify config: %w", err)
	}
	if det == nil {
		return nil, errors.New("corner detector is required")
	}
	return &Rectifier{cfg: cfg, det: det}, nil
}

// Rectify finds the card in img and returns a flattened crop. Detections
// below confThreshold are ignored. With fewer than four corners the whole
// image is treated as the card (degraded mode); this is not an error.
func (r *Rectifier) Rectify(ctx context.Context, img image.Image, confThreshold float64) (*Result, error) {
	if img == nil {
		return nil, &GeometryError{Reason: "nil input image"}
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, &GeometryError{Reason: "zero-area input image"}
	}

	dets, err := r.det.Detect(ctx, img, confThreshold)
	if err != nil {
		return nil, fmt.Errorf("corner detection: %w", err)
	}
	corners, emblem := splitCornerDetections(dets)
	var emblemCenter *utils.Point
	if emblem != nil {
		c := emblem.Box.Center()
		emblemCenter = &c
	}

	degraded := len(corners) < 4
	var quad Quad
	if degraded {
		quad = fullImageQuad(w, h)
	} else {
		if len(corners) > 4 {
			corners = topByConfidence(corners, 4)
		}
		pts := make([]utils.Point, len(corners))
		for i, c := range corners {
			pts[i] = c.Box.Center()
		}
		quad = orderCorners(pts)
	}

	if r.cfg.Deskew && !degraded {
		if angle := topEdgeAngle(quad); math.Abs(angle) > deskewMinAngle {
			var remap func(utils.Point) utils.Point
			img, remap = deskew(img, angle)
			for i := range quad {
				quad[i] = remap(quad[i])
			}
			if emblemCenter != nil {
				*emblemCenter = remap(*emblemCenter)
			}
			bounds = img.Bounds()
			w, h = bounds.Dx(), bounds.Dy()
		}
	}

	expanded := expandQuad(quad, r.cfg.ExpandRatio, w, h)
	if PolygonAreaOf(expanded) < 1 {
		return nil, &GeometryError{Reason: "degenerate corner quad"}
	}

	outW, outH := outputSize(expanded, r.cfg.TargetAspect, r.cfg.MaxWidth)
	warped, fwd, err := warpPerspective(img, expanded, outW, outH)
	if err != nil {
		return nil, err
	}

	if emblemCenter != nil {
		ex, ey := applyHomography(fwd, emblemCenter.X, emblemCenter.Y)
		warped = rotateToTopLeft(warped, ex, ey)
		warped = padToAspect(warped, r.cfg.TargetAspect)
	}

	return &Result{Image: warped, Quad: expanded, Degraded: degraded}, nil
}

// splitCornerDetections separates corner boxes from the emblem box. With
// several emblem hits the most confident wins.
func splitCornerDetections(dets []detector.Detection) ([]detector.Detection, *detector.Detection) {
	var corners []detector.Detection
	var emblem *detector.Detection
	for i := range dets {
		d := dets[i]
		switch d.Label {
		case detector.LabelTopLeft, detector.LabelTopRight,
			detector.LabelBottomLeft, detector.LabelBottomRight:
			corners = append(corners, d)
		case detector.LabelEmblem:
			if emblem == nil || d.Confidence > emblem.Confidence {
				emblem = &dets[i]
			}
		}
	}
	return corners, emblem
}

func fullImageQuad(w, h int) Quad {
	return Quad{
		{X: 0, Y: 0},
		{X: float64(w - 1), Y: 0},
		{X: float64(w - 1), Y: float64(h - 1)},
		{X: 0, Y: float64(h - 1)},
	}
}

// PolygonAreaOf returns the area of the quad.
func PolygonAreaOf(q Quad) float64 {
	return utils.PolygonArea(q[:])
}
