package rectify

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/phandanh111/ocr-cccd-card/internal/detector"
	"github.com/phandanh111/ocr-cccd-card/internal/utils"
)

// topByConfidence returns the n most confident detections.
func topByConfidence(dets []detector.Detection, n int) []detector.Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
	if len(dets) > n {
		dets = dets[:n]
	}
	return dets
}

// orderCorners arranges four points as TL, TR, BR, BL by their angle around
// the centroid. Ties (collinear-with-centroid pairs) resolve by vertical
// position, the point nearer the top edge first.
func orderCorners(pts []utils.Point) Quad {
	c := utils.Centroid(pts)
	ordered := make([]utils.Point, len(pts))
	copy(ordered, pts)
	sort.SliceStable(ordered, func(i, j int) bool {
		ai := math.Atan2(ordered[i].Y-c.Y, ordered[i].X-c.X)
		aj := math.Atan2(ordered[j].Y-c.Y, ordered[j].X-c.X)
		if ai != aj {
			return ai < aj
		}
		return ordered[i].Y < ordered[j].Y
	})

	var q Quad
	copy(q[:], ordered)
	return q
}

// topEdgeAngle returns the slope of the TL->TR edge in degrees.
func topEdgeAngle(q Quad) float64 {
	return math.Atan2(q[1].Y-q[0].Y, q[1].X-q[0].X) * 180 / math.Pi
}

// deskew rotates the image so the quad's top edge becomes horizontal and
// returns the transform that carries source points into the rotated frame.
// Every point tracked alongside the image (corners, emblem center) must go
// through that transform.
func deskew(img image.Image, angleDeg float64) (image.Image, func(utils.Point) utils.Point) {
	b := img.Bounds()
	rotated := imaging.Rotate(img, angleDeg, color.NRGBA{A: 255})
	rb := rotated.Bounds()
	return rotated, rotationMapper(b.Dx(), b.Dy(), rb.Dx(), rb.Dy(), angleDeg)
}

// rotationMapper maps points on a srcW x srcH canvas onto the dstW x dstH
// canvas produced by rotating it angleDeg about its center.
func rotationMapper(srcW, srcH, dstW, dstH int, angleDeg float64) func(utils.Point) utils.Point {
	theta := angleDeg * math.Pi / 180
	sin, cos := math.Sin(theta), math.Cos(theta)
	cx, cy := float64(srcW)/2, float64(srcH)/2
	ncx, ncy := float64(dstW)/2, float64(dstH)/2
	return func(p utils.Point) utils.Point {
		dx := p.X - cx
		dy := p.Y - cy
		// Counter-clockwise visual rotation in y-down coordinates.
		return utils.Point{
			X: ncx + dx*cos + dy*sin,
			Y: ncy - dx*sin + dy*cos,
		}
	}
}

// expandQuad displaces each corner outward along its ray from the centroid by
// ratio times the quad diagonal, clamped to the image bounds.
func expandQuad(q Quad, ratio float64, w, h int) Quad {
	if ratio <= 0 {
		return clampQuad(q, w, h)
	}
	c := utils.Centroid(q[:])
	diag := (q[0].Distance(q[2]) + q[1].Distance(q[3])) / 2
	shift := ratio * diag

	var out Quad
	for i, p := range q {
		dx := p.X - c.X
		dy := p.Y - c.Y
		norm := math.Hypot(dx, dy)
		if norm == 0 {
			out[i] = p
			continue
		}
		out[i] = utils.Point{
			X: p.X + dx/norm*shift,
			Y: p.Y + dy/norm*shift,
		}
	}
	return clampQuad(out, w, h)
}

func clampQuad(q Quad, w, h int) Quad {
	var out Quad
	for i, p := range q {
		out[i] = utils.Point{
			X: clamp(p.X, 0, float64(w-1)),
			Y: clamp(p.Y, 0, float64(h-1)),
		}
	}
	return out
}

// outputSize derives the rectified crop dimensions: width from the longer of
// the top and bottom edges, height from the target aspect. The card is never
// upscaled beyond the source edge length.
func outputSize(q Quad, aspect float64, maxWidth int) (int, int) {
	top := q[0].Distance(q[1])
	bottom := q[3].Distance(q[2])
	w := math.Max(top, bottom)
	if maxWidth > 0 && w > float64(maxWidth) {
		w = float64(maxWidth)
	}
	outW := int(math.Round(w))
	if outW < 2 {
		outW = 2
	}
	outH := int(math.Round(float64(outW) / aspect))
	if outH < 2 {
		outH = 2
	}
	return outW, outH
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
