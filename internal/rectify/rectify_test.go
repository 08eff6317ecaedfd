package rectify

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/phandanh111/ocr-cccd-card/internal/detector"
	"github.com/phandanh111/ocr-cccd-card/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	dets []detector.Detection
	err  error
}

func (f *fakeDetector) Detect(_ context.Context, _ image.Image, minConfidence float64) ([]detector.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []detector.Detection
	for _, d := range f.dets {
		if d.Confidence >= minConfidence {
			out = append(out, d)
		}
	}
	return out, nil
}

func cornerDet(label string, x, y, conf float64) detector.Detection {
	return detector.Detection{
		Label:      label,
		Box:        utils.NewBox(x-5, y-5, x+5, y+5),
		Confidence: conf,
	}
}

func fourCorners(conf float64) []detector.Detection {
	return []detector.Detection{
		cornerDet(detector.LabelTopLeft, 50, 40, conf),
		cornerDet(detector.LabelTopRight, 550, 45, conf),
		cornerDet(detector.LabelBottomRight, 545, 360, conf),
		cornerDet(detector.LabelBottomLeft, 55, 355, conf),
	}
}

func TestRectifyFourCorners(t *testing.T) {
	r, err := New(DefaultConfig(), &fakeDetector{dets: fourCorners(0.9)})
	require.NoError(t, err)

	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	res, err := r.Rectify(context.Background(), img, 0.5)
	require.NoError(t, err)
	require.NotNil(t, res.Image)
	assert.False(t, res.Degraded)

	// Output honors the target aspect ratio.
	b := res.Image.Bounds()
	aspect := float64(b.Dx()) / float64(b.Dy())
	assert.InDelta(t, 1.585, aspect, 0.01)
}

func TestRectifyFewCornersFallsBackToFullImage(t *testing.T) {
	dets := fourCorners(0.9)[:2]
	r, err := New(DefaultConfig(), &fakeDetector{dets: dets})
	require.NoError(t, err)

	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	res, err := r.Rectify(context.Background(), img, 0.5)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.NotNil(t, res.Image)
}

func TestRectifyThresholdFiltersCorners(t *testing.T) {
	dets := fourCorners(0.3) // all below the call threshold
	r, err := New(DefaultConfig(), &fakeDetector{dets: dets})
	require.NoError(t, err)

	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	res, err := r.Rectify(context.Background(), img, 0.5)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestRectifyKeepsTopFourByConfidence(t *testing.T) {
	dets := fourCorners(0.9)
	// A fifth, low-confidence corner far away must be ignored.
	dets = append(dets, cornerDet(detector.LabelTopLeft, 600, 400, 0.6))

	r, err := New(DefaultConfig(), &fakeDetector{dets: dets})
	require.NoError(t, err)

	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	res, err := r.Rectify(context.Background(), img, 0.5)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	// The quad stays near the four strong corners.
	assert.Less(t, res.Quad[0].X, 100.0)
	assert.Less(t, res.Quad[0].Y, 100.0)
}

func TestRectifyNilImage(t *testing.T) {
	r, err := New(DefaultConfig(), &fakeDetector{})
	require.NoError(t, err)

	_, err = r.Rectify(context.Background(), nil, 0.5)
	var geoErr *GeometryError
	assert.ErrorAs(t, err, &geoErr)
}

func TestRectifyZeroAreaImage(t *testing.T) {
	r, err := New(DefaultConfig(), &fakeDetector{})
	require.NoError(t, err)

	_, err = r.Rectify(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)), 0.5)
	var geoErr *GeometryError
	assert.ErrorAs(t, err, &geoErr)
}

func TestRectifyDetectorError(t *testing.T) {
	sentinel := errors.New("session gone")
	r, err := New(DefaultConfig(), &fakeDetector{err: sentinel})
	require.NoError(t, err)

	_, err = r.Rectify(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), 0.5)
	assert.ErrorIs(t, err, sentinel)
}

func TestRectifyEmblemOrientation(t *testing.T) {
	dets := fourCorners(0.9)
	// Emblem near the card's bottom-right corner forces a half turn.
	dets = append(dets, detector.Detection{
		Label:      detector.LabelEmblem,
		Box:        utils.NewBox(500, 320, 540, 350),
		Confidence: 0.9,
	})

	r, err := New(DefaultConfig(), &fakeDetector{dets: dets})
	require.NoError(t, err)

	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	res, err := r.Rectify(context.Background(), img, 0.5)
	require.NoError(t, err)

	// Still landscape with the target aspect after reorientation.
	b := res.Image.Bounds()
	assert.Greater(t, b.Dx(), b.Dy())
	assert.InDelta(t, 1.585, float64(b.Dx())/float64(b.Dy()), 0.01)
}

// cardScene paints a 600x370 card rotated by angleDeg onto a 900x900 canvas.
// The card face is gray with a red marker in its top-left quadrant. Returns
// the card corner positions and the marker center in scene coordinates.
func cardScene(angleDeg float64) (image.Image, [4]utils.Point, utils.Point) {
	const (
		sceneW, sceneH = 900, 900
		cardW, cardH   = 600.0, 370.0
	)
	theta := angleDeg * math.Pi / 180
	sin, cos := math.Sin(theta), math.Cos(theta)
	cx, cy := float64(sceneW)/2, float64(sceneH)/2
	hw, hh := cardW/2, cardH/2

	// Counter-clockwise visual rotation in y-down coordinates.
	toScene := func(lx, ly float64) utils.Point {
		dx, dy := lx-hw, ly-hh
		return utils.Point{X: cx + dx*cos + dy*sin, Y: cy - dx*sin + dy*cos}
	}
	toCard := func(sx, sy float64) (float64, float64) {
		dx, dy := sx-cx, sy-cy
		return hw + dx*cos - dy*sin, hh + dx*sin + dy*cos
	}

	img := image.NewNRGBA(image.Rect(0, 0, sceneW, sceneH))
	for y := range sceneH {
		for x := range sceneW {
			lx, ly := toCard(float64(x), float64(y))
			switch {
			case lx < 0 || ly < 0 || lx >= cardW || ly >= cardH:
				img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			case lx >= 40 && lx < 140 && ly >= 40 && ly < 140:
				img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
			default:
				img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
			}
		}
	}
	corners := [4]utils.Point{
		toScene(0, 0), toScene(cardW, 0), toScene(cardW, cardH), toScene(0, cardH),
	}
	return img, corners, toScene(90, 90)
}

// redCentroid returns the mean position of saturated red pixels.
func redCentroid(img image.Image) (float64, float64, bool) {
	b := img.Bounds()
	var sx, sy, n float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r>>8 > 200 && g>>8 < 100 && bl>>8 < 100 {
				sx += float64(x - b.Min.X)
				sy += float64(y - b.Min.Y)
				n++
			}
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return sx / n, sy / n, true
}

func TestRectifyEmblemOrientationTiltedCard(t *testing.T) {
	tests := []struct {
		name   string
		deskew bool
	}{
		{"with deskew", true},
		{"without deskew", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Card upside down with a 30 degree tilt; the marker sits in the
			// card's own top-left quadrant.
			img, corners, emblemC := cardScene(210)

			dets := make([]detector.Detection, 0, 5)
			labels := []string{
				detector.LabelTopLeft, detector.LabelTopRight,
				detector.LabelBottomRight, detector.LabelBottomLeft,
			}
			for i, p := range corners {
				dets = append(dets, cornerDet(labels[i], p.X, p.Y, 0.9))
			}
			dets = append(dets, detector.Detection{
				Label:      detector.LabelEmblem,
				Box:        utils.NewBox(emblemC.X-20, emblemC.Y-20, emblemC.X+20, emblemC.Y+20),
				Confidence: 0.9,
			})

			cfg := DefaultConfig()
			cfg.Deskew = tt.deskew
			r, err := New(cfg, &fakeDetector{dets: dets})
			require.NoError(t, err)

			res, err := r.Rectify(context.Background(), img, 0.5)
			require.NoError(t, err)

			// The marker must end up in the crop's top-left quadrant.
			cx, cy, found := redCentroid(res.Image)
			require.True(t, found, "marker not visible in crop")
			b := res.Image.Bounds()
			assert.Less(t, cx, float64(b.Dx())/2)
			assert.Less(t, cy, float64(b.Dy())/2)
		})
	}
}

func TestRectifyKnownMarkerScenario(t *testing.T) {
	dets := []detector.Detection{
		cornerDet(detector.LabelBottomLeft, 10, 300, 0.9),
		cornerDet(detector.LabelTopRight, 190, 10, 0.9),
		cornerDet(detector.LabelTopLeft, 10, 10, 0.9),
		cornerDet(detector.LabelBottomRight, 190, 300, 0.9),
	}
	cfg := DefaultConfig()
	cfg.ExpandRatio = 0.1
	cfg.TargetAspect = 1.585

	r, err := New(cfg, &fakeDetector{dets: dets})
	require.NoError(t, err)

	res, err := r.Rectify(context.Background(), image.NewNRGBA(image.Rect(0, 0, 200, 320)), 0.5)
	require.NoError(t, err)
	assert.False(t, res.Degraded)

	b := res.Image.Bounds()
	assert.InDelta(t, 1.585, float64(b.Dx())/float64(b.Dy()), 0.01)

	// Corner markers at (10,10),(190,10),(190,300),(10,300): the expansion
	// shifts each corner by 0.1 x diagonal, which clamps the quad to the
	// image bounds with the top-left corner first.
	assert.InDelta(t, 0.0, res.Quad[0].X, 1e-9)
	assert.InDelta(t, 0.0, res.Quad[0].Y, 1e-9)
	assert.InDelta(t, 199.0, res.Quad[2].X, 1e-9)
	assert.InDelta(t, 319.0, res.Quad[2].Y, 1e-9)
	for _, p := range res.Quad[1:] {
		assert.GreaterOrEqual(t, p.X+p.Y, res.Quad[0].X+res.Quad[0].Y)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetAspect = 0
	_, err := New(cfg, &fakeDetector{})
	assert.Error(t, err)

	_, err = New(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"negative expand", func(c *Config) { c.ExpandRatio = -0.1 }, false},
		{"huge expand", func(c *Config) { c.ExpandRatio = 0.9 }, false},
		{"zero aspect", func(c *Config) { c.TargetAspect = 0 }, false},
		{"negative max width", func(c *Config) { c.MaxWidth = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
