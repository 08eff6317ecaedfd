package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"

	"github.com/phandanh111/ocr-cccd-card/internal/detector"
	"github.com/phandanh111/ocr-cccd-card/internal/recognizer"
	"github.com/phandanh111/ocr-cccd-card/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFieldDetector struct {
	dets []detector.Detection
	err  error
}

func (f *fakeFieldDetector) Detect(_ context.Context, _ image.Image, minConfidence float64) ([]detector.Detection, error) {
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

// fakeRecognizer returns canned results keyed by the source row of the crop.
// testImage encodes each row's index into its pixel colors, so the fake can
// recover which box it was handed even though crops are re-based at (0,0).
type fakeRecognizer struct {
	mu      sync.Mutex
	byMinY  map[int]recognizer.Result
	failAll bool
	calls   int
}

func (f *fakeRecognizer) Recognize(_ context.Context, crop image.Image) (recognizer.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failAll {
		return recognizer.Result{}, errors.New("recognizer down")
	}
	if res, ok := f.byMinY[decodeRow(crop)]; ok {
		return res, nil
	}
	return recognizer.Result{Text: "x", Confidence: 0.9}, nil
}

func det(label string, y float64, conf float64) detector.Detection {
	return detector.Detection{
		Label:      label,
		Box:        utils.NewBox(10, y, 200, y+20),
		Confidence: conf,
	}
}

func testImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 640, 400))
	for y := range 400 {
		for x := range 640 {
			img.Pix[img.PixOffset(x, y)] = uint8(y / 256)   // R
			img.Pix[img.PixOffset(x, y)+1] = uint8(y % 256) // G
			img.Pix[img.PixOffset(x, y)+3] = 255            // A
		}
	}
	return img
}

func decodeRow(crop image.Image) int {
	b := crop.Bounds()
	r, g, _, _ := crop.At(b.Min.X, b.Min.Y).RGBA()
	return int(r>>8)*256 + int(g>>8)
}

func newExtractor(t *testing.T, d fieldDetector, r textRecognizer) *Extractor {
	t.Helper()
	e, err := New(DefaultConfig(), d, r)
	require.NoError(t, err)
	return e
}

func TestExtractOrdersByVocabulary(t *testing.T) {
	d := &fakeFieldDetector{dets: []detector.Detection{
		det("dob", 100, 0.9),
		det("id", 40, 0.95),
		det("gender", 140, 0.8),
	}}
	e := newExtractor(t, d, &fakeRecognizer{})

	fields, diag, err := e.Extract(context.Background(), testImage(), 0.4)
	require.NoError(t, err)
	assert.Zero(t, diag.RecognitionDrops)
	require.Len(t, fields, 3)
	assert.Equal(t, FieldID, fields[0].Name)
	assert.Equal(t, FieldDateOfBirth, fields[1].Name)
	assert.Equal(t, FieldGender, fields[2].Name)
}

func TestExtractDuplicateKeepsHighestCombined(t *testing.T) {
	d := &fakeFieldDetector{dets: []detector.Detection{
		det("id", 40, 0.9),
		det("id", 200, 0.6),
	}}
	r := &fakeRecognizer{byMinY: map[int]recognizer.Result{}}
	// Fill results by padded crop MinY. Pad is 4% of a 20-high box at these
	// coordinates; both land near their detection rows.
	r.byMinY[39] = recognizer.Result{Text: "001099012345", Confidence: 0.5}
	r.byMinY[199] = recognizer.Result{Text: "999999999999", Confidence: 0.99}

	e := newExtractor(t, d, r)
	fields, _, err := e.Extract(context.Background(), testImage(), 0.1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	// 0.6*0.99 > 0.9*0.5, the second detection wins.
	assert.Equal(t, "999999999999", fields[0].Text)
	assert.InDelta(t, 0.6, fields[0].Confidence, 1e-9)
}

func TestExtractMultilineMerge(t *testing.T) {
	d := &fakeFieldDetector{dets: []detector.Detection{
		det("current_place", 240, 0.8), // lower line first
		det("current_place", 200, 0.9),
	}}
	r := &fakeRecognizer{byMinY: map[int]recognizer.Result{
		199: {Text: "Tổ 5, Phường Dịch Vọng", Confidence: 0.9},
		239: {Text: "Cầu Giấy, Hà Nội", Confidence: 0.7},
	}}

	e := newExtractor(t, d, r)
	fields, _, err := e.Extract(context.Background(), testImage(), 0.1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	// Joined top to bottom regardless of detection order.
	assert.Equal(t, "Tổ 5, Phường Dịch Vọng Cầu Giấy, Hà Nội", fields[0].Text)
	// Detection confidences averaged.
	assert.InDelta(t, 0.85, fields[0].Confidence, 1e-9)
}

func TestExtractDropsLowRecognitionConfidence(t *testing.T) {
	d := &fakeFieldDetector{dets: []detector.Detection{det("id", 40, 0.9)}}
	r := &fakeRecognizer{byMinY: map[int]recognizer.Result{
		39: {Text: "blurry", Confidence: 0.2},
	}}

	e := newExtractor(t, d, r)
	fields, diag, err := e.Extract(context.Background(), testImage(), 0.4)
	require.NoError(t, err)
	assert.Empty(t, fields)
	// Threshold filtering is not a recognition drop.
	assert.Zero(t, diag.RecognitionDrops)
}

func TestExtractDropsEmptyText(t *testing.T) {
	d := &fakeFieldDetector{dets: []detector.Detection{det("id", 40, 0.9)}}
	r := &fakeRecognizer{byMinY: map[int]recognizer.Result{
		39: {Text: "   ", Confidence: 0.95},
	}}

	e := newExtractor(t, d, r)
	fields, _, err := e.Extract(context.Background(), testImage(), 0.4)
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestExtractCountsRecognizerFailures(t *testing.T) {
	d := &fakeFieldDetector{dets: []detector.Detection{
		det("id", 40, 0.9),
		det("dob", 100, 0.9),
	}}
	r := &fakeRecognizer{failAll: true}

	e := newExtractor(t, d, r)
	fields, diag, err := e.Extract(context.Background(), testImage(), 0.4)
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.Equal(t, 2, diag.RecognitionDrops)
}

func TestExtractDetectorFailureIsModelUnavailable(t *testing.T) {
	d := &fakeFieldDetector{err: errors.New("onnx session gone")}
	e := newExtractor(t, d, &fakeRecognizer{})

	_, _, err := e.Extract(context.Background(), testImage(), 0.4)
	var unavailable *ModelUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestExtractIgnoresUnknownLabels(t *testing.T) {
	d := &fakeFieldDetector{dets: []detector.Detection{
		det("portrait", 40, 0.95),
		det("id", 100, 0.9),
	}}
	r := &fakeRecognizer{}
	e := newExtractor(t, d, r)

	fields, _, err := e.Extract(context.Background(), testImage(), 0.1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, FieldID, fields[0].Name)
	// Unknown box never reaches the recognizer.
	assert.Equal(t, 1, r.calls)
}

func TestExtractNoDetectionsIsEmptySuccess(t *testing.T) {
	e := newExtractor(t, &fakeFieldDetector{}, &fakeRecognizer{})
	fields, diag, err := e.Extract(context.Background(), testImage(), 0.4)
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.Zero(t, diag.RecognitionDrops)
}

func TestExtractManyBoxesBoundedPool(t *testing.T) {
	var dets []detector.Detection
	for i := range 20 {
		dets = append(dets, det("id", float64(10+i*15), 0.9))
	}
	d := &fakeFieldDetector{dets: dets}
	r := &fakeRecognizer{byMinY: map[int]recognizer.Result{}}
	for i := range 20 {
		r.byMinY[10+i*15-1] = recognizer.Result{
			Text:       fmt.Sprintf("t%d", i),
			Confidence: float64(i) / 20,
		}
	}

	cfg := DefaultConfig()
	cfg.Workers = 3
	e, err := New(cfg, d, r)
	require.NoError(t, err)

	fields, _, err := e.Extract(context.Background(), testImage(), 0.0)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	// Deterministic winner: highest det*rec is the last crop.
	assert.Equal(t, "t19", fields[0].Text)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.PadRatio = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), nil, &fakeRecognizer{})
	assert.Error(t, err)
	_, err = New(DefaultConfig(), &fakeFieldDetector{}, nil)
	assert.Error(t, err)
}
