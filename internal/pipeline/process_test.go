package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phandanh111/ocr-cccd-card/internal/extract"
	"github.com/phandanh111/ocr-cccd-card/internal/rectify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRectifier struct {
	res      *rectify.Result
	err      error
	gotConf  float64
	gotImage image.Image
}

func (f *fakeRectifier) Rectify(_ context.Context, img image.Image, confThreshold float64) (*rectify.Result, error) {
	f.gotConf = confThreshold
	f.gotImage = img
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeExtractor struct {
	fields  []extract.FieldResult
	diag    extract.Diagnostics
	err     error
	gotConf float64
	called  bool
}

func (f *fakeExtractor) Extract(_ context.Context, _ image.Image, recConfidence float64) ([]extract.FieldResult, extract.Diagnostics, error) {
	f.called = true
	f.gotConf = recConfidence
	if f.err != nil {
		return nil, f.diag, f.err
	}
	return f.fields, f.diag, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPipeline(r rectifierStage, e extractorStage, outputDir string) *Pipeline {
	return &Pipeline{
		cfg: Config{
			OutputDir:             outputDir,
			CropConfidence:        0.5,
			RecognitionConfidence: 0.4,
		},
		logger:    quietLogger(),
		rectifier: r,
		extractor: e,
	}
}

func goodRectified() *rectify.Result {
	return &rectify.Result{Image: image.NewNRGBA(image.Rect(0, 0, 317, 200))}
}

func TestRunHappyPath(t *testing.T) {
	fields := []extract.FieldResult{
		{Name: extract.FieldID, Text: "001099012345", Confidence: 0.93},
		{Name: extract.FieldFullName, Text: "NGUYỄN VĂN A", Confidence: 0.88},
	}
	fr := &fakeRectifier{res: goodRectified()}
	fe := &fakeExtractor{fields: fields}
	p := testPipeline(fr, fe, "")

	rec, err := p.Run(context.Background(), image.NewNRGBA(image.Rect(0, 0, 640, 480)), Options{InputFilename: "card.jpg"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, fields, rec.Fields)
	assert.Equal(t, "card.jpg", rec.InputFilename)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.GreaterOrEqual(t, rec.RuntimeMS, int64(0))
	// Defaults flow to the stages.
	assert.InDelta(t, 0.5, fr.gotConf, 1e-9)
	assert.InDelta(t, 0.4, fe.gotConf, 1e-9)
}

func TestRunOptionOverrides(t *testing.T) {
	fr := &fakeRectifier{res: goodRectified()}
	fe := &fakeExtractor{}
	p := testPipeline(fr, fe, "")

	_, err := p.Run(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), Options{
		CropConfidence:        0.7,
		RecognitionConfidence: 0.6,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, fr.gotConf, 1e-9)
	assert.InDelta(t, 0.6, fe.gotConf, 1e-9)
}

func TestRunRectifierFailureSkipsExtraction(t *testing.T) {
	fr := &fakeRectifier{err: &rectify.GeometryError{Reason: "degenerate corner quad"}}
	fe := &fakeExtractor{}
	p := testPipeline(fr, fe, "")

	rec, err := p.Run(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), Options{})
	require.Error(t, err)
	var geoErr *rectify.GeometryError
	assert.ErrorAs(t, err, &geoErr)
	// No OCR on an unrectified image.
	assert.False(t, fe.called)
	// The record still reports the elapsed time and no fields.
	require.NotNil(t, rec)
	assert.Empty(t, rec.Fields)
	assert.GreaterOrEqual(t, rec.RuntimeMS, int64(0))
}

func TestRunModelUnavailableAborts(t *testing.T) {
	fr := &fakeRectifier{res: goodRectified()}
	fe := &fakeExtractor{err: &extract.ModelUnavailableError{Err: errors.New("no session")}}
	p := testPipeline(fr, fe, "")

	rec, err := p.Run(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), Options{})
	require.Error(t, err)
	var unavailable *extract.ModelUnavailableError
	assert.ErrorAs(t, err, &unavailable)
	require.NotNil(t, rec)
	assert.Empty(t, rec.Fields)
}

func TestRunZeroFieldsIsSuccess(t *testing.T) {
	fr := &fakeRectifier{res: goodRectified()}
	fe := &fakeExtractor{fields: nil}
	p := testPipeline(fr, fe, "")

	rec, err := p.Run(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), Options{})
	require.NoError(t, err)
	assert.Empty(t, rec.Fields)
}

func TestRunDegradedCropDiagnostic(t *testing.T) {
	res := goodRectified()
	res.Degraded = true
	fr := &fakeRectifier{res: res}
	fe := &fakeExtractor{diag: extract.Diagnostics{RecognitionDrops: 3}}
	p := testPipeline(fr, fe, "")

	rec, err := p.Run(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), Options{})
	require.NoError(t, err)
	assert.True(t, rec.Diagnostics.DegradedCrop)
	assert.Equal(t, 3, rec.Diagnostics.RecognitionDrops)
}

func TestRunSavesCroppedImage(t *testing.T) {
	dir := t.TempDir()
	fr := &fakeRectifier{res: goodRectified()}
	p := testPipeline(fr, &fakeExtractor{}, dir)

	rec, err := p.Run(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), Options{})
	require.NoError(t, err)
	require.NotEmpty(t, rec.CroppedImage)
	assert.Equal(t, filepath.Join(dir, rec.ID+".jpg"), rec.CroppedImage)
	_, statErr := os.Stat(rec.CroppedImage)
	assert.NoError(t, statErr)
}

func TestRunBytesRejectsGarbage(t *testing.T) {
	p := testPipeline(&fakeRectifier{res: goodRectified()}, &fakeExtractor{}, "")
	rec, err := p.RunBytes(context.Background(), []byte("not an image"), Options{InputFilename: "bad.jpg"})
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "bad.jpg", rec.InputFilename)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.GreaterOrEqual(t, rec.RuntimeMS, int64(0))
}

func TestErrorRecordMeasuresElapsed(t *testing.T) {
	start := time.Now().Add(-250 * time.Millisecond)
	rec := errorRecord(start, "bad.jpg")
	assert.GreaterOrEqual(t, rec.RuntimeMS, int64(250))
	assert.Equal(t, start.UTC(), rec.CreatedAt)
	assert.Equal(t, "bad.jpg", rec.InputFilename)
	assert.NotEmpty(t, rec.ID)
}

func TestRecordIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := newRecordID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestBuilderValidate(t *testing.T) {
	b := NewBuilder().WithModelsDir("/models")
	assert.NoError(t, b.Validate())

	b = NewBuilder().WithModelsDir("/models").WithCropConfidence(1.5)
	assert.Error(t, b.Validate())

	b = NewBuilder().WithModelsDir("/models").WithRecognitionConfidence(-0.1)
	assert.Error(t, b.Validate())
}

func TestBuilderAccumulates(t *testing.T) {
	cfg := NewBuilder().
		WithModelsDir("/models").
		WithOutputDir("/out").
		WithExpandRatio(0.08).
		WithTargetAspect(1.6).
		WithDeskew(false).
		WithWorkers(8).
		WithThreads(2).
		WithGPU(true).
		Config()

	assert.Equal(t, "/models", cfg.ModelsDir)
	assert.Equal(t, "/out", cfg.OutputDir)
	assert.InDelta(t, 0.08, cfg.Rectify.ExpandRatio, 1e-9)
	assert.InDelta(t, 1.6, cfg.Rectify.TargetAspect, 1e-9)
	assert.False(t, cfg.Rectify.Deskew)
	assert.Equal(t, 8, cfg.Extract.Workers)
	assert.Equal(t, 2, cfg.Recognizer.NumThreads)
	assert.True(t, cfg.FieldDetector.GPU.Enabled)
	assert.Contains(t, cfg.CornerDetector.ModelPath, "/models")
}
