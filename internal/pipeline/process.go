package pipeline

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid"
	"github.com/phandanh111/ocr-cccd-card/internal/extract"
	"github.com/phandanh111/ocr-cccd-card/internal/rectify"
	"github.com/phandanh111/ocr-cccd-card/internal/utils"
)

// Diagnostics carries non-fatal loss counters for one run.
type Diagnostics struct {
	RecognitionDrops int  `json:"recognition_drops,omitempty"`
	DegradedCrop     bool `json:"degraded_crop,omitempty"`
}

// Record is the result of one pipeline run.
type Record struct {
	ID            string                `json:"id"`
	Fields        []extract.FieldResult `json:"fields"`
	RuntimeMS     int64                 `json:"runtime_ms"`
	InputFilename string                `json:"input_filename,omitempty"`
	CroppedImage  string                `json:"cropped_image,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	Diagnostics   Diagnostics           `json:"diagnostics,omitempty"`
}

// Options are per-request overrides. Zero values fall back to the pipeline
// defaults.
type Options struct {
	CropConfidence        float64
	RecognitionConfidence float64
	InputFilename         string
}

type rectifierStage interface {
	Rectify(ctx context.Context, img image.Image, confThreshold float64) (*rectify.Result, error)
}

type extractorStage interface {
	Extract(ctx context.Context, img image.Image, recConfidence float64) ([]extract.FieldResult, extract.Diagnostics, error)
}

// Run executes rectification then extraction on img. The returned Record is
// never nil and always carries the elapsed runtime, including on failure.
// Zero extracted fields with a successful run is a valid, successful result.
func (p *Pipeline) Run(ctx context.Context, img image.Image, opts Options) (*Record, error) {
	return p.run(ctx, time.Now(), img, opts)
}

// run measures everything from start, so byte and file entry points can
// include their decode time in the record.
func (p *Pipeline) run(ctx context.Context, start time.Time, img image.Image, opts Options) (*Record, error) {
	rec := &Record{
		ID:            newRecordID(),
		CreatedAt:     start.UTC(),
		InputFilename: opts.InputFilename,
	}
	defer func() { rec.RuntimeMS = time.Since(start).Milliseconds() }()

	cropConf := opts.CropConfidence
	if cropConf <= 0 {
		cropConf = p.cfg.CropConfidence
	}
	recConf := opts.RecognitionConfidence
	if recConf <= 0 {
		recConf = p.cfg.RecognitionConfidence
	}

	rectified, err := p.rectifier.Rectify(ctx, img, cropConf)
	if err != nil {
		p.logger.Error("rectification failed", "record_id", rec.ID, "error", err)
		return rec, fmt.Errorf("rectify: %w", err)
	}
	rec.Diagnostics.DegradedCrop = rectified.Degraded
	if rectified.Degraded {
		p.logger.Warn("card corners not found, using full image", "record_id", rec.ID)
	}

	if p.cfg.OutputDir != "" {
		path := filepath.Join(p.cfg.OutputDir, rec.ID+".jpg")
		if err := utils.SaveImage(rectified.Image, path); err != nil {
			p.logger.Warn("failed to save cropped image", "record_id", rec.ID, "error", err)
		} else {
			rec.CroppedImage = path
		}
	}

	fields, diag, err := p.extractor.Extract(ctx, rectified.Image, recConf)
	if err != nil {
		p.logger.Error("field extraction failed", "record_id", rec.ID, "error", err)
		return rec, fmt.Errorf("extract: %w", err)
	}
	rec.Fields = fields
	rec.Diagnostics.RecognitionDrops = diag.RecognitionDrops

	p.logger.Info("pipeline run complete",
		"record_id", rec.ID,
		"fields", len(fields),
		"recognition_drops", diag.RecognitionDrops,
		"degraded", rectified.Degraded,
	)
	return rec, nil
}

// RunBytes decodes raw image bytes and runs the pipeline.
func (p *Pipeline) RunBytes(ctx context.Context, data []byte, opts Options) (*Record, error) {
	start := time.Now()
	img, err := utils.DecodeImage(data)
	if err != nil {
		return errorRecord(start, opts.InputFilename), err
	}
	return p.run(ctx, start, img, opts)
}

// RunFile loads an image from disk and runs the pipeline.
func (p *Pipeline) RunFile(ctx context.Context, path string, opts Options) (*Record, error) {
	if opts.InputFilename == "" {
		opts.InputFilename = filepath.Base(path)
	}
	start := time.Now()
	img, err := utils.LoadImage(path)
	if err != nil {
		return errorRecord(start, opts.InputFilename), err
	}
	return p.run(ctx, start, img, opts)
}

// errorRecord reports a run that failed before the pipeline stages started.
// The elapsed time is still measured.
func errorRecord(start time.Time, filename string) *Record {
	return &Record{
		ID:            newRecordID(),
		CreatedAt:     start.UTC(),
		InputFilename: filename,
		RuntimeMS:     time.Since(start).Milliseconds(),
	}
}

func newRecordID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// NewV4 only fails when the entropy source does.
		return fmt.Sprintf("rec-%d", time.Now().UnixNano())
	}
	return id.String()
}
