// Package pipeline wires corner rectification and field extraction into a
// single card-reading flow.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/phandanh111/ocr-cccd-card/internal/detector"
	"github.com/phandanh111/ocr-cccd-card/internal/extract"
	"github.com/phandanh111/ocr-cccd-card/internal/recognizer"
	"github.com/phandanh111/ocr-cccd-card/internal/rectify"
)

// Config aggregates the settings of every pipeline stage.
type Config struct {
	ModelsDir string
	OutputDir string // cropped card images are written here when non-empty

	CornerDetector detector.Config
	FieldDetector  detector.Config
	Recognizer     recognizer.Config
	Rectify        rectify.Config
	Extract        extract.Config

	// Default thresholds, overridable per request.
	CropConfidence        float64
	RecognitionConfidence float64
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		CornerDetector:        detector.DefaultCornerConfig(""),
		FieldDetector:         detector.DefaultFieldConfig(""),
		Recognizer:            recognizer.DefaultConfig(""),
		Rectify:               rectify.DefaultConfig(),
		Extract:               extract.DefaultConfig(),
		CropConfidence:        0.5,
		RecognitionConfidence: 0.4,
	}
}

// Builder configures and constructs a Pipeline.
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// NewBuilder starts from the default configuration.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithModelsDir points every model path at dir.
func (b *Builder) WithModelsDir(dir string) *Builder {
	b.cfg.ModelsDir = dir
	b.cfg.CornerDetector = detector.DefaultCornerConfig(dir)
	b.cfg.FieldDetector = detector.DefaultFieldConfig(dir)
	b.cfg.Recognizer = recognizer.DefaultConfig(dir)
	return b
}

// WithOutputDir sets the directory for cropped card images.
func (b *Builder) WithOutputDir(dir string) *Builder {
	b.cfg.OutputDir = dir
	return b
}

// WithCropConfidence sets the default corner-detection threshold.
func (b *Builder) WithCropConfidence(v float64) *Builder {
	b.cfg.CropConfidence = v
	return b
}

// WithRecognitionConfidence sets the default recognition threshold.
func (b *Builder) WithRecognitionConfidence(v float64) *Builder {
	b.cfg.RecognitionConfidence = v
	return b
}

// WithExpandRatio sets the corner expansion ratio.
func (b *Builder) WithExpandRatio(v float64) *Builder {
	b.cfg.Rectify.ExpandRatio = v
	return b
}

// WithTargetAspect sets the rectified crop aspect ratio.
func (b *Builder) WithTargetAspect(v float64) *Builder {
	b.cfg.Rectify.TargetAspect = v
	return b
}

// WithDeskew toggles top-edge deskew.
func (b *Builder) WithDeskew(enabled bool) *Builder {
	b.cfg.Rectify.Deskew = enabled
	return b
}

// WithWorkers sets the recognition worker pool size.
func (b *Builder) WithWorkers(n int) *Builder {
	if n > 0 {
		b.cfg.Extract.Workers = n
	}
	return b
}

// WithThreads sets the ONNX intra-op thread count on every session.
func (b *Builder) WithThreads(n int) *Builder {
	b.cfg.CornerDetector.NumThreads = n
	b.cfg.FieldDetector.NumThreads = n
	b.cfg.Recognizer.NumThreads = n
	return b
}

// WithGPU toggles CUDA execution on every session.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.CornerDetector.GPU.Enabled = enabled
	b.cfg.FieldDetector.GPU.Enabled = enabled
	b.cfg.Recognizer.GPU.Enabled = enabled
	return b
}

// WithLogger sets the pipeline logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Config returns the accumulated configuration.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the accumulated configuration without touching the models.
func (b *Builder) Validate() error {
	if err := b.cfg.CornerDetector.Validate(); err != nil {
		return fmt.Errorf("corner detector: %w", err)
	}
	if err := b.cfg.FieldDetector.Validate(); err != nil {
		return fmt.Errorf("field detector: %w", err)
	}
	if err := b.cfg.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer: %w", err)
	}
	if err := b.cfg.Rectify.Validate(); err != nil {
		return fmt.Errorf("rectify: %w", err)
	}
	if err := b.cfg.Extract.Validate(); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if b.cfg.CropConfidence < 0 || b.cfg.CropConfidence > 1 {
		return fmt.Errorf("crop confidence must be in [0,1], got %f", b.cfg.CropConfidence)
	}
	if b.cfg.RecognitionConfidence < 0 || b.cfg.RecognitionConfidence > 1 {
		return fmt.Errorf("recognition confidence must be in [0,1], got %f", b.cfg.RecognitionConfidence)
	}
	return nil
}

// Pipeline holds the loaded models and stage components.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	cornerDet *detector.Detector
	fieldDet  *detector.Detector
	rec       *recognizer.Recognizer

	rectifier rectifierStage
	extractor extractorStage
}

// Build loads the models and assembles the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	cornerDet, err := detector.New(b.cfg.CornerDetector)
	if err != nil {
		return nil, fmt.Errorf("init corner detector: %w", err)
	}
	fieldDet, err := detector.New(b.cfg.FieldDetector)
	if err != nil {
		_ = cornerDet.Close()
		return nil, fmt.Errorf("init field detector: %w", err)
	}
	rec, err := recognizer.New(b.cfg.Recognizer)
	if err != nil {
		_ = cornerDet.Close()
		_ = fieldDet.Close()
		return nil, fmt.Errorf("init recognizer: %w", err)
	}

	p := &Pipeline{
		cfg:       b.cfg,
		logger:    logger,
		cornerDet: cornerDet,
		fieldDet:  fieldDet,
		rec:       rec,
	}
	p.rectifier, err = rectify.New(b.cfg.Rectify, cornerDet)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.extractor, err = extract.New(b.cfg.Extract, fieldDet, rec)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Close releases all model sessions.
func (p *Pipeline) Close() error {
	var firstErr error
	if p.cornerDet != nil {
		if err := p.cornerDet.Close(); err != nil {
			firstErr = err
		}
	}
	if p.fieldDet != nil {
		if err := p.fieldDet.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.rec != nil {
		if err := p.rec.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.cornerDet = nil
	p.fieldDet = nil
	p.rec = nil
	return firstErr
}
