// Package detector runs ONNX object-detection models and decodes their
// outputs into labelled boxes. The same detector drives both the card-corner
// model and the field-layout model; only the model path and label set differ.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/phandanh111/ocr-cccd-card/internal/models"
	"github.com/phandanh111/ocr-cccd-card/internal/onnx"
	"github.com/phandanh111/ocr-cccd-card/internal/utils"
	"github.com/yalue/onnxruntime_go"
)

// Corner-model class labels.
const (
	LabelTopLeft     = "top-left"
	LabelTopRight    = "top-right"
	LabelBottomLeft  = "bottom-left"
	LabelBottomRight = "bottom-right"
	LabelEmblem      = "emblem"
)

// CornerLabels is the class order of the corner detection model.
var CornerLabels = []string{
	LabelTopLeft,
	LabelTopRight,
	LabelBottomLeft,
	LabelBottomRight,
	LabelEmblem,
}

// FieldLabels is the class order of the field detection model.
var FieldLabels = []string{
	"id",
	"name",
	"dob",
	"gender",
	"nationality",
	"origin_place",
	"current_place",
	"issue_date",
	"expire_date",
}

// Detection is a single labelled box in source-image coordinates.
type Detection struct {
	Label      string
	Box        utils.Box
	Confidence float64
}

// Config holds configuration for a detector instance.
type Config struct {
	ModelPath    string
	Labels       []string // class index -> label
	InputSize    int      // square model input side (default: 640)
	NMSThreshold float64  // IoU threshold for suppression
	NumThreads   int      // 0 means runtime default
	GPU          onnx.GPUConfig
}

// DefaultCornerConfig returns the configuration for the corner model.
func DefaultCornerConfig(modelsDir string) Config {
	return Config{
		ModelPath:    models.ResolvePath(modelsDir, models.CornerDetection),
		Labels:       CornerLabels,
		InputSize:    640,
		NMSThreshold: 0.45,
		GPU:          onnx.DefaultGPUConfig(),
	}
}

// DefaultFieldConfig returns the configuration for the field model.
func DefaultFieldConfig(modelsDir string) Config {
	return Config{
		ModelPath:    models.ResolvePath(modelsDir, models.FieldDetection),
		Labels:       FieldLabels,
		InputSize:    640,
		NMSThreshold: 0.45,
		GPU:          onnx.DefaultGPUConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if len(c.Labels) == 0 {
		return errors.New("label set cannot be empty")
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("NMS threshold must be in [0,1], got %f", c.NMSThreshold)
	}
	return c.GPU.Validate()
}

// Detector wraps an ONNX detection session.
type Detector struct {
	config     Config
	mu         sync.RWMutex
	session    *onnxruntime_go.DynamicAdvancedSession
	inputName  string
	outputName string
}

// New creates a detector from config, loading and validating the model.
func New(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", config.ModelPath, err)
	}
	if err := onnx.EnsureEnvironment(config.GPU.Enabled); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := modelIO(config.ModelPath)
	if err != nil {
		return nil, err
	}
	session, err := createSession(config, inputInfo.Name, outputInfo.Name)
	if err != nil {
		return nil, err
	}
	return &Detector{
		config:     config,
		session:    session,
		inputName:  inputInfo.Name,
		outputName: outputInfo.Name,
	}, nil
}

func modelIO(modelPath string) (onnxruntime_go.InputOutputInfo, onnxruntime_go.InputOutputInfo, error) {
	var empty onnxruntime_go.InputOutputInfo
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return empty, empty, fmt.Errorf("read model metadata: %w", err)
	}
	if len(inputs) != 1 {
		return empty, empty, fmt.Errorf("expected 1 model input, got %d", len(inputs))
	}
	if len(outputs) != 1 {
		return empty, empty, fmt.Errorf("expected 1 model output, got %d", len(outputs))
	}
	return inputs[0], outputs[0], nil
}

func createSession(config Config, inputName, outputName string) (*onnxruntime_go.DynamicAdvancedSession, error) {
	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()

	if err := onnx.ConfigureSession(opts, config.GPU); err != nil {
		return nil, err
	}
	if config.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("set thread count: %w", err)
		}
	}
	session, err := onnxruntime_go.NewDynamicAdvancedSession(config.ModelPath,
		[]string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Close releases the underlying session. The detector must not be used after.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}

// Labels returns the configured class labels.
func (d *Detector) Labels() []string { return d.config.Labels }

// Detect runs the model on img and returns detections with confidence at or
// above minConfidence, after per-class non-maximum suppression. Boxes are in
// the coordinate space of img.
func (d *Detector) Detect(ctx context.Context, img image.Image, minConfidence float64) ([]Detection, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lb, err := letterbox(img, d.config.InputSize)
	if err != nil {
		return nil, err
	}
	tensorData, _, _, err := utils.NormalizeImage(lb.Image)
	if err != nil {
		return nil, fmt.Errorf("normalize input: %w", err)
	}
	t, err := onnx.NewImageTensor(tensorData, 3, d.config.InputSize, d.config.InputSize)
	if err != nil {
		return nil, err
	}

	outData, outShape, err := d.run(t)
	if err != nil {
		return nil, err
	}

	dets, err := decodePredictions(outData, outShape, d.config.Labels, minConfidence, lb)
	if err != nil {
		return nil, err
	}
	dets = nonMaxSuppression(dets, d.config.NMSThreshold)
	bounds := img.Bounds()
	for i := range dets {
		dets[i].Box = dets[i].Box.Clamp(bounds.Dx(), bounds.Dy())
	}
	return dets, nil
}

func (d *Detector) run(t onnx.Tensor) ([]float32, []int64, error) {
	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session == nil {
		return nil, nil, errors.New("detector session is closed")
	}

	input, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputs := []onnxruntime_go.Value{nil}
	if err := session.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() { _ = outputs[0].Destroy() }()

	out, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, errors.New("unexpected output tensor type")
	}
	shape := out.GetShape()
	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())
	return data, shape, nil
}
