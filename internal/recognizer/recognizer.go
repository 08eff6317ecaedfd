// Package recognizer turns single text-line crops into strings using a CTC
// recognition model.
package recognizer

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

// Config holds configuration for the text recognizer.
type Config struct {
	ModelPath   string
	CharsetPath string
	LineHeight  int // model input height (default: 32)
	MaxWidth    int // crops wider than this are shrunk (default: 1024)
	NumThreads  int
	GPU         onnx.GPUConfig
}

// DefaultConfig returns the default recognizer configuration.
func DefaultConfig(modelsDir string) Config {
	return Config{
		ModelPath:   models.ResolvePath(modelsDir, models.TextRecognition),
		CharsetPath: models.ResolvePath(modelsDir, models.CharsetVN),
		LineHeight:  32,
		MaxWidth:    1024,
		GPU:         onnx.DefaultGPUConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.CharsetPath == "" {
		return errors.New("charset path cannot be empty")
	}
	if c.LineHeight <= 0 {
		return fmt.Errorf("line height must be positive, got %d", c.LineHeight)
	}
	return c.GPU.Validate()
}

// Result is a recognized text line.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer wraps an ONNX CTC recognition session. Safe for concurrent use.
type Recognizer struct {
	config  Config
	charset *Charset

	mu         sync.RWMutex
	session    *onnxruntime_go.DynamicAdvancedSession
	inputName  string
	outputName string
}

// New creates a recognizer, loading the model and its character set.
func New(config Config) (*Recognizer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recognizer config: %w", err)
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", config.ModelPath, err)
	}
	charset, err := LoadCharset(config.CharsetPath)
	if err != nil {
		return nil, err
	}
	if err := onnx.EnsureEnvironment(config.GPU.Enabled); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model metadata: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("expected 1 input and 1 output, got %d/%d", len(inputs), len(outputs))
	}

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
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Recognizer{
		config:     config,
		charset:    charset,
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
	}, nil
}

// Close releases the session.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	err := r.session.Destroy()
	r.session = nil
	return err
}

// Charset returns the loaded character set.
func (r *Recognizer) Charset() *Charset { return r.charset }

// Recognize runs the model on a single text crop.
func (r *Recognizer) Recognize(ctx context.Context, crop image.Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	prepared, err := PrepareCrop(crop, r.config.LineHeight, r.config.MaxWidth)
	if err != nil {
		return Result{}, err
	}
	prepared = fitToHeight(prepared, r.config.LineHeight)

	data, w, h, err := utils.NormalizeImage(prepared)
	if err != nil {
		return Result{}, fmt.Errorf("normalize crop: %w", err)
	}
	t, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		return Result{}, err
	}

	logits, shape, err := r.run(t)
	if err != nil {
		return Result{}, err
	}

	text, conf, err := decodeCTCGreedy(logits, shape, r.charset)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, Confidence: conf}, nil
}

func (r *Recognizer) run(t onnx.Tensor) ([]float32, []int64, error) {
	r.mu.RLock()
	session := r.session
	r.mu.RUnlock()
	if session == nil {
		return nil, nil, errors.New("recognizer session is closed")
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
	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())
	return data, out.GetShape(), nil
}
