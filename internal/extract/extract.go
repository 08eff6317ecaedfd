// Package extract detects printed fields on a rectified card crop and
// recognizes their text.
package extract

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/phandanh111/ocr-cccd-card/internal/detector"
	"github.com/phandanh111/ocr-cccd-card/internal/recognizer"
	"github.com/phandanh111/ocr-cccd-card/internal/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

// ModelUnavailableError indicates the field detection model could not run at
// all; the whole extraction is aborted.
type ModelUnavailableError struct {
	Err error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("field model unavailable: %v", e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// FieldResult is one extracted field. Confidence is the detection score of
// the winning box (averaged across parts for multiline fields).
type FieldResult struct {
	Name       FieldName `json:"name"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
}

// Diagnostics reports non-fatal losses during extraction.
type Diagnostics struct {
	RecognitionDrops int
}

// Config holds extraction parameters.
type Config struct {
	PadRatio            float64 // box padding as a fraction of box size
	DetectionConfidence float64 // default threshold for field boxes
	Workers             int     // concurrent recognition calls
}

// DefaultConfig returns the standard extraction parameters.
func DefaultConfig() Config {
	return Config{
		PadRatio:            0.04,
		DetectionConfidence: 0.25,
		Workers:             4,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PadRatio < 0 || c.PadRatio > 0.5 {
		return fmt.Errorf("pad ratio must be in [0, 0.5], got %f", c.PadRatio)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

type fieldDetector interface {
	Detect(ctx context.Context, img image.Image, minConfidence float64) ([]detector.Detection, error)
}

type textRecognizer interface {
	Recognize(ctx context.Context, crop image.Image) (recognizer.Result, error)
}

// Extractor runs field detection and per-box recognition.
type Extractor struct {
	cfg Config
	det fieldDetector
	rec textRecognizer
}

// New creates an Extractor.
func New(cfg Config, det fieldDetector, rec textRecognizer) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extract config: %w", err)
	}
	if det == nil || rec == nil {
		return nil, fmt.Errorf("detector and recognizer are required")
	}
	return &Extractor{cfg: cfg, det: det, rec: rec}, nil
}

// boxText is one recognized box before merging.
type boxText struct {
	name     FieldName
	box      utils.Box
	detScore float64
	text     string
	recScore float64
}

// Extract detects fields on the rectified crop and recognizes each box.
// recConfidence filters recognition results; boxes whose recognizer call
// fails are dropped and counted in Diagnostics. Results follow the field
// vocabulary order.
func (e *Extractor) Extract(ctx context.Context, img image.Image, recConfidence float64) ([]FieldResult, Diagnostics, error) {
	var diag Diagnostics
	if img == nil {
		return nil, diag, &ModelUnavailableError{Err: fmt.Errorf("nil input image")}
	}

	dets, err := e.det.Detect(ctx, img, e.cfg.DetectionConfidence)
	if err != nil {
		return nil, diag, &ModelUnavailableError{Err: err}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	jobs := make([]boxText, 0, len(dets))
	for _, d := range dets {
		name := FieldName(d.Label)
		if !Known(name) {
			continue
		}
		padded := d.Box.Pad(d.Box.Width()*e.cfg.PadRatio, d.Box.Height()*e.cfg.PadRatio, w, h)
		jobs = append(jobs, boxText{name: name, box: padded, detScore: d.Confidence})
	}

	results, drops := e.recognizeAll(ctx, img, jobs, recConfidence)
	diag.RecognitionDrops = drops

	return mergeResults(results), diag, nil
}

// recognizeAll runs recognition over the boxes with a bounded worker pool.
// Each worker writes only to its own slot; filtering happens afterwards so
// the merge stays deterministic.
func (e *Extractor) recognizeAll(ctx context.Context, img image.Image, jobs []boxText, recConfidence float64) ([]boxText, int) {
	type slot struct {
		bt boxText
		ok bool
	}
	slots := make([]slot, len(jobs))

	var mu sync.Mutex
	drops := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			crop := imaging.Crop(img, job.box.ToRect(img.Bounds()))
			res, err := e.rec.Recognize(gctx, crop)
			if err != nil {
				mu.Lock()
				drops++
				mu.Unlock()
				return nil // per-box failure is non-fatal
			}
			job.text = norm.NFC.String(strings.TrimSpace(res.Text))
			job.recScore = res.Confidence
			slots[i] = slot{bt: job, ok: true}
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]boxText, 0, len(slots))
	for _, s := range slots {
		if !s.ok {
			continue
		}
		if s.bt.text == "" || s.bt.recScore < recConfidence {
			continue
		}
		kept = append(kept, s.bt)
	}
	return kept, drops
}

// mergeResults reduces recognized boxes to one FieldResult per field name.
// Single-line fields keep the highest detScore x recScore box. Multiline
// fields merge all boxes top to bottom, joining text with spaces and
// averaging confidences.
func mergeResults(parts []boxText) []FieldResult {
	grouped := make(map[FieldName][]boxText)
	for _, p := range parts {
		grouped[p.name] = append(grouped[p.name], p)
	}

	out := make([]FieldResult, 0, len(grouped))
	for _, name := range Vocabulary {
		group, ok := grouped[name]
		if !ok {
			continue
		}
		if Multiline(name) {
			out = append(out, mergeMultiline(name, group))
			continue
		}
		best := group[0]
		for _, p := range group[1:] {
			if p.detScore*p.recScore > best.detScore*best.recScore {
				best = p
			}
		}
		out = append(out, FieldResult{Name: name, Text: best.text, Confidence: best.detScore})
	}
	return out
}

func mergeMultiline(name FieldName, group []boxText) FieldResult {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].box.MinY < group[j].box.MinY
	})
	texts := make([]string, 0, len(group))
	var detSum float64
	for _, p := range group {
		texts = append(texts, p.text)
		detSum += p.detScore
	}
	return FieldResult{
		Name:       name,
		Text:       strings.Join(texts, " "),
		Confidence: detSum / float64(len(group)),
	}
}
