// Package server exposes the card-reading pipeline over HTTP: multipart
// upload, processing history, export, metrics, and a WebSocket variant of
// the OCR endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/phandanh111/ocr-cccd-card/internal/extract"
	"github.com/phandanh111/ocr-cccd-card/internal/history"
	"github.com/phandanh111/ocr-cccd-card/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// cardPipeline defines the methods the server needs from a pipeline.
type cardPipeline interface {
	RunBytes(ctx context.Context, data []byte, opts pipeline.Options) (*pipeline.Record, error)
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline        cardPipeline
	store           *history.Store
	corsOrigin      string
	maxUploadMB     int64
	timeoutSec      int
	enableWebSocket bool
	rateLimiter     *RateLimiter
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	RatePerMinute   int
	DailyDataMB     int64
	EnableWebSocket bool
	PipelineConfig  pipeline.Config
}

// Response is the envelope for every JSON API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RecordData is the payload returned for a processed card.
type RecordData struct {
	RecordID      string                `json:"record_id"`
	Fields        []extract.FieldResult `json:"fields"`
	RuntimeMS     int64                 `json:"runtime_ms"`
	CroppedImage  string                `json:"cropped_image,omitempty"`
	InputFilename string                `json:"input_filename,omitempty"`
	Degraded      bool                  `json:"degraded,omitempty"`
}

// HealthData is the payload for the health endpoint.
type HealthData struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
	Time    string `json:"time"`
}

// recordData converts a pipeline record to its API shape.
func recordData(rec *pipeline.Record) RecordData {
	fields := rec.Fields
	if fields == nil {
		fields = []extract.FieldResult{}
	}
	return RecordData{
		RecordID:      rec.ID,
		Fields:        fields,
		RuntimeMS:     rec.RuntimeMS,
		CroppedImage:  rec.CroppedImage,
		InputFilename: rec.InputFilename,
		Degraded:      rec.Diagnostics.DegradedCrop,
	}
}

// NewServer builds the pipeline and assembles a server instance.
func NewServer(config Config) (*Server, error) {
	cfg := config.PipelineConfig

	nb := pipeline.NewBuilder().WithModelsDir(cfg.ModelsDir).WithOutputDir(cfg.OutputDir)
	nb = nb.WithCropConfidence(cfg.CropConfidence)
	nb = nb.WithRecognitionConfidence(cfg.RecognitionConfidence)
	nb = nb.WithExpandRatio(cfg.Rectify.ExpandRatio)
	nb = nb.WithTargetAspect(cfg.Rectify.TargetAspect)
	nb = nb.WithDeskew(cfg.Rectify.Deskew)
	nb = nb.WithWorkers(cfg.Extract.Workers)
	nb = nb.WithThreads(cfg.CornerDetector.NumThreads)
	nb = nb.WithGPU(cfg.CornerDetector.GPU.Enabled)

	pl, err := nb.Build()
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	store, err := history.NewStore()
	if err != nil {
		_ = pl.Close()
		return nil, fmt.Errorf("init history store: %w", err)
	}

	var limiter *RateLimiter
	if config.RatePerMinute > 0 || config.DailyDataMB > 0 {
		limiter = NewRateLimiter(config.RatePerMinute, config.DailyDataMB*1024*1024)
	}

	return &Server{
		pipeline:        pl,
		store:           store,
		corsOrigin:      config.CORSOrigin,
		maxUploadMB:     config.MaxUploadMB,
		timeoutSec:      config.TimeoutSec,
		enableWebSocket: config.EnableWebSocket,
		rateLimiter:     limiter,
	}, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("POST /api/ocr", s.corsMiddleware(s.rateLimitMiddleware(s.ocrUploadHandler)))
	mux.HandleFunc("GET /api/history", s.corsMiddleware(s.historyListHandler))
	mux.HandleFunc("GET /api/history/{id}", s.corsMiddleware(s.historyGetHandler))
	mux.HandleFunc("DELETE /api/history/{id}", s.corsMiddleware(s.historyDeleteHandler))
	mux.HandleFunc("GET /api/export/{format}", s.corsMiddleware(s.exportHandler))
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.enableWebSocket {
		mux.HandleFunc("GET /api/ocr/ws", s.ocrWebSocketHandler)
	}
	// Preflight for the API surface.
	mux.HandleFunc("OPTIONS /api/", s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))
}

// HTTPServer returns a configured http.Server listening on the config address.
func (s *Server) HTTPServer(host string, port int) *http.Server {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	timeout := time.Duration(s.timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       2 * timeout,
	}
}
