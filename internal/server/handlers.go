package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/phandanh111/ocr-cccd-card/internal/extract"
	"github.com/phandanh111/ocr-cccd-card/internal/pipeline"
	"github.com/phandanh111/ocr-cccd-card/internal/rectify"
	"github.com/phandanh111/ocr-cccd-card/internal/utils"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count()
	if err != nil {
		s.writeError(w, "history store unavailable", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: HealthData{
			Status:  "healthy",
			Records: count,
			Time:    time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// ocrUploadHandler accepts a multipart card photo, runs the pipeline, and
// stores the result in history.
func (s *Server) ocrUploadHandler(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "too large") {
			s.writeError(w, "file too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeError(w, "failed to parse form data", http.StatusBadRequest)
		}
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "no file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if !utils.IsSupportedImage(header.Filename) {
		s.writeError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(header.Filename)),
			http.StatusBadRequest)
		return
	}
	if header.Size > maxBytes {
		s.writeError(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	opts := pipeline.Options{InputFilename: header.Filename}
	if ok := parseConfidence(r.FormValue("crop_conf"), &opts.CropConfidence); !ok {
		s.writeError(w, "invalid crop_conf", http.StatusBadRequest)
		return
	}
	if ok := parseConfidence(r.FormValue("ocr_conf"), &opts.RecognitionConfidence); !ok {
		s.writeError(w, "invalid ocr_conf", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, "failed to read file data", http.StatusInternalServerError)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	start := time.Now()
	rec, err := s.pipeline.RunBytes(r.Context(), data, opts)
	if err != nil {
		ocrRequestsTotal.WithLabelValues("upload", "error").Inc()
		s.writeError(w, err.Error(), processingStatus(err))
		return
	}

	if err := s.store.Save(rec); err != nil {
		slog.Error("failed to save record to history", "record_id", rec.ID, "error", err)
	}

	ocrRequestsTotal.WithLabelValues("upload", "success").Inc()
	ocrProcessingDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	ocrFieldsExtracted.WithLabelValues("upload").Observe(float64(len(rec.Fields)))

	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: recordData(rec)})
}

// processingStatus maps pipeline errors to HTTP status codes.
func processingStatus(err error) int {
	var decodeErr *utils.DecodeError
	var geomErr *rectify.GeometryError
	var modelErr *extract.ModelUnavailableError
	switch {
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest
	case errors.As(err, &geomErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &modelErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseConfidence parses an optional confidence form value into dst.
// Empty input leaves dst untouched. Returns false on a malformed or
// out-of-range value.
func parseConfidence(val string, dst *float64) bool {
	if val == "" {
		return true
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 || f > 1 {
		return false
	}
	*dst = f
	return true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, Response{Success: false, Error: message})
}
