package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/phandanh111/ocr-cccd-card/internal/history"
)

// historyListHandler returns a newest-first page of processed records.
func (s *Server) historyListHandler(w http.ResponseWriter, r *http.Request) {
	page := parsePositiveInt(r.URL.Query().Get("page"), 1)
	perPage := parsePositiveInt(r.URL.Query().Get("per_page"), 10)

	result, err := s.store.List(page, perPage)
	if err != nil {
		s.writeError(w, "failed to list history", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: result})
}

// historyGetHandler returns a single record by ID.
func (s *Server) historyGetHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.writeError(w, "record not found", http.StatusNotFound)
			return
		}
		s.writeError(w, "failed to load record", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: recordData(rec)})
}

// historyDeleteHandler removes a record by ID.
func (s *Server) historyDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.writeError(w, "record not found", http.StatusNotFound)
			return
		}
		s.writeError(w, "failed to delete record", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, Response{Success: true})
}

// exportHandler streams all records as a CSV or JSON attachment.
func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")
	stamp := time.Now().UTC().Format("20060102-150405")

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="cardocr-export-%s.json"`, stamp))
		if err := s.store.ExportJSON(w); err != nil {
			slog.Error("JSON export failed", "error", err)
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="cardocr-export-%s.csv"`, stamp))
		if err := s.store.ExportCSV(w); err != nil {
			slog.Error("CSV export failed", "error", err)
		}
	default:
		s.writeError(w, fmt.Sprintf("unsupported export format: %s", format), http.StatusBadRequest)
	}
}

// parsePositiveInt parses a query value, falling back when empty or invalid.
func parsePositiveInt(val string, fallback int) int {
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
