package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/phandanh111/ocr-cccd-card/internal/extract"
	"github.com/phandanh111/ocr-cccd-card/internal/pipeline"
)

// ExportJSON writes every record as a JSON array, newest first.
func (s *Store) ExportJSON(w io.Writer) error {
	records, err := s.All()
	if err != nil {
		return err
	}
	if records == nil {
		records = []*pipeline.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// ExportCSV writes every record as CSV, newest first. Each vocabulary field
// gets a text column and a confidence column.
func (s *Store) ExportCSV(w io.Writer) error {
	records, err := s.All()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"id", "created_at", "input_filename", "runtime_ms"}
	for _, f := range extract.Vocabulary {
		header = append(header, string(f), string(f)+"_confidence")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		byName := make(map[extract.FieldName]extract.FieldResult, len(rec.Fields))
		for _, f := range rec.Fields {
			byName[f.Name] = f
		}
		row := []string{
			rec.ID,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			rec.InputFilename,
			strconv.FormatInt(rec.RuntimeMS, 10),
		}
		for _, name := range extract.Vocabulary {
			f, ok := byName[name]
			if !ok {
				row = append(row, "", "")
				continue
			}
			row = append(row, f.Text, strconv.FormatFloat(f.Confidence, 'f', 3, 64))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
