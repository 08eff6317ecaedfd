// Package history keeps processed card records in an in-memory indexed
// store with newest-first pagination.
package history

import (
	"errors"
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/phandanh111/ocr-cccd-card/internal/extract"
	"github.com/phandanh111/ocr-cccd-card/internal/pipeline"
)

// ErrNotFound is returned when no record exists for the requested ID.
var ErrNotFound = errors.New("record not found")

const tableRecords = "records"

// entry is the stored row. CreatedAtNano duplicates the record timestamp as
// an integer so memdb can index chronological order.
type entry struct {
	ID            string
	CreatedAtNano int64
	Record        *pipeline.Record
}

// Page is one page of history, newest records first.
type Page struct {
	Records    []*pipeline.Record `json:"records"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	TotalPages int                `json:"total_pages"`
}

// Store is a concurrency-safe record store.
type Store struct {
	db *memdb.MemDB
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableRecords: {
				Name: tableRecords,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"created_at": {
						Name:    "created_at",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "CreatedAtNano"},
					},
				},
			},
		},
	}
}

// NewStore creates an empty store.
func NewStore() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("init history store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts or replaces a record by ID.
func (s *Store) Save(rec *pipeline.Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("record must have an ID")
	}
	stored := cloneRecord(rec)
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableRecords, &entry{
		ID:            stored.ID,
		CreatedAtNano: stored.CreatedAt.UnixNano(),
		Record:        stored,
	}); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	txn.Commit()
	return nil
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (*pipeline.Record, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableRecords, "id", id)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return cloneRecord(raw.(*entry).Record), nil
}

// Delete removes the record with the given ID.
func (s *Store) Delete(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableRecords, "id", id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if raw == nil {
		return ErrNotFound
	}
	if err := txn.Delete(tableRecords, raw); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	txn.Commit()
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableRecords, "id")
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n, nil
}

// List returns one page of records, newest first. page starts at 1; out of
// range pages return an empty record list with correct totals.
func (s *Store) List(page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}

	all, err := s.all()
	if err != nil {
		return nil, err
	}

	total := len(all)
	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return &Page{
		Records:    all[start:end],
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}, nil
}

// All returns every record, newest first.
func (s *Store) All() ([]*pipeline.Record, error) {
	return s.all()
}

func (s *Store) all() ([]*pipeline.Record, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.GetReverse(tableRecords, "created_at")
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var out []*pipeline.Record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, cloneRecord(obj.(*entry).Record))
	}
	return out, nil
}

// cloneRecord copies a record so callers and the store never share slices.
func cloneRecord(rec *pipeline.Record) *pipeline.Record {
	cp := *rec
	if rec.Fields != nil {
		cp.Fields = append([]extract.FieldResult(nil), rec.Fields...)
	}
	return &cp
}
