// Package feeder supplies scenario data rows, one per scenario run, from CSV
// or JSON files shared by every virtual user of a bench.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Record is one data row keyed by column name.
type Record map[string]string

// Feeder hands out records in file order. Implementations are safe for
// concurrent use.
type Feeder interface {
	Next(ctx context.Context) (Record, error)
	Len() int
	Close() error
}

// ErrExhausted is returned once every record was handed out and the feeder
// does not rewind.
var ErrExhausted = errors.New("feeder exhausted: no more records available")

// Open loads path according to its extension, .csv or .json.
func Open(path string, rewind bool) (*Dataset, error) {
	var (
		records []Record
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = loadCSV(path)
	case ".json":
		records, err = loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported data file %q: expected .csv or .json", path)
	}
	if err != nil {
		return nil, err
	}
	return &Dataset{records: records, rewind: rewind}, nil
}

// Dataset is an in-memory Feeder.
type Dataset struct {
	mu      sync.Mutex
	records []Record
	index   int
	rewind  bool
}

// NewDataset returns a Feeder over records.
func NewDataset(records []Record, rewind bool) *Dataset {
	return &Dataset{records: records, rewind: rewind}
}

// Next returns the next record, starting over after the last one when the
// dataset rewinds.
func (d *Dataset) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.index >= len(d.records) {
		if !d.rewind || len(d.records) == 0 {
			return nil, ErrExhausted
		}
		d.index = 0
	}
	rec := d.records[d.index]
	d.index++
	return rec, nil
}

func (d *Dataset) Len() int { return len(d.records) }

func (d *Dataset) Close() error { return nil }
