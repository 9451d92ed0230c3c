package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/regimelab/regimeflow/ledger"
)

const dateLayout = "2006-01-02"

// Local stores frames as CSV files under <base>/<cadence>/<name>.csv.
// Writes go through a temp file and rename.
type Local struct {
	base string
}

// NewLocal returns a local store rooted at base.
func NewLocal(base string) *Local {
	return &Local{base: base}
}

func (l *Local) path(name string, cadence ledger.Cadence) string {
	return filepath.Join(l.base, string(cadence), name+".csv")
}

// Exists reports whether the dataset file is present.
func (l *Local) Exists(_ context.Context, name string, cadence ledger.Cadence) (bool, error) {
	_, err := os.Stat(l.path(name, cadence))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load reads the dataset into a frame.
func (l *Local) Load(_ context.Context, name string, cadence ledger.Cadence) (*Frame, error) {
	file, err := os.Open(l.path(name, cadence))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, cadence, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open dataset %s/%s: %w", cadence, name, err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset %s/%s: %w", cadence, name, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s/%s has no header", cadence, name)
	}

	header := records[0]
	if len(header) < 1 || header[0] != "date" {
		return nil, fmt.Errorf("dataset %s/%s: first column must be date", cadence, name)
	}

	f := NewFrame(header[1:]...)
	for i, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("dataset %s/%s: row %d has %d fields, want %d", cadence, name, i+1, len(rec), len(header))
		}
		date, err := time.Parse(dateLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("dataset %s/%s: row %d: %w", cadence, name, i+1, err)
		}
		values := make([]float64, len(rec)-1)
		for j, field := range rec[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("dataset %s/%s: row %d column %s: %w", cadence, name, i+1, header[j+1], err)
			}
			values[j] = v
		}
		if err := f.Append(date, values...); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// LatestTimestamp returns the newest date in the stored dataset.
func (l *Local) LatestTimestamp(ctx context.Context, name string, cadence ledger.Cadence) (time.Time, error) {
	f, err := l.Load(ctx, name, cadence)
	if err != nil {
		return time.Time{}, err
	}
	last, ok := f.LastDate()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s/%s is empty", ErrNotFound, cadence, name)
	}
	return last, nil
}

// Save writes the frame. Incremental saves append only rows newer than the
// stored latest date; a first incremental save behaves like a full one.
func (l *Local) Save(ctx context.Context, name string, cadence ledger.Cadence, f *Frame, incremental bool) error {
	merged := f

	if incremental {
		existing, err := l.Load(ctx, name, cadence)
		switch {
		case errors.Is(err, ErrNotFound):
			// nothing stored yet, fall through to a full write
		case err != nil:
			return err
		default:
			last, _ := existing.LastDate()
			fresh := f.After(last)
			if fresh.Len() == 0 {
				return nil
			}
			for i := range fresh.Dates {
				if err := existing.Append(fresh.Dates[i], fresh.Rows[i]...); err != nil {
					return err
				}
			}
			merged = existing
		}
	}

	return l.write(name, cadence, merged)
}

func (l *Local) write(name string, cadence ledger.Cadence, f *Frame) error {
	dir := filepath.Join(l.base, string(cadence))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, name+".csv.tmp")
	if err != nil {
		return fmt.Errorf("create temp dataset file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	header := append([]string{"date"}, f.Columns...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write dataset header: %w", err)
	}
	record := make([]string, len(header))
	for i := range f.Dates {
		record[0] = f.Dates[i].Format(dateLayout)
		for j, v := range f.Rows[i] {
			record[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write dataset row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dataset file: %w", err)
	}

	if err := os.Rename(tmp.Name(), l.path(name, cadence)); err != nil {
		return fmt.Errorf("publish dataset %s/%s: %w", cadence, name, err)
	}
	return nil
}
