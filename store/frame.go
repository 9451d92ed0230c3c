// Package store persists feature data frames. It offers a local CSV tree
// for development and a SQL warehouse for deployments, behind one Store
// interface with incremental-append semantics.
package store

import (
	"fmt"
	"sort"
	"time"
)

// Frame is a date-indexed table of float columns, the interchange shape
// between fetch, feature engineering and the trainer.
type Frame struct {
	Columns []string
	Dates   []time.Time
	Rows    [][]float64
}

// NewFrame creates an empty frame with the given columns.
func NewFrame(columns ...string) *Frame {
	return &Frame{Columns: columns}
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Dates) }

// Append adds one row. The value count must match the column count.
func (f *Frame) Append(date time.Time, values ...float64) error {
	if len(values) != len(f.Columns) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(values), len(f.Columns))
	}
	f.Dates = append(f.Dates, date)
	f.Rows = append(f.Rows, values)
	return nil
}

// LastDate returns the most recent date in the frame. Rows are expected in
// chronological order; call Sort first if the origin does not guarantee it.
func (f *Frame) LastDate() (time.Time, bool) {
	if f.Len() == 0 {
		return time.Time{}, false
	}
	return f.Dates[f.Len()-1], true
}

// After returns a new frame holding only rows strictly newer than t. The
// returned frame shares row slices with the original.
func (f *Frame) After(t time.Time) *Frame {
	out := &Frame{Columns: f.Columns}
	for i, d := range f.Dates {
		if d.After(t) {
			out.Dates = append(out.Dates, d)
			out.Rows = append(out.Rows, f.Rows[i])
		}
	}
	return out
}

// Sort orders rows chronologically in place.
func (f *Frame) Sort() {
	idx := make([]int, f.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return f.Dates[idx[a]].Before(f.Dates[idx[b]])
	})

	dates := make([]time.Time, f.Len())
	rows := make([][]float64, f.Len())
	for i, j := range idx {
		dates[i] = f.Dates[j]
		rows[i] = f.Rows[j]
	}
	f.Dates = dates
	f.Rows = rows
}
