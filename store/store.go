package store

import (
	"context"
	"errors"
	"time"

	"github.com/regimelab/regimeflow/ledger"
)

// ErrNotFound is returned by Load and LatestTimestamp when no data has ever
// been saved under the given name and cadence.
var ErrNotFound = errors.New("store: dataset not found")

// Store persists feature frames keyed by name and cadence.
//
// Save with incremental=true appends only rows strictly newer than the
// stored data's latest timestamp; duplicate and older rows are dropped
// silently. Save with incremental=false replaces the dataset.
type Store interface {
	Save(ctx context.Context, name string, cadence ledger.Cadence, f *Frame, incremental bool) error
	Load(ctx context.Context, name string, cadence ledger.Cadence) (*Frame, error)
	LatestTimestamp(ctx context.Context, name string, cadence ledger.Cadence) (time.Time, error)
	Exists(ctx context.Context, name string, cadence ledger.Cadence) (bool, error)
}
