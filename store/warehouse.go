package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/regimelab/regimeflow/ledger"
)

// Warehouse persists frames in Postgres, one value per row in long format:
// (name, cadence, ts, col, value). Long format keeps the schema stable as
// feature columns come and go.
type Warehouse struct {
	db    *sql.DB
	table string
}

// OpenWarehouse connects to Postgres via the pgx stdlib driver and pings it.
func OpenWarehouse(ctx context.Context, url, table string) (*Warehouse, error) {
	if table == "" {
		table = "feature_values"
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return &Warehouse{db: db, table: table}, nil
}

// Close releases the connection pool.
func (w *Warehouse) Close() error { return w.db.Close() }

// EnsureSchema creates the value table and its lookup index if absent.
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name    TEXT             NOT NULL,
			cadence TEXT             NOT NULL,
			ts      DATE             NOT NULL,
			col     TEXT             NOT NULL,
			value   DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (name, cadence, ts, col)
		)`, w.table)
	if _, err := w.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create warehouse table: %w", err)
	}

	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_lookup ON %s (name, cadence, ts)`,
		w.table, w.table)
	if _, err := w.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create warehouse index: %w", err)
	}
	return nil
}

// Exists reports whether any rows are stored for the dataset.
func (w *Warehouse) Exists(ctx context.Context, name string, cadence ledger.Cadence) (bool, error) {
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE name = $1 AND cadence = $2)`, w.table)
	var exists bool
	if err := w.db.QueryRowContext(ctx, q, name, string(cadence)).Scan(&exists); err != nil {
		return false, fmt.Errorf("probe dataset %s/%s: %w", cadence, name, err)
	}
	return exists, nil
}

// LatestTimestamp returns the newest stored date for the dataset.
func (w *Warehouse) LatestTimestamp(ctx context.Context, name string, cadence ledger.Cadence) (time.Time, error) {
	q := fmt.Sprintf(`SELECT MAX(ts) FROM %s WHERE name = $1 AND cadence = $2`, w.table)
	var ts sql.NullTime
	if err := w.db.QueryRowContext(ctx, q, name, string(cadence)).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("latest timestamp for %s/%s: %w", cadence, name, err)
	}
	if !ts.Valid {
		return time.Time{}, fmt.Errorf("%w: %s/%s", ErrNotFound, cadence, name)
	}
	return ts.Time, nil
}

// Load reads the dataset back into a frame, columns sorted by name and rows
// in chronological order.
func (w *Warehouse) Load(ctx context.Context, name string, cadence ledger.Cadence) (*Frame, error) {
	q := fmt.Sprintf(
		`SELECT ts, col, value FROM %s WHERE name = $1 AND cadence = $2 ORDER BY ts, col`,
		w.table)
	rows, err := w.db.QueryContext(ctx, q, name, string(cadence))
	if err != nil {
		return nil, fmt.Errorf("load dataset %s/%s: %w", cadence, name, err)
	}
	defer rows.Close()

	cols := make(map[string]int)
	var order []string
	cells := make(map[time.Time]map[string]float64)
	var dates []time.Time

	for rows.Next() {
		var (
			ts    time.Time
			col   string
			value float64
		)
		if err := rows.Scan(&ts, &col, &value); err != nil {
			return nil, fmt.Errorf("scan dataset %s/%s: %w", cadence, name, err)
		}
		if _, ok := cols[col]; !ok {
			cols[col] = len(order)
			order = append(order, col)
		}
		if _, ok := cells[ts]; !ok {
			cells[ts] = make(map[string]float64)
			dates = append(dates, ts)
		}
		cells[ts][col] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load dataset %s/%s: %w", cadence, name, err)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, cadence, name)
	}

	f := NewFrame(order...)
	values := make([]float64, len(order))
	for _, d := range dates {
		row := cells[d]
		for col, i := range cols {
			values[i] = row[col]
		}
		if err := f.Append(d, values...); err != nil {
			return nil, err
		}
		values = make([]float64, len(order))
	}
	return f, nil
}

// Save writes the frame in one transaction. Non-incremental saves delete the
// dataset first; incremental saves insert only rows newer than the stored
// latest date.
func (w *Warehouse) Save(ctx context.Context, name string, cadence ledger.Cadence, f *Frame, incremental bool) error {
	toWrite := f
	if incremental {
		last, err := w.LatestTimestamp(ctx, name, cadence)
		switch {
		case errors.Is(err, ErrNotFound):
			// first save, write everything
		case err != nil:
			return err
		default:
			toWrite = f.After(last)
			if toWrite.Len() == 0 {
				return nil
			}
		}
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s/%s: %w", cadence, name, err)
	}
	defer tx.Rollback()

	if !incremental {
		del := fmt.Sprintf(`DELETE FROM %s WHERE name = $1 AND cadence = $2`, w.table)
		if _, err := tx.ExecContext(ctx, del, name, string(cadence)); err != nil {
			return fmt.Errorf("clear dataset %s/%s: %w", cadence, name, err)
		}
	}

	ins := fmt.Sprintf(
		`INSERT INTO %s (name, cadence, ts, col, value) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name, cadence, ts, col) DO UPDATE SET value = EXCLUDED.value`,
		w.table)
	stmt, err := tx.PrepareContext(ctx, ins)
	if err != nil {
		return fmt.Errorf("prepare save %s/%s: %w", cadence, name, err)
	}
	defer stmt.Close()

	for i := range toWrite.Dates {
		for j, col := range toWrite.Columns {
			if _, err := stmt.ExecContext(ctx, name, string(cadence), toWrite.Dates[i], col, toWrite.Rows[i][j]); err != nil {
				return fmt.Errorf("insert %s/%s row: %w", cadence, name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s/%s: %w", cadence, name, err)
	}
	return nil
}
