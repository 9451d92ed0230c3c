package trainer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CommitResult classifies a commit attempt.
type CommitResult int

const (
	// CommitOk: the files are durably stored.
	CommitOk CommitResult = iota

	// CommitConflict: concurrent writers raced us; reconcile and retry.
	CommitConflict

	// CommitFailure: a transient fault (network, IO); retry after backoff.
	CommitFailure
)

func (r CommitResult) String() string {
	switch r {
	case CommitOk:
		return "ok"
	case CommitConflict:
		return "conflict"
	case CommitFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Committer makes a unit's artifact files durable. Commit reports whether
// the files are safely stored; on CommitConflict the loop calls Reconcile
// to refresh local state before the next attempt.
type Committer interface {
	Commit(ctx context.Context, message string, files []string) (CommitResult, error)
	Reconcile(ctx context.Context) error
}

// DirCommitter copies files into a destination directory. It is the local
// backend: there are no concurrent writers, so it never reports a conflict.
type DirCommitter struct {
	Dest string
}

// Commit copies each file under Dest, preserving the base name. Copies go
// through a temp file and rename so a partial copy is never visible.
func (d *DirCommitter) Commit(_ context.Context, _ string, files []string) (CommitResult, error) {
	if err := os.MkdirAll(d.Dest, 0o755); err != nil {
		return CommitFailure, fmt.Errorf("create commit directory: %w", err)
	}
	for _, file := range files {
		if err := d.copyFile(file); err != nil {
			return CommitFailure, err
		}
	}
	return CommitOk, nil
}

// Reconcile is a no-op for the directory backend.
func (d *DirCommitter) Reconcile(context.Context) error { return nil }

func (d *DirCommitter) copyFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", src, err)
	}
	defer in.Close()

	dst := filepath.Join(d.Dest, filepath.Base(src))
	tmp, err := os.CreateTemp(d.Dest, filepath.Base(src)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp copy of %s: %w", src, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy artifact %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp copy of %s: %w", src, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("publish artifact %s: %w", src, err)
	}
	return nil
}
