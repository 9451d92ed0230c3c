package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/regimelab/regimeflow/ledger"
)

// Unit is one trainable feature and the cadence of its source data.
type Unit struct {
	Feature string
	Cadence ledger.Cadence
}

func (u Unit) String() string { return fmt.Sprintf("%s/%s", u.Cadence, u.Feature) }

// TrainOutput is what one training run produced.
type TrainOutput struct {
	Metrics map[string]float64
	Files   []string
}

// TrainFunc trains one unit for a claimed version number and returns the
// artifact files it wrote plus evaluation metrics.
type TrainFunc func(ctx context.Context, unit Unit, version int) (*TrainOutput, error)

// Loop drives incremental training across a set of units.
type Loop struct {
	Ledger    *ledger.Ledger
	Checker   *ledger.Checker
	Train     TrainFunc
	Committer Committer

	// Force trains every unit regardless of staleness.
	Force bool

	// CommitAttempts bounds durable-commit retries per unit (default 3).
	CommitAttempts int
	Backoff        BackoffConfig
	Sleeper        Sleeper

	Log zerolog.Logger
}

// Report summarizes one loop run. Incomplete lists units whose artifacts
// trained but could not be committed; their ledger status stays "training"
// so the next run picks them up again.
type Report struct {
	Completed  []string
	Skipped    []string
	Failed     []string
	Incomplete []string
}

// NeedsAttention reports whether anything failed or was left uncommitted.
func (r *Report) NeedsAttention() bool {
	return len(r.Failed) > 0 || len(r.Incomplete) > 0
}

// Run processes each unit in order. A unit's failure never stops the loop;
// every unit gets its chance and the report says how each one fared.
//
// Per-unit sequence: judge staleness (skip fresh units unless forced), claim
// the next version number and mark it training, train, durably commit the
// artifact files, and only then mark the version completed. The ordering is
// deliberate: a version is never marked completed before its files are
// durable, so a crash or commit exhaustion leaves it in "training" where the
// next run can see it was never finished.
func (l *Loop) Run(ctx context.Context, units []Unit) (*Report, error) {
	report := &Report{}

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := l.Log.With().Stringer("unit", unit).Logger()

		if !l.Force {
			verdict, err := l.Checker.Check(unit.Feature, unit.Cadence)
			if err != nil {
				return report, fmt.Errorf("staleness check for %s: %w", unit, err)
			}
			if !verdict.NeedsTraining {
				log.Info().Str("reason", verdict.Reason).Msg("unit fresh, skipping")
				report.Skipped = append(report.Skipped, unit.Feature)
				continue
			}
			log.Info().Str("reason", verdict.Reason).Msg("unit needs training")
		}

		version, err := l.Ledger.NextVersion(unit.Feature)
		if err != nil {
			return report, fmt.Errorf("allocate version for %s: %w", unit, err)
		}
		claimed := ledger.Version{
			Version:   version,
			CreatedAt: time.Now(),
			Status:    ledger.StatusTraining,
		}
		if err := l.Ledger.Mark(unit.Feature, claimed); err != nil {
			return report, fmt.Errorf("claim version %d for %s: %w", version, unit, err)
		}

		out, err := l.Train(ctx, unit, version)
		if err != nil {
			log.Error().Err(err).Int("version", version).Msg("training failed")
			claimed.Status = ledger.StatusFailed
			if markErr := l.Ledger.Mark(unit.Feature, claimed); markErr != nil {
				return report, fmt.Errorf("mark version %d failed for %s: %w", version, unit, markErr)
			}
			report.Failed = append(report.Failed, unit.Feature)
			continue
		}

		message := fmt.Sprintf("train %s v%d", unit.Feature, version)
		if committed := l.commitWithRetry(ctx, &log, message, out.Files); !committed {
			log.Error().Int("version", version).Msg("commit attempts exhausted, version left in training")
			report.Incomplete = append(report.Incomplete, unit.Feature)
			continue
		}

		claimed.Status = ledger.StatusCompleted
		claimed.Metrics = out.Metrics
		claimed.Files = out.Files
		if err := l.Ledger.Mark(unit.Feature, claimed); err != nil {
			return report, fmt.Errorf("mark version %d completed for %s: %w", version, unit, err)
		}

		// The ledger file itself rides along best-effort: losing it costs a
		// redundant retrain, not a wrong active version.
		meta := l.Ledger.MetadataPath(unit.Feature)
		if result, err := l.Committer.Commit(ctx, message+" metadata", []string{meta}); result != CommitOk {
			log.Warn().Err(err).Stringer("result", result).Msg("ledger metadata commit failed")
		}

		log.Info().Int("version", version).Msg("unit completed")
		report.Completed = append(report.Completed, unit.Feature)
	}

	return report, nil
}

// commitWithRetry attempts a durable commit up to CommitAttempts times with
// geometric backoff, reconciling after each conflict.
func (l *Loop) commitWithRetry(ctx context.Context, log *zerolog.Logger, message string, files []string) bool {
	attempts := l.CommitAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := l.Backoff
	if backoff.InitialDelay == 0 {
		backoff = DefaultBackoff
	}
	sleeper := l.Sleeper
	if sleeper == nil {
		sleeper = DefaultSleeper{}
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := l.Committer.Commit(ctx, message, files)
		switch result {
		case CommitOk:
			return true
		case CommitConflict:
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("commit conflict, reconciling")
			if recErr := l.Committer.Reconcile(ctx); recErr != nil {
				log.Warn().Err(recErr).Msg("reconcile failed")
			}
		case CommitFailure:
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("commit failed")
		}

		if attempt < attempts-1 {
			if err := sleeper.Sleep(ctx, backoff.DelayForAttempt(attempt)); err != nil {
				return false
			}
		}
	}
	return false
}
