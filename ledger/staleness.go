package ledger

import (
	"fmt"
	"os"
	"time"
)

// Cadence is the update rhythm of a feature's source data; it determines
// how old a trained artifact may get before retraining.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// DefaultThresholds is the maximum artifact age, in days, per cadence.
// Slower-moving data tolerates older artifacts.
var DefaultThresholds = map[Cadence]int{
	CadenceDaily:   90,
	CadenceWeekly:  180,
	CadenceMonthly: 365,
}

// DefaultCoreThresholdDays is the age limit for the core feature artifact.
// The core feeds every downstream model, so it refreshes far more often.
const DefaultCoreThresholdDays = 30

// Verdict is the staleness judgement for one artifact.
type Verdict struct {
	// Exists reports whether a usable trained artifact is present: an
	// active completed version whose files all exist.
	Exists bool

	// AgeDays is the artifact's age in whole days. Meaningless when the
	// artifact does not exist.
	AgeDays int

	// NeedsTraining is true when the artifact is missing or older than
	// its threshold.
	NeedsTraining bool

	// Reason explains the verdict in one line.
	Reason string
}

// Checker judges artifact staleness against the ledger and the filesystem.
// The zero thresholds fall back to the defaults; Now and FileExists are
// injectable for tests.
type Checker struct {
	Ledger            *Ledger
	Thresholds        map[Cadence]int
	CoreThresholdDays int

	Now        func() time.Time
	FileExists func(path string) bool
}

// NewChecker returns a checker with default thresholds and real clock and
// filesystem probes.
func NewChecker(l *Ledger) *Checker {
	return &Checker{Ledger: l}
}

// Threshold returns the age limit in days for a cadence. Unknown cadences
// get the daily limit, the strictest of the three.
func (c *Checker) Threshold(cadence Cadence) int {
	thresholds := c.Thresholds
	if thresholds == nil {
		thresholds = DefaultThresholds
	}
	if d, ok := thresholds[cadence]; ok {
		return d
	}
	return DefaultThresholds[CadenceDaily]
}

// Check judges one feature artifact.
//
// An artifact with no active completed version is missing. An artifact
// whose active version lists files that are not all present is also
// missing, never merely stale: a half-materialized artifact cannot be
// used, whatever its age. Only a fully present artifact gets an age
// comparison, and an artifact exactly at its threshold is still fresh.
func (c *Checker) Check(artifact string, cadence Cadence) (Verdict, error) {
	return c.check(artifact, c.Threshold(cadence))
}

// CheckCore judges the core feature artifact against its tighter limit.
func (c *Checker) CheckCore(artifact string) (Verdict, error) {
	days := c.CoreThresholdDays
	if days == 0 {
		days = DefaultCoreThresholdDays
	}
	return c.check(artifact, days)
}

func (c *Checker) check(artifact string, thresholdDays int) (Verdict, error) {
	e, err := c.Ledger.Entry(artifact)
	if err != nil {
		return Verdict{}, err
	}

	active, ok := e.Active()
	if !ok {
		return Verdict{
			NeedsTraining: true,
			Reason:        fmt.Sprintf("%s: no completed version", artifact),
		}, nil
	}

	for _, f := range active.Files {
		if !c.fileExists(f) {
			return Verdict{
				NeedsTraining: true,
				Reason:        fmt.Sprintf("%s: version %d file missing: %s", artifact, active.Version, f),
			}, nil
		}
	}

	age := int(c.now().Sub(active.CreatedAt).Hours() / 24)
	if age > thresholdDays {
		return Verdict{
			Exists:        true,
			AgeDays:       age,
			NeedsTraining: true,
			Reason:        fmt.Sprintf("%s: version %d is %d days old (limit %d)", artifact, active.Version, age, thresholdDays),
		}, nil
	}

	return Verdict{
		Exists:  true,
		AgeDays: age,
		Reason:  fmt.Sprintf("%s: version %d is %d days old, within limit %d", artifact, active.Version, age, thresholdDays),
	}, nil
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Checker) fileExists(path string) bool {
	if c.FileExists != nil {
		return c.FileExists(path)
	}
	_, err := os.Stat(path)
	return err == nil
}
