package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChecker(t *testing.T, files map[string]bool) *Checker {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	return &Checker{
		Ledger: l,
		Now:    func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) },
		FileExists: func(path string) bool {
			return files[path]
		},
	}
}

func markCompletedDaysAgo(t *testing.T, c *Checker, artifact string, days int, files ...string) {
	t.Helper()
	require.NoError(t, c.Ledger.Mark(artifact, Version{
		Version:   1,
		CreatedAt: c.Now().AddDate(0, 0, -days),
		Status:    StatusCompleted,
		Files:     files,
	}))
}

func TestCheckMissingArtifact(t *testing.T) {
	c := newTestChecker(t, nil)

	v, err := c.Check("vix", CadenceDaily)
	require.NoError(t, err)

	assert.False(t, v.Exists)
	assert.True(t, v.NeedsTraining)
	assert.Contains(t, v.Reason, "no completed version")
}

func TestCheckTrainingOnlyVersionIsMissing(t *testing.T) {
	c := newTestChecker(t, nil)
	require.NoError(t, c.Ledger.Mark("vix", Version{
		Version:   1,
		CreatedAt: c.Now(),
		Status:    StatusTraining,
	}))

	v, err := c.Check("vix", CadenceDaily)
	require.NoError(t, err)
	assert.False(t, v.Exists, "a version stuck in training is not usable")
	assert.True(t, v.NeedsTraining)
}

func TestCheckThresholdBoundary(t *testing.T) {
	tests := []struct {
		name    string
		ageDays int
		stale   bool
	}{
		{"one day under", 89, false},
		{"exactly at threshold", 90, false},
		{"one day over", 91, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker(t, map[string]bool{"vix_v1.bin": true})
			markCompletedDaysAgo(t, c, "vix", tt.ageDays, "vix_v1.bin")

			v, err := c.Check("vix", CadenceDaily)
			require.NoError(t, err)

			assert.True(t, v.Exists)
			assert.Equal(t, tt.ageDays, v.AgeDays)
			assert.Equal(t, tt.stale, v.NeedsTraining)
		})
	}
}

func TestCheckCadenceThresholds(t *testing.T) {
	c := newTestChecker(t, map[string]bool{"a.bin": true})
	markCompletedDaysAgo(t, c, "x", 200, "a.bin")

	weekly, err := c.Check("x", CadenceWeekly)
	require.NoError(t, err)
	assert.True(t, weekly.NeedsTraining, "200 days exceeds the weekly limit of 180")

	monthly, err := c.Check("x", CadenceMonthly)
	require.NoError(t, err)
	assert.False(t, monthly.NeedsTraining, "200 days is within the monthly limit of 365")
}

func TestCheckUnknownCadenceUsesStrictestLimit(t *testing.T) {
	c := newTestChecker(t, map[string]bool{"a.bin": true})
	markCompletedDaysAgo(t, c, "x", 120, "a.bin")

	v, err := c.Check("x", Cadence("hourly"))
	require.NoError(t, err)
	assert.True(t, v.NeedsTraining, "unknown cadences fall back to the daily limit")
}

func TestCheckCompositeWithMissingFileIsMissing(t *testing.T) {
	c := newTestChecker(t, map[string]bool{
		"model.bin":  true,
		"scaler.bin": false,
	})
	markCompletedDaysAgo(t, c, "vix", 5, "model.bin", "scaler.bin")

	v, err := c.Check("vix", CadenceDaily)
	require.NoError(t, err)

	assert.False(t, v.Exists, "an artifact missing any file is missing, never merely stale")
	assert.True(t, v.NeedsTraining)
	assert.Contains(t, v.Reason, "scaler.bin")
}

func TestCheckCoreUsesTighterLimit(t *testing.T) {
	c := newTestChecker(t, map[string]bool{"core.bin": true})
	markCompletedDaysAgo(t, c, "core_features", 45, "core.bin")

	v, err := c.CheckCore("core_features")
	require.NoError(t, err)
	assert.True(t, v.NeedsTraining, "45 days exceeds the core limit of 30")

	asFeature, err := c.Check("core_features", CadenceDaily)
	require.NoError(t, err)
	assert.False(t, asFeature.NeedsTraining, "the same age passes the daily feature limit")
}

func TestThresholdOverrides(t *testing.T) {
	c := newTestChecker(t, map[string]bool{"a.bin": true})
	c.Thresholds = map[Cadence]int{CadenceDaily: 10}
	c.CoreThresholdDays = 5
	markCompletedDaysAgo(t, c, "x", 12, "a.bin")

	v, err := c.Check("x", CadenceDaily)
	require.NoError(t, err)
	assert.True(t, v.NeedsTraining)

	core, err := c.CheckCore("x")
	require.NoError(t, err)
	assert.True(t, core.NeedsTraining)
}
