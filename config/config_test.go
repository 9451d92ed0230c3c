package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regimelab/regimeflow/ledger"
)

const sampleConfig = `
cadences:
  daily:
    features: [vix, credit_spread]
  weekly:
    threshold_days: 120
    features: [yield_curve]
core:
  artifact: core_features
  threshold_days: 20
checkpoints: true
agents:
  fetch: [python, scripts/fetch.py]
  train: [python, scripts/train.py]
output_dir: data
ledger_dir: versions
storage: local
commit:
  backend: dir
  dir: artifacts
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regimeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Checkpoints)
	assert.Equal(t, "core_features", cfg.Core.Artifact)
	assert.Equal(t, "data", cfg.OutputDir)
	assert.Equal(t, []string{"python", "scripts/fetch.py"}, cfg.Agents["fetch"])
}

func TestFeaturesSortedByCadenceThenName(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []Feature{
		{Name: "credit_spread", Cadence: ledger.CadenceDaily},
		{Name: "vix", Cadence: ledger.CadenceDaily},
		{Name: "yield_curve", Cadence: ledger.CadenceWeekly},
	}, cfg.Features())
}

func TestThresholdOverridesOnTopOfDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	th := cfg.Thresholds()
	assert.Equal(t, 90, th[ledger.CadenceDaily], "defaults survive when not overridden")
	assert.Equal(t, 120, th[ledger.CadenceWeekly], "file overrides win")
	assert.Equal(t, 365, th[ledger.CadenceMonthly])
}

func TestCheckerFromConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	led, err := ledger.Open(t.TempDir())
	require.NoError(t, err)

	c := cfg.Checker(led)
	assert.Equal(t, 120, c.Threshold(ledger.CadenceWeekly))
	assert.Equal(t, 20, c.CoreThresholdDays)
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
cadences:
  daily:
    features: [vix]
core:
  artifact: core_features
`))
	require.NoError(t, err)

	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, "ledger", cfg.LedgerDir)
	assert.Equal(t, "local", cfg.Storage)
	assert.Equal(t, "dir", cfg.Commit.Backend)
	assert.Equal(t, "artifacts", cfg.Commit.Dir)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "unknown cadence",
			body: `
cadences:
  hourly:
    features: [vix]
core:
  artifact: core_features
`,
			wantErr: `unknown cadence "hourly"`,
		},
		{
			name: "no features",
			body: `
cadences: {}
core:
  artifact: core_features
`,
			wantErr: "no features configured",
		},
		{
			name: "missing core artifact",
			body: `
cadences:
  daily:
    features: [vix]
`,
			wantErr: "core.artifact is required",
		},
		{
			name: "warehouse without url",
			body: `
cadences:
  daily:
    features: [vix]
core:
  artifact: core_features
storage: warehouse
`,
			wantErr: "warehouse.url is required",
		},
		{
			name: "unknown storage",
			body: `
cadences:
  daily:
    features: [vix]
core:
  artifact: core_features
storage: tape
`,
			wantErr: `unknown storage backend "tape"`,
		},
		{
			name: "object commit without endpoint",
			body: `
cadences:
  daily:
    features: [vix]
core:
  artifact: core_features
commit:
  backend: object
`,
			wantErr: "commit.endpoint and commit.bucket are required",
		},
		{
			name: "unknown commit backend",
			body: `
cadences:
  daily:
    features: [vix]
core:
  artifact: core_features
commit:
  backend: carrier_pigeon
`,
			wantErr: `unknown commit backend "carrier_pigeon"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
