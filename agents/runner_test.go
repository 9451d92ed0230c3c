package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStageNoCommandConfigured(t *testing.T) {
	r := &CommandRunner{LogsRoot: t.TempDir(), Log: zerolog.Nop()}

	_, err := r.RunStage(context.Background(), "fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no command configured for stage "fetch"`)
}

func TestRunStageReadsResultFile(t *testing.T) {
	logs := t.TempDir()
	statusDir := filepath.Join(logs, "status")
	require.NoError(t, os.MkdirAll(statusDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(statusDir, "fetch.json"), []byte(`{
		"detail": {"rows": 42},
		"metrics": {"coverage": 0.97},
		"files": ["data/daily/vix.csv"]
	}`), 0o644))

	r := &CommandRunner{
		LogsRoot: logs,
		Commands: map[string][]string{"fetch": {"true"}},
		Log:      zerolog.Nop(),
	}

	res, err := r.RunStage(context.Background(), "fetch")
	require.NoError(t, err)

	assert.Equal(t, float64(42), res.Detail["rows"])
	assert.InDelta(t, 0.97, res.Metrics["coverage"], 1e-9)
	assert.Equal(t, []string{"data/daily/vix.csv"}, res.Files)

	_, err = os.Stat(filepath.Join(logs, "fetch", "agent.log"))
	assert.NoError(t, err, "agent output is captured per stage")
}

func TestRunStageMissingResultFileIsEmpty(t *testing.T) {
	r := &CommandRunner{
		LogsRoot: t.TempDir(),
		Commands: map[string][]string{"alerts": {"true"}},
		Log:      zerolog.Nop(),
	}

	res, err := r.RunStage(context.Background(), "alerts")
	require.NoError(t, err)
	assert.Empty(t, res.Detail)
	assert.Empty(t, res.Files)
}

func TestRunStageCommandFailure(t *testing.T) {
	r := &CommandRunner{
		LogsRoot: t.TempDir(),
		Commands: map[string][]string{"fetch": {"false"}},
		Log:      zerolog.Nop(),
	}

	_, err := r.RunStage(context.Background(), "fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `agent for stage "fetch"`)
}
