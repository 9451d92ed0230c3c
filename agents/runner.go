// Package agents shells out to the external model programs that do the
// numerical work: fetching data, engineering features, clustering, training
// and inference. Each stage maps to a configured command; results come back
// through JSON status files the command writes under the run's log tree.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
)

// CommandRunner executes configured stage commands.
type CommandRunner struct {
	// Dir is the working directory for every command.
	Dir string

	// LogsRoot receives per-stage agent output and the status files the
	// commands write back.
	LogsRoot string

	// Env entries (KEY=VALUE) appended to the inherited environment.
	Env []string

	// Commands maps a stage name to its argv.
	Commands map[string][]string

	Log zerolog.Logger
}

// Result is the JSON a stage command writes to report back, at
// <logsRoot>/status/<stage>.json.
type Result struct {
	Detail  map[string]any     `json:"detail,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Files   []string           `json:"files,omitempty"`
}

// RunStage executes the command configured for stage, with extra KEY=VALUE
// env entries, streaming its combined output to <logsRoot>/<stage>/agent.log.
// After the command exits it reads the stage's status file; a stage that
// writes none yields an empty result.
func (r *CommandRunner) RunStage(ctx context.Context, stage string, extraEnv ...string) (*Result, error) {
	argv, ok := r.Commands[stage]
	if !ok || len(argv) == 0 {
		return nil, fmt.Errorf("no command configured for stage %q", stage)
	}

	logDir := filepath.Join(r.LogsRoot, stage)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create agent log directory: %w", err)
	}
	logFile, err := os.Create(filepath.Join(logDir, "agent.log"))
	if err != nil {
		return nil, fmt.Errorf("create agent log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env, "REGIMEFLOW_LOGS="+r.LogsRoot, "REGIMEFLOW_STAGE="+stage)
	cmd.Env = append(cmd.Env, extraEnv...)

	r.Log.Info().Str("stage", stage).Strs("argv", argv).Msg("agent starting")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("agent for stage %q: %w", stage, err)
	}

	return r.readResult(stage)
}

func (r *CommandRunner) readResult(stage string) (*Result, error) {
	path := filepath.Join(r.LogsRoot, "status", stage+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent result for %q: %w", stage, err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse agent result for %q: %w", stage, err)
	}
	return &res, nil
}
