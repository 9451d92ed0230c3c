package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// writeStageStatus writes a stage's status to <logsRoot>/<stage>/status.json
// so each stage's result can be inspected without replaying the run.
func writeStageStatus(logsRoot string, stage StageName, status StageStatus) error {
	dir := filepath.Join(logsRoot, string(stage))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create stage log directory: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "status.json"), data, 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

// writeManifest records run metadata at the root of the logs directory.
func writeManifest(logsRoot string, st State) error {
	if err := os.MkdirAll(logsRoot, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	manifest := map[string]any{
		"run_id":     st.RunID,
		"workflow":   st.Workflow,
		"start_time": st.StartedAt.Format(time.RFC3339),
	}
	if st.SelectiveTargets != nil {
		manifest["selective_targets"] = st.SelectiveTargets
	}
	if st.RetrainCore {
		manifest["retrain_core"] = true
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(logsRoot, "manifest.json"), data, 0o644); err != nil {
		return fmt.Errorf("write manifest file: %w", err)
	}
	return nil
}
