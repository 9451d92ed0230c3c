// Package workflow assembles the concrete regimeflow pipeline: the stage
// functions wrapping the external agents and the trainer loop, the graph
// that wires them per workflow, and the end-of-run summary.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/regimelab/regimeflow/agents"
	"github.com/regimelab/regimeflow/pipeline"
	"github.com/regimelab/regimeflow/store"
	"github.com/regimelab/regimeflow/trainer"
)

// Stage names, in rough execution order.
const (
	StageCleanup       pipeline.StageName = "cleanup"
	StageFetch         pipeline.StageName = "fetch"
	StageReviewFetch   pipeline.StageName = "review_fetch"
	StageEngineer      pipeline.StageName = "engineer"
	StageSelect        pipeline.StageName = "select"
	StageCluster       pipeline.StageName = "cluster"
	StageReviewCluster pipeline.StageName = "review_cluster"
	StageClassify      pipeline.StageName = "classify"
	StageForecast      pipeline.StageName = "forecast"
	StageInference     pipeline.StageName = "inference"
	StageAlerts        pipeline.StageName = "alerts"
	StageValidation    pipeline.StageName = "validation"
	StageMonitoring    pipeline.StageName = "monitoring"
)

// regimesOverride is the checkpoint parameter carrying an adjusted regime
// count back into re-clustering.
const regimesOverride = "regimes"

// StageRunner executes the external agent command behind a stage.
// *agents.CommandRunner is the production implementation.
type StageRunner interface {
	RunStage(ctx context.Context, stage string, extraEnv ...string) (*agents.Result, error)
}

func successStatus(started time.Time, detail map[string]any) pipeline.StageStatus {
	return pipeline.StageStatus{
		Success:   true,
		Elapsed:   time.Since(started),
		Timestamp: time.Now(),
		Detail:    detail,
	}
}

// agentStage runs the configured external command for a stage and records
// its reported detail.
func agentStage(runner StageRunner, name pipeline.StageName, extraEnv func(pipeline.State) []string) pipeline.StageFunc {
	return func(ctx context.Context, s pipeline.State) (pipeline.State, error) {
		started := time.Now()
		var env []string
		if extraEnv != nil {
			env = extraEnv(s)
		}
		res, err := runner.RunStage(ctx, string(name), env...)
		if err != nil {
			return s, err
		}
		return s.Mutate().SetStatus(name, successStatus(started, res.Detail)).Done(), nil
	}
}

// cleanupStage prunes leftover temp files under the output tree. It never
// fails the run; trouble is reported through the status detail.
func cleanupStage(outputDir string) pipeline.StageFunc {
	return func(_ context.Context, s pipeline.State) (pipeline.State, error) {
		started := time.Now()
		removed := 0
		matches, _ := filepath.Glob(filepath.Join(outputDir, "*", "*.tmp"))
		for _, m := range matches {
			if os.Remove(m) == nil {
				removed++
			}
		}
		detail := map[string]any{"removed": removed}
		return s.Mutate().SetStatus(StageCleanup, successStatus(started, detail)).Done(), nil
	}
}

// fetchStage runs the fetch agent and then verifies each expected dataset
// actually landed in the feature store, recording the latest timestamp per
// dataset. A dataset the agent claims to have fetched but that the store
// cannot see fails the stage.
func fetchStage(runner StageRunner, st store.Store, datasets []trainer.Unit) pipeline.StageFunc {
	return func(ctx context.Context, s pipeline.State) (pipeline.State, error) {
		started := time.Now()
		res, err := runner.RunStage(ctx, string(StageFetch))
		if err != nil {
			return s, err
		}

		detail := map[string]any{}
		for k, v := range res.Detail {
			detail[k] = v
		}
		for _, d := range datasets {
			ts, err := st.LatestTimestamp(ctx, d.Feature, d.Cadence)
			if err != nil {
				return s, fmt.Errorf("dataset %s missing after fetch: %w", d, err)
			}
			detail["latest_"+d.Feature] = ts.Format("2006-01-02")
		}
		return s.Mutate().SetStatus(StageFetch, successStatus(started, detail)).Done(), nil
	}
}

// engineerEnv forwards the core-retrain request to the feature agent.
func engineerEnv(s pipeline.State) []string {
	if s.RetrainCore {
		return []string{"REGIMEFLOW_RETRAIN_CORE=1"}
	}
	return nil
}

// clusterStage re-runs clustering, honouring a regime-count override from
// the review checkpoint and clearing any pending retry request.
func clusterStage(runner StageRunner) pipeline.StageFunc {
	return func(ctx context.Context, s pipeline.State) (pipeline.State, error) {
		started := time.Now()
		var env []string
		if v, ok := s.Override(regimesOverride); ok {
			env = append(env, "REGIMEFLOW_REGIMES="+v)
		}
		res, err := runner.RunStage(ctx, string(StageCluster), env...)
		if err != nil {
			return s, err
		}
		return s.Mutate().
			ClearRetryStage().
			SetStatus(StageCluster, successStatus(started, res.Detail)).
			Done(), nil
	}
}

// reviewClusterStage wraps the cluster checkpoint: a modify decision that
// changes the regime count requests one re-clustering pass.
func reviewClusterStage(reviewer pipeline.Reviewer) pipeline.StageFunc {
	inner := pipeline.Checkpoint(StageReviewCluster, StageCluster, reviewer)
	return func(ctx context.Context, s pipeline.State) (pipeline.State, error) {
		before, _ := s.Override(regimesOverride)
		next, err := inner(ctx, s)
		if err != nil {
			return next, err
		}
		if after, ok := next.Override(regimesOverride); ok && after != before {
			next = next.Mutate().SetRetryStage(StageCluster).Done()
		}
		return next, nil
	}
}

// forecastStage drives the incremental trainer loop over the configured
// units, narrowed to the state's selective targets when set. Unit failures
// do not fail the stage; they land in the run's error list and the report
// detail.
func forecastStage(loop *trainer.Loop, units []trainer.Unit) pipeline.StageFunc {
	return func(ctx context.Context, s pipeline.State) (pipeline.State, error) {
		started := time.Now()

		selected := units
		if s.SelectiveTargets != nil {
			selected = nil
			for _, u := range units {
				if slices.Contains(s.SelectiveTargets, u.Feature) {
					selected = append(selected, u)
				}
			}
		}

		report, err := loop.Run(ctx, selected)
		if err != nil {
			return s, err
		}

		detail := map[string]any{
			"completed":  report.Completed,
			"skipped":    report.Skipped,
			"failed":     report.Failed,
			"incomplete": report.Incomplete,
		}
		m := s.Mutate().SetStatus(StageForecast, successStatus(started, detail))
		for _, f := range report.Failed {
			m.AddErrorMessage(StageForecast, fmt.Sprintf("training failed for %s", f))
		}
		for _, f := range report.Incomplete {
			m.AddErrorMessage(StageForecast, fmt.Sprintf("artifacts for %s trained but not committed", f))
		}
		return m.Done(), nil
	}
}

// inferenceStage runs the inference agent and records the forecast artifact
// it produced.
func inferenceStage(runner StageRunner) pipeline.StageFunc {
	return func(ctx context.Context, s pipeline.State) (pipeline.State, error) {
		started := time.Now()
		res, err := runner.RunStage(ctx, string(StageInference))
		if err != nil {
			return s, err
		}
		m := s.Mutate().SetStatus(StageInference, successStatus(started, res.Detail))
		if len(res.Files) > 0 {
			m.SetArtifact(string(StageInference), res.Files[0])
		}
		return m.Done(), nil
	}
}

// driftStage wraps validation and monitoring: both report whether the live
// models have drifted enough to need retraining.
func driftStage(runner StageRunner, name pipeline.StageName) pipeline.StageFunc {
	return func(ctx context.Context, s pipeline.State) (pipeline.State, error) {
		started := time.Now()
		res, err := runner.RunStage(ctx, string(name))
		if err != nil {
			return s, err
		}
		needs, _ := res.Detail["needs_retraining"].(bool)
		return s.Mutate().
			SetNeedsRetraining(s.NeedsRetraining || needs).
			SetStatus(name, successStatus(started, res.Detail)).
			Done(), nil
	}
}

// abortStage records why the run stopped. It is the terminal stage for
// every failure path.
func abortStage() pipeline.StageFunc {
	return func(_ context.Context, s pipeline.State) (pipeline.State, error) {
		started := time.Now()
		detail := map[string]any{
			"reason": s.AbortReason,
			"errors": len(s.Errors),
		}
		return s.Mutate().SetStatus(pipeline.StageAbort, successStatus(started, detail)).Done(), nil
	}
}
