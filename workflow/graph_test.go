package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regimelab/regimeflow/agents"
	"github.com/regimelab/regimeflow/ledger"
	"github.com/regimelab/regimeflow/pipeline"
	"github.com/regimelab/regimeflow/store"
	"github.com/regimelab/regimeflow/trainer"
)

// fakeRunner plays the external agents: it records each invocation and
// returns per-stage scripted results.
type fakeRunner struct {
	calls   []string
	envs    map[string][]string
	results map[string]*agents.Result
	fail    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		envs:    make(map[string][]string),
		results: make(map[string]*agents.Result),
		fail:    make(map[string]error),
	}
}

func (r *fakeRunner) RunStage(_ context.Context, stage string, extraEnv ...string) (*agents.Result, error) {
	r.calls = append(r.calls, stage)
	r.envs[stage] = extraEnv
	if err := r.fail[stage]; err != nil {
		return nil, err
	}
	if res, ok := r.results[stage]; ok {
		return res, nil
	}
	return &agents.Result{}, nil
}

// fakeStore answers freshness probes without touching disk.
type fakeStore struct {
	latest time.Time
}

func (s *fakeStore) Save(context.Context, string, ledger.Cadence, *store.Frame, bool) error {
	return nil
}

func (s *fakeStore) Load(context.Context, string, ledger.Cadence) (*store.Frame, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) LatestTimestamp(context.Context, string, ledger.Cadence) (time.Time, error) {
	return s.latest, nil
}

func (s *fakeStore) Exists(context.Context, string, ledger.Cadence) (bool, error) {
	return true, nil
}

type okCommitter struct{}

func (okCommitter) Commit(context.Context, string, []string) (trainer.CommitResult, error) {
	return trainer.CommitOk, nil
}
func (okCommitter) Reconcile(context.Context) error { return nil }

type fixture struct {
	runner *fakeRunner
	deps   *Deps
	ledger *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	led, err := ledger.Open(t.TempDir())
	require.NoError(t, err)

	artifacts := t.TempDir()
	units := []trainer.Unit{{Feature: "vix", Cadence: ledger.CadenceDaily}}

	loop := &trainer.Loop{
		Ledger: led,
		Checker: &ledger.Checker{
			Ledger:     led,
			FileExists: func(string) bool { return true },
		},
		Train: func(_ context.Context, unit trainer.Unit, _ int) (*trainer.TrainOutput, error) {
			path := filepath.Join(artifacts, unit.Feature+".bin")
			if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
				return nil, err
			}
			return &trainer.TrainOutput{Files: []string{path}}, nil
		},
		Committer: okCommitter{},
		Log:       zerolog.Nop(),
	}

	runner := newFakeRunner()
	return &fixture{
		runner: runner,
		ledger: led,
		deps: &Deps{
			Runner:    runner,
			Loop:      loop,
			Units:     units,
			Store:     &fakeStore{latest: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)},
			OutputDir: t.TempDir(),
		},
	}
}

func (f *fixture) run(t *testing.T, wf pipeline.Workflow) pipeline.State {
	t.Helper()
	graph, err := Build(f.deps)
	require.NoError(t, err)

	final, err := graph.Run(context.Background(), pipeline.NewState(wf), nil)
	require.NoError(t, err)
	return final
}

func TestTrainingWorkflowStageOrder(t *testing.T) {
	f := newFixture(t)
	final := f.run(t, pipeline.WorkflowTraining)

	assert.Equal(t, []string{"fetch", "engineer", "select", "cluster", "classify"}, f.runner.calls)
	assert.True(t, final.Succeeded(StageCleanup))
	assert.True(t, final.Succeeded(StageForecast))
	assert.Empty(t, final.Errors)

	// The trainer ran inside the forecast stage.
	e, err := f.ledger.Entry("vix")
	require.NoError(t, err)
	assert.Equal(t, 1, e.ActiveVersion)

	status, _ := final.Status(StageFetch)
	assert.Equal(t, "2026-08-24", status.Detail["latest_vix"], "fetch verifies the store")
}

func TestInferenceWorkflowSkipsTraining(t *testing.T) {
	f := newFixture(t)
	final := f.run(t, pipeline.WorkflowInference)

	assert.Equal(t, []string{"fetch", "inference", "alerts", "validation", "monitoring"}, f.runner.calls)
	_, trained := final.Status(StageForecast)
	assert.False(t, trained)
	assert.Empty(t, final.Errors)
}

func TestFullWorkflowRunsBothChains(t *testing.T) {
	f := newFixture(t)
	f.runner.results[string(StageInference)] = &agents.Result{Files: []string{"out/forecast.csv"}}

	final := f.run(t, pipeline.WorkflowFull)

	assert.Equal(t, []string{
		"fetch", "engineer", "select", "cluster", "classify",
		"inference", "alerts", "validation", "monitoring",
	}, f.runner.calls)
	assert.Equal(t, "out/forecast.csv", final.Artifacts[string(StageInference)])
}

func TestCheckpointRejectionAbortsRun(t *testing.T) {
	f := newFixture(t)
	f.deps.Checkpoints = true
	f.deps.Reviewer = &scriptedReviewer{decisions: []*pipeline.Decision{{Action: pipeline.ActionReject}}}

	final := f.run(t, pipeline.WorkflowTraining)

	assert.True(t, final.AbortPipeline)
	assert.Contains(t, final.AbortReason, string(StageReviewFetch))
	assert.NotContains(t, f.runner.calls, "engineer", "rejection stops before feature engineering")
}

func TestClusterReviewModifyTriggersReclustering(t *testing.T) {
	f := newFixture(t)
	f.deps.Checkpoints = true
	f.deps.Reviewer = &scriptedReviewer{decisions: []*pipeline.Decision{
		{Action: pipeline.ActionApprove}, // review_fetch
		{Action: pipeline.ActionModify, Params: map[string]string{"regimes": "5"}}, // review_cluster
		{Action: pipeline.ActionApprove}, // review_cluster, second pass
	}}

	final := f.run(t, pipeline.WorkflowTraining)

	clusterRuns := 0
	for _, c := range f.runner.calls {
		if c == string(StageCluster) {
			clusterRuns++
		}
	}
	assert.Equal(t, 2, clusterRuns, "a changed regime count re-runs clustering once")
	assert.Contains(t, f.runner.envs[string(StageCluster)], "REGIMEFLOW_REGIMES=5",
		"the second pass sees the override")
	assert.False(t, final.AbortPipeline)
	assert.True(t, final.Succeeded(StageClassify))
	assert.Empty(t, final.RetryStage, "the re-clustering pass clears the retry request")
}

func TestMonitoringDriftTriggersOneRetrainPass(t *testing.T) {
	f := newFixture(t)
	f.runner.results[string(StageMonitoring)] = &agents.Result{
		Detail: map[string]any{"needs_retraining": true},
	}

	final := f.run(t, pipeline.WorkflowInference)

	joined := strings.Join(f.runner.calls, ",")
	assert.Equal(t,
		"fetch,inference,alerts,validation,monitoring,"+
			"fetch,engineer,select,cluster,classify,"+
			"inference,alerts,validation,monitoring",
		joined, "drift sends the run back through training exactly once")
	assert.True(t, final.Succeeded(StageForecast))
	assert.Empty(t, final.Errors)
}

func TestAgentFailureRoutesToAbort(t *testing.T) {
	f := newFixture(t)
	f.runner.fail[string(StageEngineer)] = errors.New("agent crashed")

	final := f.run(t, pipeline.WorkflowTraining)

	require.Len(t, final.Errors, 1)
	assert.Equal(t, StageEngineer, final.Errors[0].Stage)
	assert.NotContains(t, f.runner.calls, "select", "downstream stages never run after a failure")
}

func TestAlertFailureDoesNotAbortInference(t *testing.T) {
	f := newFixture(t)
	f.runner.fail[string(StageAlerts)] = errors.New("webhook down")

	final := f.run(t, pipeline.WorkflowInference)

	assert.Contains(t, f.runner.calls, "validation", "drift checks still run after a failed alert")
	assert.Contains(t, f.runner.calls, "monitoring")
	require.Len(t, final.Errors, 1)
	assert.Equal(t, StageAlerts, final.Errors[0].Stage)
	assert.False(t, final.AbortPipeline)
}

func TestSelectiveTargetsNarrowTraining(t *testing.T) {
	f := newFixture(t)
	f.deps.Units = []trainer.Unit{
		{Feature: "vix", Cadence: ledger.CadenceDaily},
		{Feature: "yield_curve", Cadence: ledger.CadenceWeekly},
	}

	graph, err := Build(f.deps)
	require.NoError(t, err)

	initial := pipeline.NewState(pipeline.WorkflowTraining).Mutate().
		SetTargets([]string{"yield_curve"}).
		Done()
	final, err := graph.Run(context.Background(), initial, nil)
	require.NoError(t, err)

	status, _ := final.Status(StageForecast)
	assert.Equal(t, []string{"yield_curve"}, status.Detail["completed"])

	e, err := f.ledger.Entry("vix")
	require.NoError(t, err)
	assert.Zero(t, e.ActiveVersion, "untargeted features are untouched")
}

// scriptedReviewer returns canned decisions in order.
type scriptedReviewer struct {
	decisions []*pipeline.Decision
}

func (r *scriptedReviewer) Review(*pipeline.ReviewRequest) (*pipeline.Decision, error) {
	d := r.decisions[0]
	r.decisions = r.decisions[1:]
	return d, nil
}
