package workflow

import (
	"github.com/regimelab/regimeflow/pipeline"
	"github.com/regimelab/regimeflow/store"
	"github.com/regimelab/regimeflow/trainer"
)

// Deps are the collaborators the stage functions close over.
type Deps struct {
	Runner StageRunner
	Loop   *trainer.Loop
	Units  []trainer.Unit

	// Store is the feature store the fetch stage verifies against.
	Store store.Store

	// Reviewer handles the human checkpoints. nil disables them even if
	// Checkpoints is set.
	Reviewer pipeline.Reviewer

	// Checkpoints wires the review stages into the graph. Off, approval
	// stages are absent entirely rather than auto-approving.
	Checkpoints bool

	// OutputDir is the artifact tree the cleanup stage sweeps.
	OutputDir string
}

// Build wires the full regimeflow graph. One graph serves every workflow;
// routing at fetch and forecast selects the path a given run takes.
//
// Training path: cleanup, fetch, engineer, select, cluster, classify,
// forecast, with review checkpoints after fetch and cluster when enabled.
// Inference path: fetch, inference, alerts, validation, monitoring.
// Monitoring may route back to fetch exactly once per run when drift
// demands retraining; the cluster checkpoint may route back to cluster for
// re-clustering with an adjusted regime count.
func Build(deps *Deps) (*pipeline.Graph, error) {
	checkpoints := deps.Checkpoints && deps.Reviewer != nil

	b := pipeline.NewBuilder().
		Register(StageCleanup, cleanupStage(deps.OutputDir)).
		Register(StageFetch, fetchStage(deps.Runner, deps.Store, deps.Units)).
		Register(StageEngineer, agentStage(deps.Runner, StageEngineer, engineerEnv)).
		Register(StageSelect, agentStage(deps.Runner, StageSelect, nil)).
		Register(StageCluster, clusterStage(deps.Runner)).
		Register(StageClassify, agentStage(deps.Runner, StageClassify, nil)).
		Register(StageForecast, forecastStage(deps.Loop, deps.Units)).
		Register(StageInference, inferenceStage(deps.Runner)).
		Register(StageAlerts, agentStage(deps.Runner, StageAlerts, nil)).
		Register(StageValidation, driftStage(deps.Runner, StageValidation)).
		Register(StageMonitoring, driftStage(deps.Runner, StageMonitoring)).
		Register(pipeline.StageAbort, abortStage()).
		Entry(StageCleanup)

	b.Requires(StageEngineer, StageFetch).
		Requires(StageSelect, StageEngineer).
		Requires(StageCluster, StageSelect).
		Requires(StageClassify, StageCluster).
		Requires(StageForecast, StageSelect).
		Requires(StageInference, StageFetch).
		Requires(StageAlerts, StageInference).
		Requires(StageValidation, StageInference).
		Requires(StageMonitoring, StageValidation)

	// A failed alert delivery is not worth killing the run over; drift
	// checks still happen.
	b.OnFailure(StageAlerts, StageValidation)

	b.Connect(StageCleanup, pipeline.Always(pipeline.OutcomeSuccess),
		map[pipeline.Outcome]pipeline.StageName{
			pipeline.OutcomeSuccess: StageFetch,
		})

	afterFetch := StageEngineer
	if checkpoints {
		afterFetch = StageReviewFetch
		b.Register(StageReviewFetch, pipeline.Checkpoint(StageReviewFetch, StageFetch, deps.Reviewer)).
			Connect(StageReviewFetch, pipeline.Always(pipeline.OutcomeApproved),
				map[pipeline.Outcome]pipeline.StageName{
					pipeline.OutcomeApproved: StageEngineer,
				})
	}

	// Inference-only runs divert at fetch, unless monitoring has since
	// demanded retraining.
	b.Connect(StageFetch, pipeline.Route{
		Fn: func(s pipeline.State) pipeline.Outcome {
			if s.Workflow == pipeline.WorkflowInference && !s.NeedsRetraining {
				return pipeline.OutcomeInfer
			}
			return pipeline.OutcomeSuccess
		},
		Emits: []pipeline.Outcome{pipeline.OutcomeSuccess, pipeline.OutcomeInfer},
	}, map[pipeline.Outcome]pipeline.StageName{
		pipeline.OutcomeSuccess: afterFetch,
		pipeline.OutcomeInfer:   StageInference,
	})

	b.Connect(StageEngineer, pipeline.Always(pipeline.OutcomeSuccess),
		map[pipeline.Outcome]pipeline.StageName{
			pipeline.OutcomeSuccess: StageSelect,
		})
	b.Connect(StageSelect, pipeline.Always(pipeline.OutcomeSuccess),
		map[pipeline.Outcome]pipeline.StageName{
			pipeline.OutcomeSuccess: StageCluster,
		})

	afterCluster := StageClassify
	if checkpoints {
		afterCluster = StageReviewCluster
		b.Register(StageReviewCluster, reviewClusterStage(deps.Reviewer)).
			Connect(StageReviewCluster, pipeline.Route{
				Fn: func(s pipeline.State) pipeline.Outcome {
					if s.RetryStage == StageCluster {
						return pipeline.OutcomeRetry
					}
					return pipeline.OutcomeApproved
				},
				Emits: []pipeline.Outcome{pipeline.OutcomeApproved, pipeline.OutcomeRetry},
			}, map[pipeline.Outcome]pipeline.StageName{
				pipeline.OutcomeApproved: StageClassify,
				pipeline.OutcomeRetry:    StageCluster,
			})
	}

	b.Connect(StageCluster, pipeline.Always(pipeline.OutcomeSuccess),
		map[pipeline.Outcome]pipeline.StageName{
			pipeline.OutcomeSuccess: afterCluster,
		})
	b.Connect(StageClassify, pipeline.Always(pipeline.OutcomeSuccess),
		map[pipeline.Outcome]pipeline.StageName{
			pipeline.OutcomeSuccess: StageForecast,
		})

	// Training-only runs end here; everything else continues into inference.
	b.Connect(StageForecast, pipeline.Route{
		Fn: func(s pipeline.State) pipeline.Outcome {
			if s.Workflow == pipeline.WorkflowTraining {
				return pipeline.OutcomeEnd
			}
			return pipeline.OutcomeInfer
		},
		Emits: []pipeline.Outcome{pipeline.OutcomeInfer, pipeline.OutcomeEnd},
	}, map[pipeline.Outcome]pipeline.StageName{
		pipeline.OutcomeInfer: StageInference,
		pipeline.OutcomeEnd:   pipeline.StageEnd,
	})

	b.Connect(StageInference, pipeline.Always(pipeline.OutcomeSuccess),
		map[pipeline.Outcome]pipeline.StageName{
			pipeline.OutcomeSuccess: StageAlerts,
		})
	b.Connect(StageAlerts, pipeline.Always(pipeline.OutcomeSuccess),
		map[pipeline.Outcome]pipeline.StageName{
			pipeline.OutcomeSuccess: StageValidation,
		})
	b.Connect(StageValidation, pipeline.Always(pipeline.OutcomeSuccess),
		map[pipeline.Outcome]pipeline.StageName{
			pipeline.OutcomeSuccess: StageMonitoring,
		})

	// Drift sends an inference-only run back through training at most once:
	// after a retrain pass the forecast stage has succeeded and the retrain
	// edge stays closed.
	b.Connect(StageMonitoring, pipeline.Route{
		Fn: func(s pipeline.State) pipeline.Outcome {
			if s.NeedsRetraining && !s.Succeeded(StageForecast) {
				return pipeline.OutcomeRetrain
			}
			return pipeline.OutcomeEnd
		},
		Emits: []pipeline.Outcome{pipeline.OutcomeRetrain, pipeline.OutcomeEnd},
	}, map[pipeline.Outcome]pipeline.StageName{
		pipeline.OutcomeRetrain: StageFetch,
		pipeline.OutcomeEnd:     pipeline.StageEnd,
	})

	b.Connect(pipeline.StageAbort, pipeline.Always(pipeline.OutcomeEnd),
		map[pipeline.Outcome]pipeline.StageName{
			pipeline.OutcomeEnd: pipeline.StageEnd,
		})

	return b.Build()
}
