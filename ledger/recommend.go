package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// RecommendedWorkflow is what the recommendation engine suggests running.
type RecommendedWorkflow string

const (
	// WorkflowInference: every artifact is fresh, run inference only.
	WorkflowInference RecommendedWorkflow = "inference"

	// WorkflowPartialTrain: retrain only the listed targets, then infer.
	WorkflowPartialTrain RecommendedWorkflow = "partial_train"

	// WorkflowTrain: the core needs training, run the full training chain.
	// Targets still narrow the feature set; fresh features stay untouched.
	WorkflowTrain RecommendedWorkflow = "train"
)

// Recommendation is the engine's verdict over the whole artifact set.
type Recommendation struct {
	Workflow    RecommendedWorkflow
	Targets     []string
	RetrainCore bool
	Reason      string

	Missing []string
	Stale   []string
	Fresh   []string
}

// Recommend turns per-artifact verdicts into a run recommendation.
//
// Core staleness is judged first: a core that needs training escalates the
// workflow to full training. Targets are always exactly the features whose
// own verdicts demand training; a stale core never drags fresh features
// into the target list. With the core healthy, missing or stale features
// yield partial training and a fully fresh set yields inference.
func Recommend(core Verdict, features map[string]Verdict) Recommendation {
	var rec Recommendation

	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := features[name]
		switch {
		case !v.Exists:
			rec.Missing = append(rec.Missing, name)
			rec.Targets = append(rec.Targets, name)
		case v.NeedsTraining:
			rec.Stale = append(rec.Stale, name)
			rec.Targets = append(rec.Targets, name)
		default:
			rec.Fresh = append(rec.Fresh, name)
		}
	}

	rec.RetrainCore = core.NeedsTraining

	switch {
	case rec.RetrainCore:
		rec.Workflow = WorkflowTrain
		rec.Reason = strings.Join(append([]string{"core: " + core.Reason}, featureReasons(&rec)...), "; ")

	case len(rec.Targets) == 0:
		rec.Workflow = WorkflowInference
		rec.Reason = "all artifacts fresh"

	default:
		rec.Workflow = WorkflowPartialTrain
		rec.Reason = strings.Join(featureReasons(&rec), "; ")
	}

	return rec
}

func featureReasons(rec *Recommendation) []string {
	var parts []string
	if len(rec.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing: %s", strings.Join(rec.Missing, ", ")))
	}
	if len(rec.Stale) > 0 {
		parts = append(parts, fmt.Sprintf("stale: %s", strings.Join(rec.Stale, ", ")))
	}
	return parts
}
