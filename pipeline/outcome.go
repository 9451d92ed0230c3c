package pipeline

// Outcome is the closed set of edge labels a routing function may emit.
// Every stage declares which outcomes its route can produce, and the graph
// builder rejects a graph unless each declared outcome has an edge, so an
// unmatched label is a build-time error rather than a mid-run surprise.
type Outcome int

const (
	// OutcomeSuccess advances along the stage's normal edge.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure follows the stage's failure edge. Routing functions
	// rarely emit it directly; the engine routes stage errors itself.
	OutcomeFailure

	// OutcomeApproved advances past a review checkpoint.
	OutcomeApproved

	// OutcomeRetry re-enters an earlier stage (legitimate cycle, e.g.
	// re-clustering with an adjusted regime count).
	OutcomeRetry

	// OutcomeTrain diverts into the training chain.
	OutcomeTrain

	// OutcomeInfer diverts into the inference chain.
	OutcomeInfer

	// OutcomeRetrain loops from monitoring back to the top of training.
	OutcomeRetrain

	// OutcomeEnd terminates the run.
	OutcomeEnd
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess:  "success",
	OutcomeFailure:  "failure",
	OutcomeApproved: "approved",
	OutcomeRetry:    "retry",
	OutcomeTrain:    "train",
	OutcomeInfer:    "infer",
	OutcomeRetrain:  "retrain",
	OutcomeEnd:      "end",
}

// String returns the routing label for logs and error messages.
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}
