package workflow

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/regimelab/regimeflow/pipeline"
)

// Summary condenses a finished run for terminal output and exit handling.
type Summary struct {
	RunID    string
	Workflow pipeline.Workflow
	Aborted  bool
	Reason   string
	Errors   []pipeline.StageError

	// Stages holds executed stages ordered by completion time.
	Stages []StageTiming
}

// StageTiming pairs a stage with its recorded result.
type StageTiming struct {
	Stage  pipeline.StageName
	Status pipeline.StageStatus
}

// Summarize builds a summary from the final run state.
func Summarize(st pipeline.State) *Summary {
	s := &Summary{
		RunID:    st.RunID,
		Workflow: st.Workflow,
		Aborted:  st.AbortPipeline,
		Reason:   st.AbortReason,
		Errors:   st.Errors,
	}
	for stage, status := range st.Statuses {
		s.Stages = append(s.Stages, StageTiming{Stage: stage, Status: status})
	}
	sort.Slice(s.Stages, func(i, j int) bool {
		return s.Stages[i].Status.Timestamp.Before(s.Stages[j].Status.Timestamp)
	})
	return s
}

// Ok reports whether the run finished cleanly: no abort and no errors.
func (s *Summary) Ok() bool {
	return !s.Aborted && len(s.Errors) == 0
}

// Write renders the summary as text.
func (s *Summary) Write(w io.Writer) {
	fmt.Fprintf(w, "run %s (%s)\n", s.RunID, s.Workflow)
	for _, t := range s.Stages {
		mark := "ok"
		if !t.Status.Success {
			mark = "FAILED"
		}
		fmt.Fprintf(w, "  %-16s %-7s %s\n", t.Stage, mark, t.Status.Elapsed.Round(time.Millisecond))
	}
	if s.Aborted {
		fmt.Fprintf(w, "aborted: %s\n", s.Reason)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "error [%s]: %s\n", e.Stage, e.Err)
	}
}
