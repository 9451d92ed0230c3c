package workflow

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regimelab/regimeflow/pipeline"
)

func TestSummarizeOrdersStagesByCompletion(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	st := pipeline.NewState(pipeline.WorkflowTraining).Mutate().
		SetStatus(StageCluster, pipeline.StageStatus{Success: true, Timestamp: base.Add(2 * time.Minute)}).
		SetStatus(StageFetch, pipeline.StageStatus{Success: true, Timestamp: base}).
		SetStatus(StageEngineer, pipeline.StageStatus{Success: true, Timestamp: base.Add(time.Minute)}).
		Done()

	s := Summarize(st)

	require.Len(t, s.Stages, 3)
	assert.Equal(t, StageFetch, s.Stages[0].Stage)
	assert.Equal(t, StageEngineer, s.Stages[1].Stage)
	assert.Equal(t, StageCluster, s.Stages[2].Stage)
	assert.True(t, s.Ok())
}

func TestSummaryNotOkOnErrorsOrAbort(t *testing.T) {
	withError := Summarize(pipeline.NewState(pipeline.WorkflowTraining).Mutate().
		AddErrorMessage(StageFetch, "boom").
		Done())
	assert.False(t, withError.Ok())

	aborted := Summarize(pipeline.NewState(pipeline.WorkflowTraining).Mutate().
		Abort("operator said stop").
		Done())
	assert.False(t, aborted.Ok())
	assert.Equal(t, "operator said stop", aborted.Reason)
}

func TestSummaryWrite(t *testing.T) {
	st := pipeline.NewState(pipeline.WorkflowInference).Mutate().
		SetStatus(StageFetch, pipeline.StageStatus{Success: true, Timestamp: time.Now(), Elapsed: 1200 * time.Millisecond}).
		SetStatus(StageInference, pipeline.StageStatus{Success: false, Timestamp: time.Now(), Error: "boom"}).
		AddErrorMessage(StageInference, "boom").
		Abort("inference failed").
		Done()

	var buf bytes.Buffer
	Summarize(st).Write(&buf)
	out := buf.String()

	assert.Contains(t, out, st.RunID)
	assert.Contains(t, out, "fetch")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "aborted: inference failed")
	assert.Contains(t, out, "error [inference]: boom")
}
