// Package pipeline provides the stage-graph execution engine for the
// regimeflow orchestrator: a typed run state, a closed set of routing
// outcomes, and a sequential engine with failure routing, abort handling
// and human review checkpoints.
package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Workflow selects which portion of the stage graph a run executes.
type Workflow string

const (
	// WorkflowTraining runs the training chain only (fetch through forecast).
	WorkflowTraining Workflow = "training"

	// WorkflowInference runs data fetch and the inference chain only.
	WorkflowInference Workflow = "inference"

	// WorkflowFull runs training followed by inference.
	WorkflowFull Workflow = "full"

	// WorkflowAuto means the recommendation engine decides before the
	// graph is built; it never reaches the engine itself.
	WorkflowAuto Workflow = "auto"
)

// StageName identifies a registered stage in the graph.
type StageName string

// Terminal stage names. StageEnd is a pure pseudo-stage; StageAbort must be
// registered like any other stage so the abort handler can record why the
// run stopped.
const (
	StageEnd   StageName = "end"
	StageAbort StageName = "abort"
)

// StageStatus records the result of one stage execution.
type StageStatus struct {
	Success   bool           `json:"success"`
	Elapsed   time.Duration  `json:"elapsed"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// StageError is one entry in the run's accumulated error list.
type StageError struct {
	Stage     StageName `json:"stage"`
	Err       string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the shared record threaded through every stage of one run.
//
// It has value semantics: a stage receives a State and returns the next one,
// built through the Mutation builder. The engine never hands two stages the
// same underlying maps, so a stage cannot observe another stage's writes
// except through the value it was given. State is created once per run and
// discarded at run end; durable results live in the artifact store and the
// version ledger, not here.
type State struct {
	RunID     string
	Workflow  Workflow
	StartedAt time.Time

	Statuses  map[StageName]StageStatus
	Skips     map[StageName]bool
	Approvals map[StageName]bool
	Errors    []StageError

	// SelectiveTargets is the feature subset to (re)train. nil means all.
	SelectiveTargets []string
	RetrainCore      bool

	NeedsRetraining bool
	AbortPipeline   bool
	AbortReason     string
	RetryStage      StageName

	// Artifacts holds path references written by completed stages.
	Artifacts map[string]string

	// Overrides holds parameters written by modify decisions at checkpoints.
	Overrides map[string]string
}

// NewState creates the initial state for a run. The run identifier embeds
// the start time so log directories sort chronologically.
func NewState(workflow Workflow) State {
	now := time.Now()
	return State{
		RunID:     fmt.Sprintf("rfp-%s-%s", now.Format("20060102-150405"), uuid.NewString()[:8]),
		Workflow:  workflow,
		StartedAt: now,
		Statuses:  make(map[StageName]StageStatus),
		Skips:     make(map[StageName]bool),
		Approvals: make(map[StageName]bool),
		Artifacts: make(map[string]string),
		Overrides: make(map[string]string),
	}
}

// Status returns the recorded status for a stage, if any.
func (s State) Status(stage StageName) (StageStatus, bool) {
	st, ok := s.Statuses[stage]
	return st, ok
}

// Succeeded reports whether a stage ran and recorded success.
func (s State) Succeeded(stage StageName) bool {
	st, ok := s.Statuses[stage]
	return ok && st.Success
}

// Skipped reports whether a stage was flagged to be skipped.
func (s State) Skipped(stage StageName) bool {
	return s.Skips[stage]
}

// Approved reports whether a checkpoint recorded approval.
func (s State) Approved(stage StageName) bool {
	return s.Approvals[stage]
}

// Override returns a checkpoint override parameter, if set.
func (s State) Override(key string) (string, bool) {
	v, ok := s.Overrides[key]
	return v, ok
}

// Clone returns a deep copy of the state. Maps and slices are copied so the
// clone shares no mutable structure with the original.
func (s State) Clone() State {
	next := s
	next.Statuses = maps.Clone(s.Statuses)
	next.Skips = maps.Clone(s.Skips)
	next.Approvals = maps.Clone(s.Approvals)
	next.Artifacts = maps.Clone(s.Artifacts)
	next.Overrides = maps.Clone(s.Overrides)
	next.Errors = slices.Clone(s.Errors)
	next.SelectiveTargets = slices.Clone(s.SelectiveTargets)
	if next.Statuses == nil {
		next.Statuses = make(map[StageName]StageStatus)
	}
	if next.Skips == nil {
		next.Skips = make(map[StageName]bool)
	}
	if next.Approvals == nil {
		next.Approvals = make(map[StageName]bool)
	}
	if next.Artifacts == nil {
		next.Artifacts = make(map[string]string)
	}
	if next.Overrides == nil {
		next.Overrides = make(map[string]string)
	}
	return next
}

// Mutation is a scoped builder for the next State. It accumulates writes
// against a private clone and releases it with Done, so a stage builds its
// entire result before anything becomes visible to routing.
type Mutation struct {
	next State
}

// Mutate starts a new mutation from this state.
func (s State) Mutate() *Mutation {
	return &Mutation{next: s.Clone()}
}

// SetStatus records a stage's execution status.
func (m *Mutation) SetStatus(stage StageName, status StageStatus) *Mutation {
	m.next.Statuses[stage] = status
	return m
}

// SetSkip flags a stage as skipped for this run.
func (m *Mutation) SetSkip(stage StageName, skip bool) *Mutation {
	m.next.Skips[stage] = skip
	return m
}

// Approve records checkpoint approval for a stage.
func (m *Mutation) Approve(stage StageName) *Mutation {
	m.next.Approvals[stage] = true
	return m
}

// AddError appends an entry to the run's error list.
func (m *Mutation) AddError(stage StageName, err error) *Mutation {
	return m.AddErrorMessage(stage, err.Error())
}

// AddErrorMessage appends an entry to the run's error list.
func (m *Mutation) AddErrorMessage(stage StageName, msg string) *Mutation {
	m.next.Errors = append(m.next.Errors, StageError{
		Stage:     stage,
		Err:       msg,
		Timestamp: time.Now(),
	})
	return m
}

// SetArtifact records a path reference produced by a stage.
func (m *Mutation) SetArtifact(name, path string) *Mutation {
	m.next.Artifacts[name] = path
	return m
}

// SetOverride records a checkpoint override parameter.
func (m *Mutation) SetOverride(key, value string) *Mutation {
	m.next.Overrides[key] = value
	return m
}

// SetTargets sets the selective training targets. nil means all features.
func (m *Mutation) SetTargets(targets []string) *Mutation {
	m.next.SelectiveTargets = slices.Clone(targets)
	return m
}

// SetRetrainCore sets the core-retraining flag.
func (m *Mutation) SetRetrainCore(v bool) *Mutation {
	m.next.RetrainCore = v
	return m
}

// SetNeedsRetraining sets the retraining flag consulted after monitoring.
func (m *Mutation) SetNeedsRetraining(v bool) *Mutation {
	m.next.NeedsRetraining = v
	return m
}

// Abort requests pipeline abortion with the given reason. The first reason
// wins; later calls do not overwrite it.
func (m *Mutation) Abort(reason string) *Mutation {
	m.next.AbortPipeline = true
	if m.next.AbortReason == "" {
		m.next.AbortReason = reason
	}
	return m
}

// SetRetryStage asks the router to re-enter the named stage. The re-entered
// stage is responsible for clearing the flag.
func (m *Mutation) SetRetryStage(stage StageName) *Mutation {
	m.next.RetryStage = stage
	return m
}

// ClearRetryStage clears the retry request.
func (m *Mutation) ClearRetryStage() *Mutation {
	m.next.RetryStage = ""
	return m
}

// Done releases the accumulated next state.
func (m *Mutation) Done() State {
	return m.next
}
