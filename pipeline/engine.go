package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RunOptions configures one execution of a graph.
type RunOptions struct {
	// LogsRoot is the filesystem directory for this run's status files.
	// Empty disables status writing.
	LogsRoot string

	// Logger receives per-stage progress events.
	Logger zerolog.Logger
}

// Run executes the graph sequentially from its entry stage until it reaches
// StageEnd, threading the state value from stage to stage.
//
// Failure semantics: an error (or panic) from a stage function is caught
// here, appended to the state's error list, recorded as a failed status for
// the stage, and routed along the stage's failure edge. The engine never
// re-raises past the router and never retries a stage on its own; stages
// that want re-execution route an explicit cycle edge.
//
// A stage flagged as skipped is routed past without executing and records
// no status entry; downstream dependency checks treat skipped and succeeded
// upstreams alike.
//
// The abort flag is checked after every stage; a stage already in progress
// is allowed to finish and its routing is then bypassed in favour of the
// abort stage.
//
// The returned error is non-nil only for configuration-level faults (an
// emitted outcome with no edge); ordinary stage failures surface through
// the state.
func (g *Graph) Run(ctx context.Context, initial State, opts *RunOptions) (State, error) {
	if opts == nil {
		opts = &RunOptions{Logger: zerolog.Nop()}
	}
	log := opts.Logger.With().Str("run_id", initial.RunID).Logger()

	if opts.LogsRoot != "" {
		if err := writeManifest(opts.LogsRoot, initial); err != nil {
			log.Warn().Err(err).Msg("failed to write run manifest")
		}
	}

	st := initial
	cur := g.entry

	for cur != StageEnd {
		def := g.stages[cur]

		if st.Skipped(cur) {
			outcome := def.route.Fn(st)
			to, ok := def.edges[outcome]
			if !ok {
				return st, fmt.Errorf("stage %q emitted unrouted outcome %q", cur, outcome)
			}
			log.Info().Str("stage", string(cur)).Str("next", string(to)).Msg("stage skipped")
			cur = to
			continue
		}

		if dep, ok := unmetDependency(def, st); ok {
			reason := fmt.Sprintf("dependency not met: stage %q requires %q which neither succeeded nor was skipped", cur, dep)
			log.Error().Str("stage", string(cur)).Str("dependency", string(dep)).Msg("aborting: dependency not met")
			st = st.Mutate().
				AddErrorMessage(cur, reason).
				Abort(reason).
				Done()
			cur = StageAbort
			continue
		}

		log.Info().Str("stage", string(cur)).Msg("stage starting")
		started := time.Now()
		next, err := execStage(ctx, def.fn, st)

		if err != nil {
			elapsed := time.Since(started)
			log.Error().Str("stage", string(cur)).Err(err).Dur("elapsed", elapsed).Msg("stage failed")
			st = st.Mutate().
				AddError(cur, err).
				SetStatus(cur, StageStatus{
					Success:   false,
					Elapsed:   elapsed,
					Timestamp: time.Now(),
					Error:     err.Error(),
				}).
				Done()
			g.writeStatus(opts, &log, cur, st)
			cur = def.failTo
			continue
		}

		st = next
		g.writeStatus(opts, &log, cur, st)
		log.Info().Str("stage", string(cur)).Dur("elapsed", time.Since(started)).Msg("stage finished")

		if st.AbortPipeline && cur != StageAbort {
			cur = StageAbort
			continue
		}

		outcome := def.route.Fn(st)
		to, ok := def.edges[outcome]
		if !ok {
			return st, fmt.Errorf("stage %q emitted unrouted outcome %q", cur, outcome)
		}
		log.Debug().Str("stage", string(cur)).Stringer("outcome", outcome).Str("next", string(to)).Msg("routed")
		cur = to
	}

	return st, nil
}

// execStage invokes a stage function, converting panics into stage errors so
// nothing escapes the router.
func execStage(ctx context.Context, fn StageFunc, st State) (next State, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = st
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return fn(ctx, st)
}

// unmetDependency returns the first required upstream stage that neither
// succeeded nor was explicitly skipped.
func unmetDependency(def *stageDef, st State) (StageName, bool) {
	for _, up := range def.requires {
		if st.Skipped(up) || st.Succeeded(up) {
			continue
		}
		return up, true
	}
	return "", false
}

func (g *Graph) writeStatus(opts *RunOptions, log *zerolog.Logger, stage StageName, st State) {
	if opts.LogsRoot == "" {
		return
	}
	status, ok := st.Status(stage)
	if !ok {
		return
	}
	if err := writeStageStatus(opts.LogsRoot, stage, status); err != nil {
		log.Warn().Str("stage", string(stage)).Err(err).Msg("failed to write stage status")
	}
}
