package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Action is a human decision at a review checkpoint.
type Action int

const (
	// ActionApprove accepts the reviewed stage's results.
	ActionApprove Action = iota

	// ActionModify accepts the results but writes override parameters into
	// the state for downstream stages.
	ActionModify

	// ActionReject stops the pipeline. Rejection is not an error; it is a
	// deliberate human-directed abort.
	ActionReject
)

// Decision is the outcome of a review.
type Decision struct {
	Action Action
	Params map[string]string
}

// ReviewRequest carries the diagnostics a reviewer needs: which stage is
// under review, its recorded status, and any artifact it produced.
type ReviewRequest struct {
	Checkpoint StageName
	Reviewed   StageName
	Status     StageStatus
	Artifact   string
}

// Reviewer collects a human decision for a checkpoint. Review blocks until
// a decision arrives; there is no timeout here. Unattended deployments use
// AutoApprover instead.
type Reviewer interface {
	Review(req *ReviewRequest) (*Decision, error)
}

// Checkpoint builds a review stage for the given upstream stage.
//
// If the reviewed stage was skipped or failed, the checkpoint auto-approves
// and passes through: checkpoints never block on work that did not happen.
// Otherwise the reviewer decides: approve records approval; modify merges
// its params into the state's overrides and still approves; reject sets the
// abort flag with the rejecting stage named in the reason. The engine's
// post-stage abort check then routes to the abort stage, so a checkpoint's
// route only ever emits OutcomeApproved.
func Checkpoint(name, reviewed StageName, reviewer Reviewer) StageFunc {
	return func(_ context.Context, s State) (State, error) {
		if s.Skipped(reviewed) || !s.Succeeded(reviewed) {
			return s.Mutate().Approve(name).Done(), nil
		}

		status, _ := s.Status(reviewed)
		decision, err := reviewer.Review(&ReviewRequest{
			Checkpoint: name,
			Reviewed:   reviewed,
			Status:     status,
			Artifact:   s.Artifacts[string(reviewed)],
		})
		if err != nil {
			return s, fmt.Errorf("reviewer for %q: %w", reviewed, err)
		}

		switch decision.Action {
		case ActionApprove:
			return s.Mutate().Approve(name).Done(), nil

		case ActionModify:
			m := s.Mutate().Approve(name)
			for k, v := range decision.Params {
				m.SetOverride(k, v)
			}
			return m.Done(), nil

		case ActionReject:
			return s.Mutate().
				Abort(fmt.Sprintf("rejected at checkpoint %q (reviewing %q)", name, reviewed)).
				Done(), nil

		default:
			return s, fmt.Errorf("reviewer for %q returned unknown action %d", reviewed, decision.Action)
		}
	}
}

// AutoApprover approves every checkpoint without interaction. Used for
// unattended runs (the --approve-all flag) and for deployments that compile
// checkpoints in but want them inert.
type AutoApprover struct{}

// Review always approves.
func (AutoApprover) Review(*ReviewRequest) (*Decision, error) {
	return &Decision{Action: ActionApprove}, nil
}

// CLIReviewer prompts on a terminal: it prints the reviewed stage's status
// summary and reads an approve / modify / reject decision.
type CLIReviewer struct {
	In  io.Reader
	Out io.Writer
}

// NewCLIReviewer creates a CLIReviewer reading from in and writing to out.
func NewCLIReviewer(in io.Reader, out io.Writer) *CLIReviewer {
	return &CLIReviewer{In: in, Out: out}
}

// Review presents the stage summary and blocks for a decision.
func (r *CLIReviewer) Review(req *ReviewRequest) (*Decision, error) {
	r.printSummary(req)

	reader := bufio.NewReader(r.In)
	for {
		fmt.Fprintf(r.Out, "Approve %s results? [Y/n/modify]: ", req.Reviewed)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("reading decision: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes", "approve":
			return &Decision{Action: ActionApprove}, nil
		case "n", "no", "reject":
			return &Decision{Action: ActionReject}, nil
		case "m", "modify":
			params, err := r.readParams(reader)
			if err != nil {
				return nil, err
			}
			return &Decision{Action: ActionModify, Params: params}, nil
		default:
			fmt.Fprintln(r.Out, "Please answer y, n, or modify.")
		}
	}
}

func (r *CLIReviewer) printSummary(req *ReviewRequest) {
	fmt.Fprintf(r.Out, "\n--- %s review ---\n", req.Reviewed)
	fmt.Fprintf(r.Out, "  success:   %v\n", req.Status.Success)
	fmt.Fprintf(r.Out, "  elapsed:   %s\n", req.Status.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(r.Out, "  completed: %s\n", req.Status.Timestamp.Format(time.RFC3339))
	if req.Artifact != "" {
		fmt.Fprintf(r.Out, "  artifact:  %s\n", req.Artifact)
	}

	keys := make([]string, 0, len(req.Status.Detail))
	for k := range req.Status.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.Out, "  %s: %v\n", k, req.Status.Detail[k])
	}
}

// readParams reads comma-separated key=value override parameters.
func (r *CLIReviewer) readParams(reader *bufio.Reader) (map[string]string, error) {
	fmt.Fprint(r.Out, "Override parameters (key=value, comma-separated): ")
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("reading overrides: %w", err)
	}

	params := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(line), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid override %q (want key=value)", pair)
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params, nil
}
