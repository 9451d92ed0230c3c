package agents

import (
	"context"
	"fmt"
	"strconv"

	"github.com/regimelab/regimeflow/trainer"
)

// TrainStage is the command key the trainer loop invokes per unit.
const TrainStage = "train"

// TrainFunc adapts the runner to the trainer loop: one invocation of the
// train command per unit, parameterized through the environment. The command
// must report its artifact files, or the loop has nothing to commit.
func (r *CommandRunner) TrainFunc() trainer.TrainFunc {
	return func(ctx context.Context, unit trainer.Unit, version int) (*trainer.TrainOutput, error) {
		res, err := r.RunStage(ctx, TrainStage,
			"REGIMEFLOW_FEATURE="+unit.Feature,
			"REGIMEFLOW_CADENCE="+string(unit.Cadence),
			"REGIMEFLOW_VERSION="+strconv.Itoa(version),
		)
		if err != nil {
			return nil, err
		}
		if len(res.Files) == 0 {
			return nil, fmt.Errorf("train command for %s reported no artifact files", unit)
		}
		return &trainer.TrainOutput{Metrics: res.Metrics, Files: res.Files}, nil
	}
}
