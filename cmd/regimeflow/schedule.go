package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/regimelab/regimeflow/ledger"
	"github.com/regimelab/regimeflow/pipeline"
	"github.com/regimelab/regimeflow/workflow"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on a cron schedule",
	Long:  "Run unattended auto-workflow pipeline runs on a cron schedule. Checkpoints are auto-approved; each run only trains what staleness demands.",
	RunE:  runSchedule,
}

func init() {
	scheduleCmd.Flags().String("cron", "0 6 * * *", "Cron expression for pipeline runs")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	spec, _ := cmd.Flags().GetString("cron")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	_, err := c.AddFunc(spec, func() { scheduledRun(ctx, log) })
	if err != nil {
		return err
	}

	log.Info().Str("cron", spec).Msg("scheduler started")
	c.Start()
	<-ctx.Done()

	log.Info().Msg("scheduler stopping")
	<-c.Stop().Done()
	return nil
}

// scheduledRun executes one unattended auto run. Failures are logged, not
// fatal; the next tick tries again.
func scheduledRun(ctx context.Context, log zerolog.Logger) {
	env, err := buildEnvironment(ctx, log)
	if err != nil {
		log.Error().Err(err).Msg("scheduled run setup failed")
		return
	}
	defer env.close()

	logsDir := filepath.Join("logs", time.Now().Format("20060102-150405"))
	env.runner.LogsRoot = logsDir

	rec, err := recommend(env)
	if err != nil {
		log.Error().Err(err).Msg("recommendation failed")
		return
	}

	wf := pipeline.WorkflowInference
	var targets []string
	if rec.Workflow != ledger.WorkflowInference {
		wf = pipeline.WorkflowFull
		targets = rec.Targets
	}
	log.Info().Str("workflow", string(wf)).Strs("targets", targets).Str("reason", rec.Reason).Msg("scheduled run starting")

	graph, err := workflow.Build(&workflow.Deps{
		Runner:    env.runner,
		Loop:      env.loop,
		Units:     env.units,
		Store:     env.store,
		Reviewer:  pipeline.AutoApprover{},
		OutputDir: env.cfg.OutputDir,
	})
	if err != nil {
		log.Error().Err(err).Msg("graph build failed")
		return
	}

	st := pipeline.NewState(wf).Mutate().
		SetTargets(targets).
		SetRetrainCore(rec.RetrainCore).
		Done()

	final, err := graph.Run(ctx, st, &pipeline.RunOptions{LogsRoot: logsDir, Logger: log})
	if err != nil {
		log.Error().Err(err).Msg("scheduled run failed")
		return
	}

	summary := workflow.Summarize(final)
	if summary.Ok() {
		log.Info().Str("run_id", final.RunID).Msg("scheduled run finished")
	} else {
		log.Error().Str("run_id", final.RunID).Str("reason", summary.Reason).Int("errors", len(summary.Errors)).Msg("scheduled run finished with problems")
	}
}
