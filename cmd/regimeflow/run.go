package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/regimelab/regimeflow/agents"
	"github.com/regimelab/regimeflow/config"
	"github.com/regimelab/regimeflow/ledger"
	"github.com/regimelab/regimeflow/pipeline"
	"github.com/regimelab/regimeflow/store"
	"github.com/regimelab/regimeflow/trainer"
	"github.com/regimelab/regimeflow/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a pipeline run",
	Long:  "Execute one pipeline run. The default auto workflow consults the version ledger and runs only what artifact staleness demands.",
	RunE:  runPipeline,
}

var skippableStages = []pipeline.StageName{
	workflow.StageCleanup,
	workflow.StageFetch,
	workflow.StageEngineer,
	workflow.StageSelect,
	workflow.StageCluster,
	workflow.StageClassify,
	workflow.StageForecast,
	workflow.StageInference,
	workflow.StageAlerts,
	workflow.StageValidation,
	workflow.StageMonitoring,
}

func init() {
	runCmd.Flags().String("workflow", "auto", "Workflow to run (auto, training, inference, full)")
	runCmd.Flags().String("features", "", "Comma-separated feature subset to train (default: all)")
	runCmd.Flags().Bool("retrain-core", false, "Force core feature retraining")
	runCmd.Flags().Bool("force", false, "Train every unit regardless of staleness")
	runCmd.Flags().Bool("approve-all", false, "Auto-approve every review checkpoint")
	runCmd.Flags().String("logs-dir", "", "Log directory (default: ./logs/<timestamp>)")
	for _, stage := range skippableStages {
		runCmd.Flags().Bool("skip-"+string(stage), false, "Skip the "+string(stage)+" stage")
	}

	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := buildEnvironment(ctx, log)
	if err != nil {
		return err
	}
	defer env.close()

	logsDir, _ := cmd.Flags().GetString("logs-dir")
	if logsDir == "" {
		logsDir = filepath.Join("logs", time.Now().Format("20060102-150405"))
	}
	env.runner.LogsRoot = logsDir

	st, err := initialState(cmd, env, log)
	if err != nil {
		return err
	}

	approveAll, _ := cmd.Flags().GetBool("approve-all")
	var reviewer pipeline.Reviewer = pipeline.NewCLIReviewer(os.Stdin, os.Stderr)
	if approveAll {
		reviewer = pipeline.AutoApprover{}
	}

	force, _ := cmd.Flags().GetBool("force")
	env.loop.Force = force

	graph, err := workflow.Build(&workflow.Deps{
		Runner:      env.runner,
		Loop:        env.loop,
		Units:       env.units,
		Store:       env.store,
		Reviewer:    reviewer,
		Checkpoints: env.cfg.Checkpoints,
		OutputDir:   env.cfg.OutputDir,
	})
	if err != nil {
		return err
	}

	final, err := graph.Run(ctx, st, &pipeline.RunOptions{LogsRoot: logsDir, Logger: log})
	if err != nil {
		return err
	}

	summary := workflow.Summarize(final)
	summary.Write(os.Stderr)
	if !summary.Ok() {
		return fmt.Errorf("run %s finished with problems", final.RunID)
	}
	return nil
}

// initialState resolves the workflow (consulting the recommendation engine
// in auto mode) and applies the target and skip flags.
func initialState(cmd *cobra.Command, env *environment, log zerolog.Logger) (pipeline.State, error) {
	name, _ := cmd.Flags().GetString("workflow")
	retrainCore, _ := cmd.Flags().GetBool("retrain-core")

	var targets []string
	if raw, _ := cmd.Flags().GetString("features"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				targets = append(targets, f)
			}
		}
	}

	var wf pipeline.Workflow
	switch pipeline.Workflow(name) {
	case pipeline.WorkflowTraining, pipeline.WorkflowInference, pipeline.WorkflowFull:
		wf = pipeline.Workflow(name)

	case pipeline.WorkflowAuto:
		rec, err := recommend(env)
		if err != nil {
			return pipeline.State{}, err
		}
		log.Info().
			Str("workflow", string(rec.Workflow)).
			Strs("targets", rec.Targets).
			Bool("retrain_core", rec.RetrainCore).
			Str("reason", rec.Reason).
			Msg("recommendation")

		switch rec.Workflow {
		case ledger.WorkflowInference:
			wf = pipeline.WorkflowInference
		default:
			wf = pipeline.WorkflowFull
			if targets == nil {
				targets = rec.Targets
			}
			retrainCore = retrainCore || rec.RetrainCore
		}

	default:
		return pipeline.State{}, fmt.Errorf("unknown workflow %q", name)
	}

	m := pipeline.NewState(wf).Mutate().
		SetTargets(targets).
		SetRetrainCore(retrainCore)
	for _, stage := range skippableStages {
		if skip, _ := cmd.Flags().GetBool("skip-" + string(stage)); skip {
			m.SetSkip(stage, true)
		}
	}
	return m.Done(), nil
}

// recommend judges every configured artifact and asks the recommendation
// engine what to run.
func recommend(env *environment) (ledger.Recommendation, error) {
	core, err := env.checker.CheckCore(env.cfg.Core.Artifact)
	if err != nil {
		return ledger.Recommendation{}, err
	}

	features := make(map[string]ledger.Verdict)
	for _, f := range env.cfg.Features() {
		v, err := env.checker.Check(f.Name, f.Cadence)
		if err != nil {
			return ledger.Recommendation{}, err
		}
		features[f.Name] = v
	}
	return ledger.Recommend(core, features), nil
}

// environment bundles everything a run needs, built from the config file.
type environment struct {
	cfg     *config.Config
	ledger  *ledger.Ledger
	checker *ledger.Checker
	store   store.Store
	runner  *agents.CommandRunner
	loop    *trainer.Loop
	units   []trainer.Unit

	warehouse *store.Warehouse
}

func (e *environment) close() {
	if e.warehouse != nil {
		e.warehouse.Close()
	}
}

func buildEnvironment(ctx context.Context, log zerolog.Logger) (*environment, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}

	led, err := ledger.Open(cfg.LedgerDir)
	if err != nil {
		return nil, err
	}
	checker := cfg.Checker(led)

	env := &environment{cfg: cfg, ledger: led, checker: checker}

	switch cfg.Storage {
	case "warehouse":
		wh, err := store.OpenWarehouse(ctx, cfg.Warehouse.URL, cfg.Warehouse.Table)
		if err != nil {
			return nil, err
		}
		if err := wh.EnsureSchema(ctx); err != nil {
			wh.Close()
			return nil, err
		}
		env.warehouse = wh
		env.store = wh
	default:
		env.store = store.NewLocal(cfg.OutputDir)
	}

	committer, err := buildCommitter(cfg)
	if err != nil {
		env.close()
		return nil, err
	}

	env.runner = &agents.CommandRunner{
		Dir:      ".",
		Commands: cfg.Agents,
		Log:      log,
	}

	for _, f := range cfg.Features() {
		env.units = append(env.units, trainer.Unit{Feature: f.Name, Cadence: f.Cadence})
	}

	env.loop = &trainer.Loop{
		Ledger:    led,
		Checker:   checker,
		Train:     env.runner.TrainFunc(),
		Committer: committer,
		Log:       log,
	}
	return env, nil
}

func buildCommitter(cfg *config.Config) (trainer.Committer, error) {
	switch cfg.Commit.Backend {
	case "object":
		access := cfg.Commit.AccessKey
		if access == "" {
			access = os.Getenv("MINIO_ACCESS_KEY")
		}
		secret := cfg.Commit.SecretKey
		if secret == "" {
			secret = os.Getenv("MINIO_SECRET_KEY")
		}
		client, err := minio.New(cfg.Commit.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(access, secret, ""),
			Secure: cfg.Commit.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("object store client: %w", err)
		}
		return &trainer.ObjectCommitter{Client: client, Bucket: cfg.Commit.Bucket, Prefix: cfg.Commit.Prefix}, nil

	default:
		return &trainer.DirCommitter{Dest: cfg.Commit.Dir}, nil
	}
}
