package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/regimelab/regimeflow/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report artifact staleness",
	Long:  "Judge every configured artifact against its staleness threshold and report what a run would do. Exits non-zero when training is needed.",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Emit the report as JSON")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Core           ledger.Verdict            `json:"core"`
	Features       map[string]ledger.Verdict `json:"features"`
	Recommendation ledger.Recommendation     `json:"recommendation"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	log := newLogger()

	env, err := buildEnvironment(context.Background(), log)
	if err != nil {
		return err
	}
	defer env.close()

	core, err := env.checker.CheckCore(env.cfg.Core.Artifact)
	if err != nil {
		return err
	}
	features := make(map[string]ledger.Verdict)
	for _, f := range env.cfg.Features() {
		v, err := env.checker.Check(f.Name, f.Cadence)
		if err != nil {
			return err
		}
		features[f.Name] = v
	}
	report := statusReport{
		Core:           core,
		Features:       features,
		Recommendation: ledger.Recommend(core, features),
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printStatus(&report, env.cfg.Core.Artifact)
	}

	if report.Recommendation.Workflow != ledger.WorkflowInference {
		return fmt.Errorf("training needed: %s", report.Recommendation.Reason)
	}
	return nil
}

func printStatus(report *statusReport, coreName string) {
	fmt.Printf("%-24s %s\n", coreName+" (core):", report.Core.Reason)
	for _, f := range report.Recommendation.Fresh {
		fmt.Printf("%-24s fresh: %s\n", f+":", report.Features[f].Reason)
	}
	for _, f := range report.Recommendation.Stale {
		fmt.Printf("%-24s STALE: %s\n", f+":", report.Features[f].Reason)
	}
	for _, f := range report.Recommendation.Missing {
		fmt.Printf("%-24s MISSING: %s\n", f+":", report.Features[f].Reason)
	}
	fmt.Printf("\nrecommendation: %s (%s)\n", report.Recommendation.Workflow, report.Recommendation.Reason)
}
