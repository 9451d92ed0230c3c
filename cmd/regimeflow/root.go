package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "regimeflow",
	Short: "Regime forecasting pipeline orchestrator",
	Long:  "Regimeflow orchestrates the regime forecasting pipeline: data fetch, feature engineering, clustering, incremental model training and inference, with staleness-aware retraining.",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "regimeflow.yaml", "Configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs instead of console output")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json_logs", rootCmd.PersistentFlags().Lookup("json-logs"))
}

func initConfig() {
	// Local .env is optional; environment wins over file values either way.
	_ = godotenv.Load()

	viper.SetEnvPrefix("REGIMEFLOW")
	viper.AutomaticEnv()
}

// newLogger builds the process logger from the persistent flags.
func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if viper.GetBool("json_logs") {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return log.Level(level).With().Timestamp().Logger()
}
