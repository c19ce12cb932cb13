package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cartridge/geese/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "geese",
	Short: "Hungry Geese PPO agent",
	Long: `Runs a PPO agent for Kaggle Hungry Geese.

selfplay plays episodes against rule-based opponents and collects rollouts,
serve exposes the agent as a Kaggle HTTP endpoint, and infer serves the
policy/value network over gRPC for remote actors.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded
		logger, err = newLogger(cfg.LogLevel)
		return err
	},
}

func init() {
	defaults := config.Default()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")

	// Model settings shared by every subcommand
	rootCmd.PersistentFlags().String("model-backend", defaults.ModelBackend, "Model backend (onnx, remote, uniform)")
	rootCmd.PersistentFlags().String("model-path", defaults.ModelPath, "ONNX model file")
	rootCmd.PersistentFlags().String("onnx-library-path", defaults.ONNXLibraryPath, "onnxruntime shared library")
	rootCmd.PersistentFlags().String("inference-addr", defaults.InferenceAddr, "Inference service address for the remote backend")
	rootCmd.PersistentFlags().Int("max-batch", defaults.MaxBatch, "Largest batch sent to the ONNX session at once")
	rootCmd.PersistentFlags().String("database-url", defaults.DatabaseURL, "PostgreSQL URL for episode summaries")

	rootCmd.AddCommand(selfplayCmd, serveCmd, inferCmd)
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
