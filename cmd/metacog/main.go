// Command metacog drives metacognitive sessions from the terminal: an
// interactive chat, audit inspection, fixture replay and a gRPC text service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/metacog/go-controller/internal/config"
	"github.com/danielpatrickdp/metacog/go-controller/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

// #region root
var rootCmd = &cobra.Command{
	Use:   "metacog",
	Short: "Perceive, harmonize and expand with an auditable ethics gate",
	Long: `metacog runs the perceive -> harmonize -> expand loop over persistent
sessions. Every draft is scored for alignment, responsibility and drift and
passes through a threshold gate whose verdicts are kept in an audit log.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if logger, err = logging.NewLogger(cfg.Logging); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "metacog.yaml", "path to YAML config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(chatCmd, inspectCmd, replayCmd, serveProducerCmd, initConfigCmd)
}

// #endregion root

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
