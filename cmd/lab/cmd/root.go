package cmd

import (
	"net/http"

	"github.com/spf13/cobra"

	"lending-strategy-lab/internal/config"
	"lending-strategy-lab/internal/logger"
	"lending-strategy-lab/internal/observability"
)

var (
	cfgPath  string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lab",
	Short: "Leveraged lending strategy evaluation lab",
	Long: `Lab evaluates leveraged lending and borrowing strategies over recorded
market rate snapshots.

It provides tools for:
  - Scanning a market snapshot for strategy candidates ranked by APR
  - Allocating portfolio capital across candidates under exposure constraints
  - Replaying a position's rebalance history over snapshot data`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if cfg.LogFile != "" {
			if err := logger.InitializeWithFile(cfg.LogLevel, cfg.LogFile); err != nil {
				return err
			}
		} else {
			logger.Initialize(cfg.LogLevel)
		}

		if cfg.Metrics.Enabled {
			go serveMetrics(cfg.Metrics.ListenAddr)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level")
}

func serveMetrics(addr string) {
	log := logger.GetForComponent("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
