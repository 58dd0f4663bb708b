package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/0xAtelerix/yieldchain/application"
	"github.com/0xAtelerix/yieldchain/application/api"
)

var (
	configPath string
	dataDir    string
	rpcPort    string
)

var rootCmd = &cobra.Command{
	Use:   "yieldchain",
	Short: "Pooled-capital accounting appchain",
	Long: `yieldchain runs a single-sequencer appchain that tracks pooled capital:
allocation registry, oracle adapter, share ledger and strategy zaps.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the node and the JSON-RPC server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		return Run(cmd.Context(), cfg, nil)
	},
}

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Write the configured genesis state into an empty database and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		return Genesis(cmd.Context(), cfg)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(out)

		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override data directory")
	rootCmd.PersistentFlags().StringVar(&rpcPort, "rpc-port", "", "Override JSON-RPC listen address")

	rootCmd.AddCommand(runCmd, genesisCmd, configCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	if rpcPort != "" {
		cfg.RPCPort = rpcPort
	}

	return cfg, nil
}

func setupLogger(cfg *Config) zerolog.Logger {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.Level(cfg.LogLevel))

	return log.Logger
}

func runtimeArgs(cfg *Config) application.RuntimeArgs {
	return application.RuntimeArgs{
		DBPath:       filepath.Join(cfg.DataDir, "state"),
		PoolCapacity: cfg.PoolCapacity,
		Genesis:      &cfg.Genesis,
	}
}

// Run starts the node and serves JSON-RPC until ctx is cancelled or a signal
// arrives. ready, if not nil, receives the bound RPC port.
func Run(ctx context.Context, cfg *Config, ready chan<- int) error {
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := application.OpenNode(ctx, cfg.Chain, runtimeArgs(cfg), logger)
	if err != nil {
		return fmt.Errorf("open node: %w", err)
	}
	defer node.Close()

	logger.Info().Str("data_dir", cfg.DataDir).Msg("Starting appchain...")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return node.Run(ctx)
	})

	g.Go(func() error {
		return api.Serve(ctx, cfg.RPCPort, api.NewRouter(node, node.Registry, logger), ready, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info().Msg("appchain stopped")

	return nil
}

// Genesis opens the state database, applies the configured genesis when the
// database is empty and closes it again.
func Genesis(ctx context.Context, cfg *Config) error {
	logger := setupLogger(cfg)

	node, err := application.OpenNode(ctx, cfg.Chain, runtimeArgs(cfg), logger)
	if err != nil {
		return fmt.Errorf("open node: %w", err)
	}
	defer node.Close()

	logger.Info().Str("data_dir", cfg.DataDir).Msg("genesis state ready")

	return nil
}
