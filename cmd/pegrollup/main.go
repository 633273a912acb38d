// pegrollup runs the rollup builder and auditor against an in-process peg
// and inspects block archives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/colorfulnotion/pegrollup/config"
	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/colorfulnotion/pegrollup/storage"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "pegrollup",
		Short: "Optimistic rollup builder and auditor",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		configPath string
		dataDir    string
		logLevel   string
		debug      string
		otlp       string
	)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "LevelDB directory (in-memory when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma separated log modules to enable, e.g. builder_mod,auditor_mod")
	rootCmd.PersistentFlags().StringVar(&otlp, "otlp-endpoint", "", "OTLP/HTTP trace collector host:port")

	loadConfig := func(cmd *cobra.Command) (config.Config, error) {
		cfg := config.Default()
		if configPath != "" {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return cfg, err
			}
		}
		flags := cmd.Flags()
		if flags.Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if flags.Changed("debug") {
			cfg.EnabledLogModules = debug
		}
		if flags.Changed("otlp-endpoint") {
			cfg.OTLPEndpoint = otlp
		}
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
		if err := log.InitLogger(cfg.LogLevel); err != nil {
			return cfg, err
		}
		log.EnableModules(cfg.EnabledLogModules)
		return cfg, nil
	}

	var (
		blocks   int
		accounts int
	)
	var devnetCmd = &cobra.Command{
		Use:   "devnet",
		Short: "Produce and audit blocks against an in-process peg",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := setupTracing(ctx, cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Warn(log.Tracing, "tracing shutdown", "err", err)
				}
			}()
			return runDevnet(ctx, cfg, blocks, accounts, cmd.OutOrStdout())
		},
	}
	devnetCmd.Flags().IntVar(&blocks, "blocks", 5, "number of blocks to produce")
	devnetCmd.Flags().IntVar(&accounts, "accounts", 3, "number of dev accounts to fund (at most 5)")

	var blockNumber int
	var inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Print the blocks stored in a data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DataDir == "" {
				return fmt.Errorf("inspect needs --data-dir")
			}
			store, err := storage.NewPersistenceStore(filepath.Join(cfg.DataDir, "chain"))
			if err != nil {
				return err
			}
			defer store.Close()
			archive := storage.NewBlockArchive(store)
			out := cmd.OutOrStdout()
			if blockNumber >= 0 {
				blk, err := archive.GetBlock(uint32(blockNumber))
				if err != nil {
					return err
				}
				fmt.Fprintln(out, blk.ToTree().String())
				return nil
			}
			all, err := archive.Blocks()
			if err != nil {
				return err
			}
			for _, blk := range all {
				fmt.Fprintln(out, blk.ToTree().String())
			}
			return nil
		},
	}
	inspectCmd.Flags().IntVar(&blockNumber, "block", -1, "only print this block")

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pegrollup %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.AddCommand(devnetCmd, inspectCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
