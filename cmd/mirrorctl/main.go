// Command mirrorctl is the operator tool for orphan detection, metadata
// recovery, ledger replay and search reindexing.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mirrorsplit/internal/config"
	"mirrorsplit/internal/pkg/logger"
	"mirrorsplit/internal/server"
)

var (
	verbose bool
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "mirrorctl",
	Short: "Operate the MirrorSplit upload store",
	Long: `Operator commands for the upload store.

Available subcommands:
  orphans        - List stored binaries that have no metadata record
  recover        - Upsert a metadata record for an orphaned binary
  replay-ledger  - Copy local ledger records missing from the database into it
  reindex        - Rebuild the search index from the metadata store`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(orphansCmd, recoverCmd, replayLedgerCmd, reindexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openServer builds the same component graph as the API process.
func openServer(ctx context.Context) (*server.Server, *zap.Logger, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logger.New(false, level)
	if err != nil {
		return nil, nil, err
	}

	srv, err := server.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init: %w", err)
	}
	return srv, log, nil
}
