// Command flashsync studies flashcards from the terminal, serves the desktop
// companion API and pairs with a phone to sync its card store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/config"
	"github.com/conorfennell/flashsync/internal/storage"
)

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "flashsync",
	Short:         "Spaced-repetition flashcards with phone sync",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		c, err := config.Load(path, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = c
		logger = cfg.Log.NewLogger(os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "flashsync.yaml", "Path to a YAML config file")
	pf.String("db", "", "Path to the SQLite database file")
	pf.String("fallback-dir", "", "Directory used when SQLite is unavailable")
	pf.String("repos-dir", "", "Where git sources are checked out")
	pf.String("log.level", "", "Log level: debug, info, warn or error")
	pf.String("log.format", "", "Log format: text or json")

	rootCmd.AddCommand(serveCmd, dueCmd, nextCmd, answerCmd, buryCmd, statsCmd, importCmd, exportCmd, pairCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore opens the configured backend and a handle over it. The caller
// closes the backend.
func openStore(ctx context.Context) (storage.Backend, *cardstore.Handle, error) {
	backend, err := storage.Open(ctx, cfg.DB, cfg.FallbackDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return backend, cardstore.NewHandle(backend, logger), nil
}
