// Command deeptrace runs the DeepTrace account and session API.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/deeptrace/deeptrace/internal/config"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "deeptrace",
	Short: "DeepTrace API server",
	Long: `DeepTrace serves account registration, email/password and Google
sign-in, cookie sessions and per-user media lists.

  deeptrace serve      Start the HTTP (and optional gRPC) server
  deeptrace migrate    Create or update the SQL schema
  deeptrace cleanup    Delete expired tokens and sessions once`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
		slog.SetDefault(logger)
		return nil
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd, cleanupCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
