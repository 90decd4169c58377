// Command versionctl generates document versions locally against a SQLite
// database, and inspects credit balances and live progress.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/docversions/internal/apperr"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitGeneral   = 1
	ExitRequest   = 2
	ExitCredits   = 3
	ExitPipeline  = 4
	ExitInterrupt = 130
)

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "versionctl",
		Short:         "Generate narrated document versions locally",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if opts.verbose {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("SQLITE_PATH", "docversions.db"), "SQLite database path")
	root.PersistentFlags().StringVar(&opts.user, "user", envOr("VERSIONCTL_USER", "local"), "user the credits belong to")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress")

	root.AddCommand(generateCmd(opts), balanceCmd(opts), watchCmd())
	return root
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.Is(err, apperr.ErrInsufficientCredits):
		return ExitCredits
	case errors.Is(err, apperr.ErrInvalidLevel), errors.Is(err, apperr.ErrVersionLimitReached),
		errors.Is(err, apperr.ErrDocumentNotFound), errors.Is(err, apperr.ErrAuthRequired):
		return ExitRequest
	case errors.Is(err, apperr.ErrSectionIdentificationFailed), errors.Is(err, apperr.ErrMarkerNotFound),
		errors.Is(err, apperr.ErrProviderError), errors.Is(err, apperr.ErrMalformedStructuredOutput):
		return ExitPipeline
	}
	return ExitGeneral
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
