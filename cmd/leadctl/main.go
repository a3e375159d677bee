// leadctl inspects and maintains persisted lead magnet sessions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fluia/leadmagnet/internal/config"
	"github.com/fluia/leadmagnet/internal/script"
	"github.com/fluia/leadmagnet/internal/store"
)

var errSessionNotFound = errors.New("session not found")

// openRepo is replaced in tests.
var openRepo = func(ctx context.Context) (store.Repository, error) {
	cfg, err := config.LoadStore()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg.ToStore(), slog.Default())
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "leadctl",
		Short:        "Inspect and maintain lead magnet sessions",
		SilenceUsage: true,
	}
	root.AddCommand(newSessionsCmd(), newScriptCmd())
	return root
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Work with persisted session snapshots",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List persisted session ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd.Context(), func(repo store.Repository) error {
				ids, err := repo.List(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), ids)
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print ids as a JSON array")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(repo store.Repository) error {
				s, err := repo.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if s == nil {
					return fmt.Errorf("%w: %s", errSessionNotFound, args[0])
				}
				return writeJSON(cmd.OutOrStdout(), s)
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <session-id>...",
		Short: "Delete session snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(repo store.Repository) error {
				for _, id := range args {
					if err := repo.Clear(cmd.Context(), id); err != nil {
						return fmt.Errorf("clear %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", id)
				}
				return nil
			})
		},
	}

	var ttl time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots not saved within --ttl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			return withRepo(cmd.Context(), func(repo store.Repository) error {
				deleted, err := repo.CleanupExpired(cmd.Context(), ttl)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired sessions\n", deleted)
				return nil
			})
		},
	}
	prune.Flags().DurationVar(&ttl, "ttl", 7*24*time.Hour, "age after which a snapshot is expired")

	cmd.AddCommand(list, show, clearCmd, prune)
	return cmd
}

func newScriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Work with question scripts",
	}
	check := &cobra.Command{
		Use:   "check [path]",
		Short: "Validate a question script (the embedded one when no path is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			sc, err := script.Load(path)
			if err != nil {
				return err
			}
			name := path
			if name == "" {
				name = "embedded script"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d questions\n", name, sc.Len())
			return nil
		},
	}
	cmd.AddCommand(check)
	return cmd
}

func withRepo(ctx context.Context, fn func(store.Repository) error) error {
	repo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Warn("Failed to close repository", "error", closeErr)
		}
	}()
	return fn(repo)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
