package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mana-sync-service/internal/app"
	"mana-sync-service/internal/config"
	"mana-sync-service/internal/logger"
	"mana-sync-service/internal/migrations"
	"mana-sync-service/internal/sync"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "manasync",
		Short:         "Incrementally mirror Scryfall symbology and card searches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before the config")

	cmd.AddCommand(newServeCmd(opts), newSyncCmd(opts), newMigrateCmd(opts))
	return cmd
}

// setup loads configuration and initialises the logger.
func (o *rootOptions) setup() (*config.Config, error) {
	_ = godotenv.Load(o.envFile)

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			service, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer service.Close()
			return service.Serve(ctx)
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [collection...]",
		Short: "Run one sync cycle for the given collections, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			service, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer service.Close()

			outcomes, err := runCollections(ctx, service.Manager, args)
			if err != nil {
				return err
			}
			return report(cmd, outcomes)
		},
	}
}

func runCollections(ctx context.Context, m *sync.Manager, names []string) ([]sync.Outcome, error) {
	if len(names) == 0 {
		return m.RunAll(ctx), nil
	}
	outcomes := make([]sync.Outcome, 0, len(names))
	for _, name := range names {
		out, err := m.Run(ctx, name)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// report prints one line per outcome and fails when any cycle did not succeed.
func report(cmd *cobra.Command, outcomes []sync.Outcome) error {
	failed := 0
	for _, out := range outcomes {
		fmt.Fprintln(cmd.OutOrStdout(), out.String())
		if out.Status != sync.StatusSucceeded {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d collections did not sync", failed, len(outcomes))
	}
	return nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the comparison table schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := opts.setup()
				if err != nil {
					return err
				}
				defer logger.Sync()
				return migrations.Up(cmd.Context(), cfg.StateStorage)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back the given number of migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps, err := parseSteps(args)
				if err != nil {
					return err
				}
				cfg, err := opts.setup()
				if err != nil {
					return err
				}
				defer logger.Sync()
				logger.Log.Info("Rolling back migrations", zap.Int("steps", steps))
				return migrations.Down(cmd.Context(), cfg.StateStorage, steps)
			},
		},
	)
	return cmd
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("steps must be a positive integer, got %q", args[0])
	}
	return steps, nil
}
