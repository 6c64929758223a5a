package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/clipdrop/internal/logging"
	"github.com/dmitrijs2005/clipdrop/internal/server"
	"github.com/dmitrijs2005/clipdrop/internal/server/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	owner      string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "clipdrop",
		Short: "Encrypted file and clipboard drop with automatic expiry",
		Long: `clipdrop stores files and clipboard snippets encrypted at rest, on local disk or in an
S3-compatible bucket, and deletes them once their retention window passes unless retained.

Configuration comes from defaults, an optional JSON/YAML file (--config) and the environment
(ENCRYPTION_KEY, STORAGE_TYPE, DATABASE_URL, ...).`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a JSON or YAML config file")
	cmd.PersistentFlags().StringVar(&opts.owner, "owner", defaultOwner(), "owner id for new and listed items")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSweepCmd(opts),
		newKeygenCmd(),
		newPutCmd(opts),
		newPasteCmd(opts),
		newGetCmd(opts),
		newRmCmd(opts),
		newRetainCmd(opts),
		newLsCmd(opts),
		newTagCmd(opts),
		newMvCmd(opts),
		newFavCmd(opts),
		newRenameCmd(opts),
	)
	return cmd
}

func defaultOwner() string {
	if v := os.Getenv("CLIPDROP_OWNER"); v != "" {
		return v
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "local"
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// withApp builds a migrated App for the duration of fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *server.App) error) error {
	ctx := cmd.Context()

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	app, err := server.NewApp(ctx, cfg, logging.NewTextLogger(cmd.ErrOrStderr(), cfg.LogLevel))
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Migrate(ctx); err != nil {
		return err
	}
	return fn(ctx, app)
}
