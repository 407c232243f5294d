package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/labelflow/internal/config"
	"github.com/JonMunkholm/labelflow/internal/core"
	"github.com/JonMunkholm/labelflow/internal/logging"
	"github.com/JonMunkholm/labelflow/internal/store"
	"github.com/JonMunkholm/labelflow/internal/store/memstore"
	"github.com/JonMunkholm/labelflow/internal/store/postgres"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	envFile   string
	dryRun    bool
	logLevel  string
	logFormat string
}

// app is what a subcommand runs with once PersistentPreRunE has loaded the
// configuration.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger *slog.Logger
}

func rootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          "labelflow",
		Short:        "Import and export annotation datasets",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.envFile, "env-file", ".env", "Environment file to load if present")
	pf.BoolVar(&a.flags.dryRun, "dry-run", false, "Run against an in-memory store seeded from the job file")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from LOG_LEVEL)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "Log format: text, json (default from LOG_FORMAT)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.initialize(cmd)
	}

	rootCmd.AddCommand(
		a.runCommand(),
		a.importCommand(),
		a.exportCommand(),
		a.catalogCommand(),
		a.migrateCommand(),
	)
	return rootCmd
}

// initialize loads the environment file and configuration and sets up
// logging on stderr, keeping stdout for command output.
func (a *app) initialize(cmd *cobra.Command) error {
	if err := godotenv.Load(a.flags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.flags.envFile, err)
	}

	var err error
	if a.flags.dryRun || cmd.Name() == "catalog" {
		a.cfg, err = config.LoadLocal()
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level := a.flags.logLevel
	if level == "" {
		level = a.cfg.Logging.Level
	}
	format := a.flags.logFormat
	if format == "" {
		format = a.cfg.Logging.Format
	}
	a.logger = logging.New(cmd.ErrOrStderr(), level, format)
	slog.SetDefault(a.logger)
	return nil
}

// openStore returns the store jobs run against and a function releasing it.
// A dry run gets a fresh in-memory store holding projects.
func (a *app) openStore(ctx context.Context, projects []config.ProjectSpec) (store.Store, func(), error) {
	if a.flags.dryRun {
		st := memstore.New()
		for _, spec := range projects {
			p := st.AddProject(spec.Project())
			for _, m := range spec.Members {
				st.AddMember(p.ID, m.Member())
			}
		}
		return st, func() {}, nil
	}

	pool, err := postgres.Connect(ctx, a.cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return postgres.New(pool), pool.Close, nil
}

// newService builds a job service from the loaded configuration.
func (a *app) newService(st store.Store) *core.Service {
	return core.NewService(st, core.Options{
		ExportDir:         a.cfg.Export.Dir,
		MaxConcurrentJobs: a.cfg.Import.MaxConcurrent,
		MaxWait:           a.cfg.Import.MaxWaitTime,
		JobTimeout:        a.cfg.Import.Timeout,
		BatchSize:         a.cfg.Import.BatchSize,
		MaxFileSize:       int64(a.cfg.Import.MaxFileSize),
		DefaultEncoding:   a.cfg.Import.DefaultEncoding,
		ResultTTL:         a.cfg.Import.ResultTTL,
		Logger:            a.logger,
	})
}
