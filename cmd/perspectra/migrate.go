package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/perspectra/config"
	"github.com/BaSui01/perspectra/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}
	switch args[0] {
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := executeMigrate(ctx, args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

type migrateOptions struct {
	configPath string
	dbType     string
	dbURL      string
	all        bool
	positional []string
}

// parseMigrateArgs 允许位置参数出现在 flag 之前或之后
func parseMigrateArgs(sub string, args []string) (migrateOptions, error) {
	var opts migrateOptions
	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.dbType, "db-type", "", "Database type: postgres, mysql, sqlite")
	fs.StringVar(&opts.dbURL, "db-url", "", "Database connection URL")
	fs.BoolVar(&opts.all, "all", false, "Rollback all migrations (down only)")

	for len(args) > 0 {
		if !strings.HasPrefix(args[0], "-") {
			opts.positional = append(opts.positional, args[0])
			args = args[1:]
			continue
		}
		if err := fs.Parse(args); err != nil {
			return opts, err
		}
		args = fs.Args()
	}
	return opts, nil
}

// executeMigrate maps the command line onto the migration CLI.
func executeMigrate(ctx context.Context, args []string, out io.Writer) error {
	sub := args[0]
	opts, err := parseMigrateArgs(sub, args[1:])
	if err != nil {
		return err
	}

	switch sub {
	case "reset":
		sub = "down-all"
	case "down":
		if opts.all {
			sub = "down-all"
		}
	}

	logger := zap.NewNop()
	m, err := createMigrator(opts, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(out)
	return cli.Execute(ctx, sub, opts.positional)
}

// createMigrator 优先使用 --db-url，否则从配置文件构建
func createMigrator(opts migrateOptions, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if opts.dbURL != "" {
		dbType := opts.dbType
		if dbType == "" {
			dbType = "postgres"
		}
		return migration.NewMigratorFromURL(dbType, opts.dbURL, logger)
	}

	loader := config.NewLoader()
	if opts.configPath != "" {
		loader = loader.WithConfigPath(opts.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.dbType != "" {
		cfg.Database.Driver = opts.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  perspectra migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration (--all for every migration)
  steps <n>   Apply or rollback n migrations
  status      Show migration status
  info        Show current version and pending count
  version     Show current migration version
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  reset       Rollback all migrations
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  perspectra migrate up
  perspectra migrate up --config /etc/perspectra/config.yaml
  perspectra migrate down --all
  perspectra migrate goto 1
  perspectra migrate status --db-type sqlite --db-url sqlite://perspectra.db`)
}
