package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// commandsWithValue 需要一个位置参数（可能为负数，不能交给 flag 解析）
var commandsWithValue = map[string]bool{"steps": true, "goto": true, "force": true}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			os.Exit(1)
		}
		return
	}

	cliArgs, flagArgs := splitMigrateArgs(args)

	fs := flag.NewFlagSet("migrate "+args[0], flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	_ = fs.Parse(flagArgs)

	logger, _ := initLogger(defaultCLILogConfig())
	defer func() { _ = logger.Sync() }()

	migrator, err := createMigrator(*configPath, *dbType, *dbURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).Run(context.Background(), cliArgs); err != nil {
		if errors.Is(err, migration.ErrUnknownCommand) {
			printMigrateUsage()
		}
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// splitMigrateArgs separates "<command> [value]" from trailing flags.
func splitMigrateArgs(args []string) (cliArgs, flagArgs []string) {
	cliArgs = []string{args[0]}
	rest := args[1:]
	if commandsWithValue[args[0]] && len(rest) > 0 {
		cliArgs = append(cliArgs, rest[0])
		rest = rest[1:]
	}
	return cliArgs, rest
}

// createMigrator builds a migrator from --db-type/--db-url, or from the
// database section of the config file.
func createMigrator(configPath, dbType, dbURL string, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Print(migration.Usage)
	fmt.Println(`
Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  storeflow migrate up --config /etc/storeflow/config.yaml
  storeflow migrate steps -1
  storeflow migrate goto 1 --db-type sqlite --db-url "file:storeflow.db?mode=rwc"
  storeflow migrate status`)
}
