package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rubiojr/pulse/pkg/config"
	"github.com/rubiojr/pulse/pkg/db"
	"github.com/rubiojr/pulse/pkg/storage"
	"github.com/urfave/cli/v3"
)

// MigrateCommand creates the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Show migration status without applying migrations",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return RunMigrations(ctx, cfg, c.Bool("status"))
		},
	}
}

// RunMigrations applies pending migrations, or only reports them when
// statusOnly is set.
func RunMigrations(ctx context.Context, cfg *config.Config, statusOnly bool) error {
	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	dbPath := cfg.DBPath()
	fmt.Printf("Database: %s\n", dbPath)

	store, err := storage.OpenWithoutMigrations(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	manager := db.NewMigrationManager(store.DB())

	if statusOnly {
		return showMigrationStatus(ctx, manager)
	}

	applied, err := manager.ApplyPendingMigrations(ctx)
	if err != nil {
		return err
	}
	if applied == 0 {
		fmt.Println("Database is up to date")
	} else {
		fmt.Printf("Applied %d migrations\n", applied)
	}
	return nil
}

// showMigrationStatus displays the current migration status
func showMigrationStatus(ctx context.Context, manager *db.MigrationManager) error {
	status, err := manager.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Applied migrations: %d\n", len(status.Applied))
	for _, migration := range status.Applied {
		appliedTime := "unknown"
		if migration.AppliedAt != nil {
			appliedTime = migration.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  ✓ %03d: %s (applied: %s)\n", migration.Version, migration.Name, appliedTime)
	}

	fmt.Printf("Pending migrations: %d\n", len(status.Pending))
	for _, migration := range status.Pending {
		fmt.Printf("  • %03d: %s\n", migration.Version, migration.Name)
	}

	if len(status.Pending) == 0 {
		fmt.Println("  (none - database is up to date)")
	}

	return nil
}
