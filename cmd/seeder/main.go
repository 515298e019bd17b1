// cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/unclebandit/leaddrip-backend/internal/config"
	"github.com/unclebandit/leaddrip-backend/internal/db"
	"github.com/unclebandit/leaddrip-backend/internal/logger"
)

var (
	migrationsDir string
	seedDir       string
)

// rootCmd applies the schema and then the seed data
var rootCmd = &cobra.Command{
	Use:   "seeder",
	Short: "Prepare the lead drip database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), migrationsDir, seedDir)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema files only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), migrationsDir)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load seed data only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), seedDir)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "migrations", "migrations", "directory of schema files")
	rootCmd.PersistentFlags().StringVar(&seedDir, "seed", "seed", "directory of seed files")
	rootCmd.AddCommand(migrateCmd, seedCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, dirs ...string) error {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, "text")

	conn, err := db.Open(ctx, cfg.DSN(), log)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, dir := range dirs {
		if err := applyDir(ctx, conn, dir, log); err != nil {
			return err
		}
	}

	log.Info("Database seeding completed successfully!")
	return nil
}

// applyDir executes every .sql file in dir in name order.
func applyDir(ctx context.Context, conn *sql.DB, dir string, log logrus.FieldLogger) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", file, err)
		}
		log.WithField("file", file).Info("Applied")
	}
	return nil
}
