package main

import (
	"os"

	"PPresence/data/database"
	"PPresence/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dsn string

var rootCmd = &cobra.Command{
	Use:   "presence-migrate",
	Short: "Apply or roll back the presence gateway schema",
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrate("up")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrate("down")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&dsn, "database-url", os.Getenv("DATABASE_URL"),
		"Postgres DSN (default: $DATABASE_URL)",
	)
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
}

func migrate(direction string) error {
	if err := database.Migrate(dsn, direction); err != nil {
		return err
	}
	logger.Info("[migrate] done", zap.String("direction", direction))
	return nil
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		logger.Error("[migrate] failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
