package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pgvault-cli/internal/backup"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <payload.sql>",
	Short: "Restore the database from a downloaded SQL payload",
	Long: `Feed a dump_*.sql payload into the database inside its container.

By default the database is purged first: active connections are terminated
and the database is dropped and recreated empty. Pass --no-purge to apply
the payload on top of the existing database instead. A failed purge aborts
the run before the restore is attempted.

Examples:
  pgvault restore ./dump_mydb_20240101_000000.sql
  pgvault restore ./dump_mydb_20240101_000000.sql --no-purge
  pgvault restore ./dump_mydb_20240101_000000.sql --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

var restoreLegacyCmd = &cobra.Command{
	Use:        "restore-legacy <url-or-key>",
	Short:      "Download, extract and restore in one step (deprecated)",
	Deprecated: "use 'download' followed by 'restore' instead",
	Args:       cobra.ExactArgs(1),
	RunE:       runRestoreLegacy,
}

func init() {
	initRestoreFlags()
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(restoreLegacyCmd)
}

func initRestoreFlags() {
	restoreCmd.Flags().Bool("purge", getEnvBoolWithDefault("PGVAULT_PURGE", true), "drop and recreate the database before restoring")
	restoreCmd.Flags().Bool("no-purge", false, "restore on top of the existing database")
	restoreCmd.Flags().BoolP("yes", "y", false, "skip the purge confirmation prompt")

	restoreLegacyCmd.Flags().BoolP("yes", "y", false, "skip the purge confirmation prompt")
}

func runRestore(cmd *cobra.Command, args []string) error {
	if mustGetBoolFlag(cmd, "purge") && mustGetBoolFlag(cmd, "no-purge") &&
		cmd.Flags().Changed("purge") && cmd.Flags().Changed("no-purge") {
		return fmt.Errorf("--purge and --no-purge are mutually exclusive")
	}

	m, err := newManager(cmd)
	if err != nil {
		return err
	}

	purge := mustGetBoolFlag(cmd, "purge")
	if mustGetBoolFlag(cmd, "no-purge") {
		purge = false
	}

	return m.Restore(cmd.Context(), args[0], &backup.RestoreOptions{
		Purge:     purge,
		AssumeYes: mustGetBoolFlag(cmd, "yes"),
	})
}

func runRestoreLegacy(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}
	return m.RestoreLegacy(cmd.Context(), args[0], mustGetBoolFlag(cmd, "yes"))
}
