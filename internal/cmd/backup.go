package cmd

import (
	"github.com/spf13/cobra"

	"pgvault-cli/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Dump the database and upload it to S3",
	Long: `Dump the configured database out of its container, compress the dump and
upload it to the configured S3 bucket.

The object key is [BACKUP_PATH/][--prefix/]dump_<database>_<timestamp>.tar.gz.
The --prefix value is sanitized before use: traversal segments are dropped,
reserved credential prefixes are rejected.

Examples:
  # Plain backup
  pgvault backup

  # Backup under an extra prefix
  pgvault backup --prefix daily

  # Backup, then keep only the 7 most recent objects under the prefix
  pgvault backup --prefix daily --prune --remainder 7

  # Apply a YAML retention policy after the upload
  pgvault backup --retention-policy retention.yaml

  # Show what would happen without dumping or uploading
  pgvault backup --dry-run`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	initBackupFlags()
	rootCmd.AddCommand(backupCmd)
}

func initBackupFlags() {
	backupCmd.Flags().String("prefix", getEnvWithDefault("PGVAULT_PREFIX", ""), "extra object-key prefix under BACKUP_PATH")
	backupCmd.Flags().Bool("prune", false, "delete old objects under the effective prefix after upload")
	backupCmd.Flags().Int("remainder", getEnvIntWithDefault("PGVAULT_REMAINDER", 7), "number of most recent objects to keep when pruning")
	backupCmd.Flags().String("retention-policy", "", "YAML retention policy file applied after upload")
	backupCmd.Flags().Bool("dry-run", false, "show what would be done without doing it")
	backupCmd.Flags().BoolP("yes", "y", false, "skip confirmation prompts")
}

func runBackup(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}

	opts := &backup.BackupOptions{
		Prefix:              mustGetStringFlag(cmd, "prefix"),
		Prune:               mustGetBoolFlag(cmd, "prune"),
		Remainder:           mustGetIntFlag(cmd, "remainder"),
		RetentionPolicyFile: mustGetStringFlag(cmd, "retention-policy"),
		DryRun:              mustGetBoolFlag(cmd, "dry-run"),
		AssumeYes:           mustGetBoolFlag(cmd, "yes"),
	}
	return m.Backup(cmd.Context(), opts)
}
