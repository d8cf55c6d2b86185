package cmd

import (
	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download <url-or-key> [dir]",
	Short: "Download a backup archive and extract its SQL payload",
	Long: `Download a backup object and safely extract it into a directory (the
working directory if none is given).

The reference is either a bare object key or an s3://bucket/key URL whose
bucket must match the configured S3_BUCKET. Every archive member is
validated before extraction; the archive must contain exactly one
dump_*.sql payload.

Examples:
  pgvault download prod/dump_mydb_20240101_000000.tar.gz
  pgvault download s3://my-backups/prod/dump_mydb_20240101_000000.tar.gz ./restore`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}

	destDir := "."
	if len(args) == 2 {
		destDir = args[1]
	}

	_, err = m.Download(cmd.Context(), args[0], destDir)
	return err
}
