package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var connCmd = &cobra.Command{
	Use:   "conn",
	Short: "Test the S3 connection with a read/write probe",
	Long: `Verify bucket access end to end: existence check, then write, read back
and delete a throwaway probe object.

Example:
  pgvault conn`,
	Args: cobra.NoArgs,
	RunE: runConn,
}

func init() {
	rootCmd.AddCommand(connCmd)
}

func runConn(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}

	fmt.Println("Testing S3 connection...")
	if err := m.TestConnection(cmd.Context()); err != nil {
		return fmt.Errorf("S3 connection test failed: %w", err)
	}
	fmt.Println("✓ S3 connection test successful!")
	return nil
}
