package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup objects in the bucket",
	Long: `List backup objects under BACKUP_PATH (plus an optional --prefix), most
recent first.

Examples:
  pgvault list
  pgvault list --prefix daily --limit 10
  pgvault list --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	initListFlags()
	rootCmd.AddCommand(listCmd)
}

func initListFlags() {
	listCmd.Flags().String("prefix", "", "extra object-key prefix under BACKUP_PATH")
	listCmd.Flags().Int("limit", 0, "maximum number of objects to show (0 = all)")
	listCmd.Flags().Bool("json", false, "output as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}

	objs, err := m.List(cmd.Context(), mustGetStringFlag(cmd, "prefix"), mustGetIntFlag(cmd, "limit"))
	if err != nil {
		return err
	}

	if mustGetBoolFlag(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(objs)
	}

	if len(objs) == 0 {
		fmt.Println("No backup objects found")
		return nil
	}
	for _, o := range objs {
		fmt.Printf("%s  %12d  %s\n", o.LastModified.Format("2006-01-02 15:04:05"), o.Size, o.Key)
	}
	fmt.Printf("\n%d object(s)\n", len(objs))
	return nil
}
