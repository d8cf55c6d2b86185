package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pgvault-cli/internal/backup"
	"pgvault-cli/internal/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "pgvault",
		Short: "pgvault - PostgreSQL backup and restore to S3",
		Long: `pgvault backs up a dockerized PostgreSQL database to an S3 bucket and
restores it back, with strict validation of every configured value before it
can reach a command line or SQL statement.

Configuration is read from pgvault.conf (working directory, then
$XDG_CONFIG_HOME/pgvault/, then /etc/pgvault/), or from the file given with
--config.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: pgvault.conf in the search path)")
	rootCmd.PersistentFlags().String("env", "", "load environment variables from this file")
	rootCmd.PersistentFlags().CountP("verbose", "v", "verbose output (repeat for more detail)")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Load environment variables from a .env file in the current directory.
	// Missing file is fine - variables can still come from the shell.
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}
}

// initEnv maps PGVAULT_* environment variables into viper, so settings like
// PGVAULT_VERBOSE work alongside their flags.
func initEnv() {
	viper.SetEnvPrefix("PGVAULT")
	viper.AutomaticEnv()
}

// newManager loads the resolved config file and builds the orchestration
// manager all commands share. The --env file, if given, is loaded first so
// S3_ENDPOINT-style overrides are visible.
func newManager(cmd *cobra.Command) (*backup.Manager, error) {
	if envPath := mustGetStringFlag(cmd, "env"); envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load env file %q: %w", envPath, err)
		}
	}

	cfg, err := config.LoadResolved(cfgFile)
	if err != nil {
		return nil, err
	}

	m, err := backup.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	m.Verbose = viper.GetInt("verbose")
	if m.Verbose > 0 {
		fmt.Printf("Using config file %s\n", cfg.Path)
	}
	return m, nil
}
