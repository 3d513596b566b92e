// Package app provides the command tree of notes-collab-api.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/notes-collab-server/internal/config"
	"github.com/stacklok/notes-collab-server/internal/versions"
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "notes-collab-api",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Realtime note collaboration server",
		Long: `notes-collab-api coordinates realtime editing sessions on shared notes:
presence, content and cursor broadcasts over websockets, with every edit
checked against the note's owner and shares.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "",
		"Path to configuration file (YAML). Defaults to $XDG_CONFIG_HOME/"+config.DefaultConfigRelPath)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newPrimeDBCmd())

	return rootCmd
}

// loadConfig reads the file named by --config, or the XDG default.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	v := viper.New()
	if err := v.BindPFlag("config", cmd.Flag("config")); err != nil {
		return nil, "", fmt.Errorf("failed to bind config flag: %w", err)
	}
	v.SetEnvPrefix(config.EnvPrefix)
	if err := v.BindEnv("config"); err != nil {
		return nil, "", fmt.Errorf("failed to bind config env: %w", err)
	}

	path := v.GetString("config")
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, path, nil
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
