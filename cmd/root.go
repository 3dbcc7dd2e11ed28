package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stasis-sh/stasis/pkg/config"
	"github.com/stasis-sh/stasis/pkg/logging"
)

const (
	configFlag    = "config"
	configDirFlag = "config-dir"
	logLevelFlag  = "log-level"
)

func init() {
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(restoreCmd)

	rootCmd.PersistentFlags().
		String(configFlag, "", "one-time config JSON string (merged with existing config)")
	rootCmd.PersistentFlags().String(configDirFlag, "", "custom config directory")
	rootCmd.MarkPersistentFlagDirname(configDirFlag)
	rootCmd.PersistentFlags().String(logLevelFlag, "", "log level (debug, info, warn, error, none)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup(logLevelFlag))
}

var rootCmd = &cobra.Command{
	Use:   "stasis",
	Short: "Checkpoint/restore orchestrator for OCI containers",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		conf, _ := cmd.Flags().GetString(configFlag)
		confDir, _ := cmd.Flags().GetString(configDirFlag)
		if err := config.Init(config.InitArgs{
			Config:    conf,
			ConfigDir: confDir,
		}); err != nil {
			return err
		}
		logging.InitLogger(config.Global.LogLevel)
		return nil
	},
	SilenceUsage: true,
}

func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		return err
	}
	return nil
}
