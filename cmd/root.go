package cmd

import (
	"os"

	"github.com/djcass44/envlock/cmd/cache"
	"github.com/djcass44/envlock/internal/config"
	"github.com/djcass44/go-utils/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var command = &cobra.Command{
	Use:          "envlock",
	Short:        "lock conda environments",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel, _ := cmd.Flags().GetInt(flagLogLevel)
		configPath, _ := cmd.Flags().GetString(flagConfig)

		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.Level(logLevel * -1))

		_, ctx := logging.NewZap(cmd.Context(), zc)

		cfg, err := config.Load(ctx, configPath)
		if err != nil {
			return err
		}
		cmd.SetContext(config.NewContext(ctx, cfg))
		return nil
	},
}

const (
	flagLogLevel = "v"
	flagConfig   = "config"
	flagFile     = "file"
	flagPlatform = "platform"
)

func init() {
	command.PersistentFlags().Int(flagLogLevel, 0, "log level. Higher is more")
	command.PersistentFlags().String(flagConfig, "", "path to a configuration file")
	_ = command.MarkPersistentFlagFilename(flagConfig, ".yaml", ".yml")

	command.AddCommand(lockCmd, validateCmd, renderCmd, cache.Command)
}

func Execute(version string) {
	command.Version = version
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
