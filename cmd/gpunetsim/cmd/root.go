package cmd

import (
	"fmt"
	"io"
	"strings"

	"cosmossdk.io/log"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "GPUNET"

	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagOutput   = "output"

	outputText = "text"
	outputJSON = "json"
)

// NewRootCmd creates the gpunetsim command tree. Every flag can also be set
// from a config file or a GPUNET_ prefixed environment variable.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "gpunetsim",
		Short: "Simulate a GPU worker network against the compute module",
		Long: `gpunetsim runs the compute module in memory with a population of honest,
cheating, flaky and idle workers, and reports how tasks, stakes and QoS
scores evolve.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
	}

	rootCmd.PersistentFlags().String(flagConfig, "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String(flagLogLevel, zerolog.ErrorLevel.String(), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP(flagOutput, "o", outputText, "output format (text|json)")

	rootCmd.AddCommand(
		newRunCmd(v),
		newParamsCmd(v),
	)
	return rootCmd
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if path := v.GetString(flagConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	switch output := v.GetString(flagOutput); output {
	case outputText, outputJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func newLogger(v *viper.Viper, w io.Writer) (log.Logger, error) {
	level, err := zerolog.ParseLevel(v.GetString(flagLogLevel))
	if err != nil {
		return nil, err
	}
	return log.NewLogger(w, log.LevelOption(level)), nil
}
