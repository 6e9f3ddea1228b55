// Package commands holds the cobra commands of the itemrsocket binary.
package commands

import (
	"item-rsocket/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	debug      bool

	cfg    config.Config
	logger *zap.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:           "itemrsocket",
		Short:         "Item service over a shared multiplexed connection",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
			if debug {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults apply when empty)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "development logging")

	root.AddCommand(gatewayCmd(), responderCmd())
	return root.Execute()
}
