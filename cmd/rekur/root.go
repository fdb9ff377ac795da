package main

import (
	"fmt"
	"os"

	"github.com/rekurlabs/rekur/internal/config"
	"github.com/rekurlabs/rekur/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rekur",
	Short: "Rekur recursive language model runtime",
	Long:  `Rekur answers prompts by letting a model reason in executable code, recursing into sub-models through a local request broker.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rekur/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("server.bind_addr", config.DefaultServerBindAddr, "broker bind address")
}
