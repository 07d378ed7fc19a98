package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tarun-kavipurapu/linkchat/pkg/config"
	"tarun-kavipurapu/linkchat/pkg/logger"
)

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "linkchat",
	Short: "Point-to-point chat link",
	Long:  `Keeps exactly one duplex connection to a nearby peer and chats over it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return logger.Init(cfg.LogLevel, cfg.LogFile)
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-file", "", "Write logs to this file instead of stderr")
	pf.String("service-uuid", "", "Service UUID both peers rendezvous on")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address")

	for key, flag := range map[string]string{
		config.KeyLogLevel:    "log-level",
		config.KeyLogFile:     "log-file",
		config.KeyServiceUUID: "service-uuid",
		config.KeyMetricsAddr: "metrics-addr",
	} {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
