package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsletter-agent/config"
	"github.com/mohammad-safakhou/newsletter-agent/internal/runtime"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "newsletter-agent",
		Short:         "Draft and deliver newsletters with an LLM agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(serveCMD(&cfgPath), migrateCMD(&cfgPath), draftCMD(&cfgPath), tokenCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

// setup loads config and the process logger.
func setup(cfgPath string) (*config.Config, *logrus.Logger) {
	cfg := config.LoadConfig(cfgPath)
	return cfg, runtime.NewLogger(cfg.General.LogLevel)
}
