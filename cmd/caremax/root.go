package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
)

var (
	cfgViper     *viper.Viper
	cfgFile      string
	debug        bool
	debugDomains string
)

var rootCmd = &cobra.Command{
	Use:   "caremax",
	Short: "Multi-tenant customer support agent",
	Long: `caremax answers customer messages for many tenants with a configurable
agent pipeline, hands conversations over to human staff on request and
learns from how staff resolved them.

Configuration is read from caremax.yaml in the working directory (or --config)
and CAREMAX_* environment variables, e.g. CAREMAX_SERVER_LISTEN_ADDR.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			logx.SetDebug(true)
		}
		if debugDomains != "" {
			logx.SetDebugDomains(strings.Split(debugDomains, ","))
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./caremax.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&debugDomains, "debug-domains", "", "Comma-separated debug domains (e.g. agent,chat)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(consolidateNotesCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfgViper = viper.New()
	cfg, err := config.Load(cfgViper, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}
