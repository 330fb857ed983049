// Package cmd contains the CLI commands for kpt
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Global vars needed for cobra CLI
var (
	cfgFile string
	logger  *logrus.Logger
)

// rootCmd represents the base command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:   "kpt",
	Short: "KPI Tree - schedule and incrementally aggregate KPI dependency trees",
	Long: `kpt computes the KPIs of entity types. The KPI declarations of an
entity type form a dependency tree that is resolved into a processing
order, loaded incrementally from ClickHouse, aggregated per granularity
and written back.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level overriding the config (debug, info, warn, error)")

	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "./config.yaml"
	}
}

// setLogLevel applies the --log-level flag, or the configured level when it is unset
func setLogLevel(configured string) error {
	level := configured

	if flag, err := rootCmd.PersistentFlags().GetString("log-level"); err == nil && flag != "" {
		level = flag
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	logger.SetLevel(parsed)

	return nil
}
