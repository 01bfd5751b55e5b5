// Command pgtrain trains an on-policy agent from a YAML experiment
// configuration.
//
//	pgtrain train --config ppo-cartpole.yaml --metrics-addr :9090
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	seed        uint64
	logLevel    string
	logJSON     bool
	metricsAddr string
	progress    bool

	rootCmd = &cobra.Command{
		Use:   "pgtrain",
		Short: "Train policy gradient agents",
		Long: `pgtrain trains PPO, A2C and VPG agents on the environments of
a pool, as described by a YAML experiment configuration.`,
		SilenceUsage: true,
	}

	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "Run the experiment described by a configuration file",
		Args:  cobra.NoArgs,
		RunE:  runTrain, // Defined in train.go
	}

	envsCmd = &cobra.Command{
		Use:   "envs",
		Short: "List the environments that can be configured",
		Args:  cobra.NoArgs,
		Run:   runEnvs, // Defined in train.go
	}
)

func init() {
	trainCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to the experiment configuration")
	trainCmd.MarkFlagRequired("config")
	trainCmd.Flags().Uint64Var(&seed, "seed", 0,
		"override the seed of the configuration")
	trainCmd.Flags().StringVar(&logLevel, "log-level", "",
		"override the log level (debug, info, warn, error)")
	trainCmd.Flags().BoolVar(&logJSON, "log-json", false,
		"log JSON instead of text")
	trainCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address")
	trainCmd.Flags().BoolVar(&progress, "progress", false,
		"draw a progress bar on stderr")

	rootCmd.AddCommand(trainCmd, envsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
