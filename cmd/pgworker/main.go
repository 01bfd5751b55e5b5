// Command pgworker steps one environment on behalf of a subprocess
// pool. It reads requests from stdin, writes replies to stdout and logs
// to stderr.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samuelfneumann/onpolicy/environment/envconfig"
	"github.com/samuelfneumann/onpolicy/ipc"
	"github.com/samuelfneumann/onpolicy/logging"
	"github.com/samuelfneumann/onpolicy/pool"
	"github.com/spf13/cobra"
)

var (
	envName   string
	seed      uint64
	maxSteps  int
	stepDelay time.Duration
	logLevel  string

	rootCmd = &cobra.Command{
		Use:          "pgworker",
		Short:        "Serve an environment to a subprocess pool",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runWorker,
	}
)

func init() {
	rootCmd.Flags().StringVar(&envName, "env", "", "environment name")
	rootCmd.MarkFlagRequired("env")
	rootCmd.Flags().Uint64Var(&seed, "seed", 0, "reset seed")
	rootCmd.Flags().IntVar(&maxSteps, "max-steps", 0,
		"episode horizon, 0 for the environment's own")
	rootCmd.Flags().DurationVar(&stepDelay, "step-delay", 0,
		"delay added to every step")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
}

func runWorker(cmd *cobra.Command, args []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "pgworker",
		Output:  os.Stderr,
	}).With(slog.String("env", envName))

	e, err := envconfig.Config{
		Name:      envconfig.EnvName(envName),
		MaxSteps:  maxSteps,
		StepDelay: stepDelay,
	}.Create()
	if err != nil {
		return err
	}

	// The pool kills its workers; SIGTERM only ends the serve loop early
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	return pool.Serve(ctx, e, seed, ipc.NewConn(os.Stdin, os.Stdout), logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
