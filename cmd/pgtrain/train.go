package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/samuelfneumann/onpolicy/environment/envconfig"
	"github.com/samuelfneumann/onpolicy/experiment"
	"github.com/samuelfneumann/onpolicy/logging"
	"github.com/samuelfneumann/onpolicy/metrics"
	"github.com/spf13/cobra"
)

func runTrain(cmd *cobra.Command, args []string) error {
	c, err := experiment.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		c.Seed = seed
	}
	if logLevel != "" {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		c.Logging.Level = level
	}
	if logJSON {
		c.Logging.JSON = true
	}
	logger := logging.New(c.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	e, err := experiment.Build(c, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		m, err := metrics.New(reg)
		if err != nil {
			return err
		}
		m.Attach(e.OnPolicy)

		srv := serveMetrics(metricsAddr, reg, logger)
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(),
				5*time.Second)
			defer cancel()
			srv.Shutdown(shutdown)
		}()
	}
	if progress {
		e.AddPostLearn(algorithm.ProgressHook(os.Stderr, e.Schedule()))
	}

	logger.Info("training",
		slog.String("config", configPath),
		slog.String("agent", c.Agent.Kind.String()),
		slog.String("env", string(c.Pool.Env.Name)),
		slog.Int("envs", c.Pool.NumEnvs),
		slog.Uint64("seed", c.Seed),
	)
	start := time.Now()
	if err := e.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("training interrupted")
		}
		return err
	}
	logger.Info("training finished",
		slog.Int("steps", e.Schedule().Steps()),
		slog.Int("iterations", e.Schedule().Rollouts()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// serveMetrics serves the metrics of reg on addr until shut down
func serveMetrics(addr string, reg *prometheus.Registry,
	logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	return srv
}

func runEnvs(cmd *cobra.Command, args []string) {
	for _, name := range envconfig.Names() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
}
