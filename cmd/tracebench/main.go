// cmd/tracebench is the harness's command-line entry point (spec.md §6).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tracebench/tracebench/internal/config"
	"github.com/tracebench/tracebench/internal/driver"
	_ "github.com/tracebench/tracebench/internal/drivers/memory"
	_ "github.com/tracebench/tracebench/internal/drivers/postgres"
	"github.com/tracebench/tracebench/internal/logging"
	"github.com/tracebench/tracebench/internal/measurements"
	"github.com/tracebench/tracebench/internal/model"
	"github.com/tracebench/tracebench/internal/runner"
	"github.com/tracebench/tracebench/internal/workloadspec"
)

// CLIOptions holds the raw flag values, before validation and translation
// into a config.Run.
type CLIOptions struct {
	Load    bool
	Run     bool
	Threads int
	DBName  string

	PropertiesPath string
	Overrides      []string
	SpecPath       string
	ExperimentPath string

	NumShards int
	TotalOps  int64
	Rows      int64

	StatusEnabled bool
	Spin          bool

	MetricsAddr string
}

func main() {
	opts := &CLIOptions{}

	rootCmd := &cobra.Command{
		Use:   "tracebench",
		Short: "A graph-shaped key/value benchmarking harness",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(opts)
		},
	}

	rootCmd.Flags().BoolVar(&opts.Load, "load", false, "run the load phase")
	rootCmd.Flags().BoolVarP(&opts.Run, "run", "t", false, "run the benchmark phase")
	rootCmd.Flags().IntVar(&opts.Threads, "threads", 1, "worker count for load or reload")
	rootCmd.Flags().StringVar(&opts.DBName, "db", "", "registered driver name")
	rootCmd.Flags().StringVarP(&opts.PropertiesPath, "P", "P", "", "properties file (key=value)")
	rootCmd.Flags().StringArrayVarP(&opts.Overrides, "p", "p", nil, "properties override, key=value (repeatable)")
	rootCmd.Flags().StringVarP(&opts.SpecPath, "C", "C", "", "workload-spec file")
	rootCmd.Flags().StringVarP(&opts.ExperimentPath, "E", "E", "", "experiment file")
	rootCmd.Flags().IntVar(&opts.NumShards, "shards", config.DefaultNumShards, "NumShards (must be < 127)")
	rootCmd.Flags().Int64Var(&opts.TotalOps, "n", 0, "total_ops for the load phase")
	rootCmd.Flags().Int64Var(&opts.Rows, "rows", 0, "total edge rows expected by the reload step")
	rootCmd.Flags().BoolVarP(&opts.StatusEnabled, "s", "s", false, "enable status-line printing")
	rootCmd.Flags().BoolVar(&opts.Spin, "spin", false, "busy-wait instead of sleeping in the rate-paced worker")
	rootCmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(opts *CLIOptions) error {
	logger, err := logging.New(logging.Config{Level: "info", Format: "console", Output: "stdout"})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if opts.Load == opts.Run {
		return fmt.Errorf("exactly one of -load or -run/-t must be set")
	}
	if opts.DBName == "" || !driverRegistered(opts.DBName) {
		return fmt.Errorf("unknown or missing -db name %q (registered: %v)", opts.DBName, driver.Names())
	}
	if opts.NumShards <= 0 || opts.NumShards >= config.MaxShards {
		return fmt.Errorf("-shards must be in (0, %d)", config.MaxShards)
	}

	props, err := loadProperties(opts)
	if err != nil {
		return err
	}
	spec, err := loadWorkloadSpec(opts)
	if err != nil {
		return err
	}

	run := config.Run{
		Threads:          opts.Threads,
		DBName:           opts.DBName,
		PropertiesPath:   opts.PropertiesPath,
		Overrides:        opts.Overrides,
		WorkloadSpecPath: opts.SpecPath,
		ExperimentPath:   opts.ExperimentPath,
		NumShards:        opts.NumShards,
		TotalOps:         opts.TotalOps,
		Rows:             opts.Rows,
		StatusEnabled:    opts.StatusEnabled,
		Spin:             opts.Spin,
		OutputDir:        "final_results4",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("received shutdown signal, cancelling")
		cancel()
	}()

	if opts.Load {
		run.Phase = config.PhaseLoad
		return runner.LoadPhase(ctx, run, spec, props, logger)
	}

	run.Phase = config.PhaseRun
	experiments, err := loadExperiments(opts)
	if err != nil {
		return err
	}
	for _, e := range experiments {
		logger.Info("experiment", logging.Fields.Experiment(e.NumThreads, e.NumOps, e.TargetThroughput)...)
	}

	var meas *measurements.Measurements
	if opts.MetricsAddr != "" {
		meas = measurements.New(true)
		reg := prometheus.NewRegistry()
		reg.MustRegister(measurements.NewPrometheusCollector(meas))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: opts.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", err)
			}
		}()
		defer server.Close()
	}

	return runner.RunPhase(ctx, run, spec, experiments, props, logger, meas)
}

func driverRegistered(name string) bool {
	for _, n := range driver.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func loadProperties(opts *CLIOptions) (config.Properties, error) {
	props := config.Properties{}
	if opts.PropertiesPath != "" {
		f, err := os.Open(opts.PropertiesPath)
		if err != nil {
			return nil, fmt.Errorf("opening properties file: %w", err)
		}
		defer f.Close()
		parsed, err := config.ParseProperties(f)
		if err != nil {
			return nil, err
		}
		props = parsed
	}
	for _, kv := range opts.Overrides {
		if err := props.Override(kv); err != nil {
			return nil, err
		}
	}
	return props, nil
}

func loadWorkloadSpec(opts *CLIOptions) (*workloadspec.Config, error) {
	if opts.SpecPath == "" {
		return nil, fmt.Errorf("-C workload-spec file is required")
	}
	f, err := os.Open(opts.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("opening workload-spec file: %w", err)
	}
	defer f.Close()
	return workloadspec.Parse(f)
}

func loadExperiments(opts *CLIOptions) ([]model.ExperimentInfo, error) {
	if opts.ExperimentPath == "" {
		return nil, fmt.Errorf("-E experiment file is required for -run/-t")
	}
	f, err := os.Open(opts.ExperimentPath)
	if err != nil {
		return nil, fmt.Errorf("opening experiment file: %w", err)
	}
	defer f.Close()
	return config.ParseExperiments(f)
}
