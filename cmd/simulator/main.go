// Command simulator builds a multi-technology scenario from a parameter
// file, runs its event loop and prints per-node traffic counters.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/internal/observability"
	"github.com/signalsfoundry/multisystem-simulator/params"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

// options are the flags shared by run and serve.
type options struct {
	configPath  string
	until       string
	tick        string
	logLevel    string
	logFormat   string
	metricsAddr string
	grpcAddr    string

	// Tracing overrides; empty values keep the SIM_TRACING_* settings.
	traceExporter string
	traceRatio    string
	traceOutput   string
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fatal(err)
	}
	atexit.Exit(0)
}

// fatal reports err and exits through atexit so registered flushers run.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	atexit.Exit(1)
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "simulator",
		Short:         "Discrete-event simulator for multi-technology node scenarios.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(stdout), newServeCommand(stdout))
	return root
}

func addFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "parameter file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&opts.until, "until", "10s", "simulation time to run")
	cmd.Flags().StringVar(&opts.tick, "tick", "1s", "metrics update period in simulation time")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "text", "log format (text or json)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables")
	cmd.Flags().StringVar(&opts.traceExporter, "trace-exporter", "", "span exporter (none, stdout or otlp); empty uses SIM_TRACING_*")
	cmd.Flags().StringVar(&opts.traceRatio, "trace-sample-ratio", "", "fraction of traces kept, in [0, 1]; empty uses SIM_TRACING_SAMPLE_RATIO")
	cmd.Flags().StringVar(&opts.traceOutput, "trace-output", "", "file receiving stdout-exporter spans; empty means stderr")
	_ = cmd.MarkFlagRequired("config")
}

func newRunCommand(stdout io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the scenario, run it to completion and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New(logging.Config{Level: opts.logLevel, Format: opts.logFormat})
			collector, err := observability.NewSimCollector(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			if opts.metricsAddr != "" {
				srv := serveMetrics(opts.metricsAddr, collector, log)
				defer shutdownHTTP(srv)
			}
			_, err = runSimulation(cmd.Context(), opts, collector, stdout, log)
			return err
		},
	}
	addFlags(cmd, opts)
	return cmd
}

// runSimulation loads the parameter file, builds and runs the scenario and
// writes the summary to stdout.
func runSimulation(ctx context.Context, opts *options, collector *observability.SimCollector, stdout io.Writer, log logging.Logger) (*scenario, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, log = logging.WithRunLogger(ctx, log)

	until, err := timectrl.ParseDuration(opts.until)
	if err != nil {
		return nil, fmt.Errorf("--until %q: %w", opts.until, err)
	}
	tick, err := timectrl.ParseDuration(opts.tick)
	if err != nil {
		return nil, fmt.Errorf("--tick %q: %w", opts.tick, err)
	}

	flush, err := setupTracing(ctx, opts, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return nil, err
	}
	atexit.Register(flush)

	db, err := params.LoadFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	s, err := buildScenario(ctx, db, tick, collector, log)
	if err != nil {
		return nil, err
	}
	if err := s.start(ctx); err != nil {
		return nil, err
	}

	log.Info(ctx, "running simulation",
		logging.Int("nodes", len(s.nodes)),
		logging.String("until", until.String()))
	began := time.Now()
	s.run(until)
	collector.ObserveRun(time.Since(began))
	log.Info(ctx, "simulation complete",
		logging.String("sim_time", s.clock.Now().String()),
		logging.String("wall_time", time.Since(began).String()))

	return s, s.writeSummary(stdout)
}

// tracingConfig applies the --trace-* flags on top of base.
func tracingConfig(opts *options, base observability.TracingConfig) (observability.TracingConfig, error) {
	cfg := base
	if opts.traceExporter != "" {
		cfg.Exporter = opts.traceExporter
	}
	if opts.traceRatio != "" {
		ratio, err := strconv.ParseFloat(opts.traceRatio, 64)
		if err != nil {
			return cfg, fmt.Errorf("--trace-sample-ratio %q: %w", opts.traceRatio, err)
		}
		cfg.SampleRatio = ratio
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("tracing: %w", err)
	}
	return cfg, nil
}

// setupTracing installs the tracer provider for this run. The returned func
// flushes spans and closes --trace-output.
func setupTracing(ctx context.Context, opts *options, base observability.TracingConfig, log logging.Logger) (func(), error) {
	cfg, err := tracingConfig(opts, base)
	if err != nil {
		return nil, err
	}
	cfg.RunID = logging.RunIDFromContext(ctx)

	var out *os.File
	if opts.traceOutput != "" && !cfg.Disabled() {
		out, err = os.Create(opts.traceOutput)
		if err != nil {
			return nil, fmt.Errorf("--trace-output: %w", err)
		}
		cfg.Output = out
	}

	shutdown, err := observability.InitTracing(ctx, cfg, log)
	if err != nil {
		if out != nil {
			_ = out.Close()
		}
		return nil, err
	}
	return func() {
		observability.ShutdownWithTimeout(context.Background(), shutdown, log)
		if out != nil {
			_ = out.Close()
		}
	}, nil
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
