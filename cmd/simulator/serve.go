package main

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/internal/observability"
)

// healthService is the gRPC health service name reported for the run.
const healthService = "simulator"

func newServeCommand(stdout io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scenario, then keep serving metrics and gRPC health until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			log := logging.New(logging.Config{Level: opts.logLevel, Format: opts.logFormat})
			lis, err := net.Listen("tcp", opts.grpcAddr)
			if err != nil {
				return err
			}
			return serve(ctx, opts, stdout, log, lis)
		},
	}
	addFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", ":50051", "TCP address of the gRPC health service")
	return cmd
}

// serve runs the scenario while health reports NOT_SERVING, then flips to
// SERVING and blocks until ctx is done.
func serve(ctx context.Context, opts *options, stdout io.Writer, log logging.Logger, lis net.Listener) error {
	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, collector, log)
		defer shutdownHTTP(srv)
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	log.Info(ctx, "starting gRPC health server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()
	defer server.GracefulStop()

	if _, err := runSimulation(ctx, opts, collector, stdout, log); err != nil {
		return err
	}
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	<-ctx.Done()
	log.Info(context.Background(), "shutting down simulator server")
	healthSrv.Shutdown()
	return nil
}
