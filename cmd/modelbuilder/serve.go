package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/internal/observability"
)

// builderService is the health service name that tracks whether a build is
// running.
const builderService = "skymodel.ModelBuilder"

const buildIDMetadataKey = "x-build-id"

func serveMetrics(addr string, collector *observability.BuildCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// healthEndpoint is a gRPC server carrying only the standard health service.
type healthEndpoint struct {
	server *grpc.Server
	health *health.Server
	addr   net.Addr
}

func serveHealth(addr string, collector *observability.RPCCollector, log logging.Logger) (*healthEndpoint, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for gRPC health on %s: %w", addr, err)
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			buildIDUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus(builderService, healthpb.HealthCheckResponse_NOT_SERVING)

	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(context.Background(), "gRPC health server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving gRPC health", logging.String("addr", lis.Addr().String()))

	return &healthEndpoint{server: server, health: hs, addr: lis.Addr()}, nil
}

// SetBuilding reports the builder service as SERVING while a build runs.
func (h *healthEndpoint) SetBuilding(running bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(builderService, status)
}

func (h *healthEndpoint) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}

// buildIDUnaryServerInterceptor attaches a logger annotated with the method
// and, when the caller sent one, the build id it is asking about.
func buildIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(buildIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithBuildID(ctx, vals[0])
			}
		}
		ctx, rpcLog := logging.WithBuildLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, rpcLog)
		rpcLog.Debug(ctx, "rpc received")
		return handler(ctx, req)
	}
}
