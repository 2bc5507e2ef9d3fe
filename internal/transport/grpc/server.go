// Package grpcx поднимает служебный gRPC-порт шлюза: health и reflection.
package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName: имя в health-протоколе; "" тоже обслуживается.
const ServiceName = "vidcon.Gateway"

type Server struct {
	srv    *grpc.Server
	health *health.Server
}

func NewServer() *Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryUnaryInterceptor(),
			requestIDInterceptor(),
			loggingUnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(streamRecoveryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	s := &Server{srv: srv, health: hs}
	s.SetServing(false)
	return s
}

func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// WatchHealth переводит статус по результату ping хранилища.
func (s *Server) WatchHealth(ctx context.Context, ping func(context.Context) error, every time.Duration) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, every)
		defer cancel()
		err := ping(pctx)
		if err != nil {
			slog.Warn("store health check failed", "err", err)
		}
		s.SetServing(err == nil)
	}

	check()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
	slog.Info("grpc stopped")
}
